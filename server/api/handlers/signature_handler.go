package handlers

import (
	"net/http"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/signatures"
	"github.com/gin-gonic/gin"
)

// SignatureHandler handles signing and verification
type SignatureHandler struct {
	logger           logging.Logger
	signatureService signatures.SignatureService
}

// NewSignatureHandler creates a new signature handler
func NewSignatureHandler(logger logging.Logger, signatureService signatures.SignatureService) *SignatureHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &SignatureHandler{
		logger:           logger,
		signatureService: signatureService,
	}
}

type SignRequest struct {
	Data    []byte     `json:"data" binding:"required"`
	Expires *time.Time `json:"expires"`
}

type SignResponse struct {
	Signature string `json:"signature"`
	Existed   bool   `json:"existed"`
}

type VerifyRequest struct {
	Signature string `json:"signature" binding:"required"`
	Data      []byte `json:"data" binding:"required"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

type SignatureResponse struct {
	ID            string     `json:"id"`
	Checksum      string     `json:"checksum"`
	Algorithm     string     `json:"algorithm"`
	Expires       *time.Time `json:"expires,omitempty"`
	Verifications int        `json:"verifications"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Sign handles POST /api/signatures
func (h *SignatureHandler) Sign(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	result, err := h.signatureService.Sign(c.Request.Context(), caller, req.Data, req.Expires)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Existed {
		status = http.StatusOK
	}
	c.JSON(status, SignResponse{Signature: result.Signature, Existed: result.Existed})
}

// Verify handles POST /api/signatures/verify
func (h *SignatureHandler) Verify(c *gin.Context) {
	if _, ok := callerOf(c, h.logger); !ok {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	verified, err := h.signatureService.Verify(c.Request.Context(), req.Signature, req.Data)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, VerifyResponse{Verified: verified})
}

// ListSignatures handles GET /api/signatures
func (h *SignatureHandler) ListSignatures(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	records, err := h.signatureService.ListSignatures(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]SignatureResponse, 0, len(records))
	for _, record := range records {
		response = append(response, SignatureResponse{
			ID:            record.ID,
			Checksum:      record.Checksum,
			Algorithm:     record.Algorithm,
			Expires:       record.Expires,
			Verifications: record.Verifications,
			CreatedAt:     record.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/circles"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	"github.com/gin-gonic/gin"
)

// CircleHandler handles circles, their trustees and key rotation
type CircleHandler struct {
	logger        logging.Logger
	circleService circles.CircleService
}

// NewCircleHandler creates a new circle handler
func NewCircleHandler(logger logging.Logger, circleService circles.CircleService) *CircleHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &CircleHandler{
		logger:        logger,
		circleService: circleService,
	}
}

type CircleResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	KeyReference string    `json:"key_reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TrusteeResponse struct {
	ID           string    `json:"id"`
	CircleID     string    `json:"circle_id"`
	MemberID     string    `json:"member_id"`
	AccountName  string    `json:"account_name,omitempty"`
	Level        string    `json:"level"`
	GenerationID string    `json:"generation_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type GenerationResponse struct {
	ID        string     `json:"id"`
	Number    int        `json:"number"`
	Algorithm string     `json:"algorithm"`
	Status    string     `json:"status"`
	Expires   *time.Time `json:"expires,omitempty"`
}

type CreateCircleRequest struct {
	Name         string `json:"name" binding:"required"`
	KeyReference string `json:"key_reference"`
}

type AddTrusteeRequest struct {
	MemberID string `json:"member_id" binding:"required"`
	Level    string `json:"level" binding:"required"`
}

type AlterTrustLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func toCircleResponse(circle *circles.Circle) CircleResponse {
	return CircleResponse{
		ID:           circle.ID,
		Name:         circle.Name,
		KeyReference: circle.KeyReference,
		CreatedAt:    circle.CreatedAt,
		UpdatedAt:    circle.UpdatedAt,
	}
}

func toTrusteeResponse(trustee *circles.Trustee) TrusteeResponse {
	return TrusteeResponse{
		ID:           trustee.ID,
		CircleID:     trustee.CircleID,
		MemberID:     trustee.MemberID,
		AccountName:  trustee.AccountName,
		Level:        trustee.Level.String(),
		GenerationID: trustee.GenerationID,
		CreatedAt:    trustee.CreatedAt,
	}
}

// CreateCircle handles POST /api/circles
func (h *CircleHandler) CreateCircle(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req CreateCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	circle, err := h.circleService.CreateCircle(c.Request.Context(), caller, req.Name, req.KeyReference)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toCircleResponse(circle))
}

// ListCircles handles GET /api/circles
func (h *CircleHandler) ListCircles(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	list, err := h.circleService.ListCircles(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]CircleResponse, 0, len(list))
	for _, circle := range list {
		response = append(response, toCircleResponse(circle))
	}
	c.JSON(http.StatusOK, response)
}

// DeleteCircle handles DELETE /api/circles/:id
func (h *CircleHandler) DeleteCircle(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.circleService.DeleteCircle(c.Request.Context(), caller, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateCircleKey handles POST /api/circles/:id/rotate
func (h *CircleHandler) RotateCircleKey(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	generation, err := h.circleService.RotateCircleKey(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, GenerationResponse{
		ID:        generation.ID,
		Number:    generation.Number,
		Algorithm: string(generation.Algorithm),
		Status:    string(generation.Status),
		Expires:   generation.Expires,
	})
}

// ListTrustees handles GET /api/circles/:id/trustees
func (h *CircleHandler) ListTrustees(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	list, err := h.circleService.ListTrustees(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]TrusteeResponse, 0, len(list))
	for _, trustee := range list {
		response = append(response, toTrusteeResponse(trustee))
	}
	c.JSON(http.StatusOK, response)
}

// AddTrustee handles POST /api/circles/:id/trustees
func (h *CircleHandler) AddTrustee(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req AddTrusteeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}
	level, err := trust.ParseLevel(req.Level)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	trustee, err := h.circleService.AddTrustee(c.Request.Context(), caller, c.Param("id"), req.MemberID, level)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toTrusteeResponse(trustee))
}

// AlterTrustLevel handles PUT /api/circles/:id/trustees/:memberId
func (h *CircleHandler) AlterTrustLevel(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req AlterTrustLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}
	level, err := trust.ParseLevel(req.Level)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.circleService.AlterTrustLevel(c.Request.Context(), caller, c.Param("id"), c.Param("memberId"), level); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveTrustee handles DELETE /api/circles/:id/trustees/:memberId
func (h *CircleHandler) RemoveTrustee(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.circleService.RemoveTrustee(c.Request.Context(), caller, c.Param("id"), c.Param("memberId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/HaugrNet/eds-sub006/server/api/middleware"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// MemberHandler handles member management, sessions and the caller's own keys
type MemberHandler struct {
	logger        logging.Logger
	memberService members.MemberService
	tokens        *middleware.TokenIssuer
}

// NewMemberHandler creates a new member handler
func NewMemberHandler(logger logging.Logger, memberService members.MemberService, tokens *middleware.TokenIssuer) *MemberHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &MemberHandler{
		logger:        logger,
		memberService: memberService,
		tokens:        tokens,
	}
}

// MemberResponse is a member without its key material
type MemberResponse struct {
	ID          string    `json:"id"`
	AccountName string    `json:"account_name"`
	Role        string    `json:"role"`
	PublicKey   string    `json:"public_key"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toMemberResponse(m *members.Member) MemberResponse {
	return MemberResponse{
		ID:          m.ID,
		AccountName: m.AccountName,
		Role:        string(m.Role),
		PublicKey:   m.PublicKey,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type CreateMemberRequest struct {
	AccountName string `json:"account_name" binding:"required"`
	Role        string `json:"role" binding:"required"`
	Credential  string `json:"credential" binding:"required"`
}

type ChangeCredentialRequest struct {
	Credential string `json:"credential" binding:"required"`
}

type SessionResponse struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// CreateMember handles POST /api/members
func (h *MemberHandler) CreateMember(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	credential := []byte(req.Credential)
	defer memguard.WipeBytes(credential)

	member, err := h.memberService.CreateMember(c.Request.Context(), caller, members.CreateMemberRequest{
		AccountName: req.AccountName,
		Role:        members.Role(req.Role),
		Credential:  credential,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, toMemberResponse(member))
}

// ListMembers handles GET /api/members
func (h *MemberHandler) ListMembers(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	list, err := h.memberService.ListMembers(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]MemberResponse, 0, len(list))
	for _, m := range list {
		response = append(response, toMemberResponse(m))
	}
	c.JSON(http.StatusOK, response)
}

// GetMember handles GET /api/members/:id
func (h *MemberHandler) GetMember(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	member, err := h.memberService.GetMember(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toMemberResponse(member))
}

// DeleteMember handles DELETE /api/members/:id
func (h *MemberHandler) DeleteMember(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.memberService.DeleteMember(c.Request.Context(), caller, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangeCredential handles PUT /api/members/self/credential
func (h *MemberHandler) ChangeCredential(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req ChangeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	credential := []byte(req.Credential)
	defer memguard.WipeBytes(credential)

	if err := h.memberService.ChangeCredential(c.Request.Context(), caller, credential); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateKeyPair handles POST /api/members/self/keys
func (h *MemberHandler) RotateKeyPair(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.memberService.RotateKeyPair(c.Request.Context(), caller); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Login handles POST /api/sessions
func (h *MemberHandler) Login(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	session, expires, err := h.memberService.Login(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(caller.AccountName, session, expires)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{Token: token, Expires: expires})
}

// Logout handles DELETE /api/sessions
func (h *MemberHandler) Logout(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.memberService.Logout(c.Request.Context(), caller); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package handlers

import (
	"net/http"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/masterkey"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// MasterKeyHandler handles unlocking and rotating the master key
type MasterKeyHandler struct {
	logger           logging.Logger
	masterKeyService masterkey.MasterKeyService
}

// NewMasterKeyHandler creates a new master key handler
func NewMasterKeyHandler(logger logging.Logger, masterKeyService masterkey.MasterKeyService) *MasterKeyHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &MasterKeyHandler{
		logger:           logger,
		masterKeyService: masterKeyService,
	}
}

// UnlockRequest holds either the secret itself or a URL to fetch it from
type UnlockRequest struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type UnlockResponse struct {
	Result string `json:"result"`
}

// Unlock handles POST /api/master-key/unlock
func (h *MasterKeyHandler) Unlock(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	inline := []byte(req.Secret)
	defer memguard.WipeBytes(inline)

	result, err := h.masterKeyService.Unlock(c.Request.Context(), masterkey.UnlockRequest{
		Caller: caller,
		Secret: masterkey.BootstrapSecret{Inline: inline, URL: req.URL},
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, UnlockResponse{Result: string(result)})
}

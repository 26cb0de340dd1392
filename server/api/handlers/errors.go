package handlers

import (
	"net/http"

	"github.com/HaugrNet/eds-sub006/server/api/middleware"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/gin-gonic/gin"
)

// statusOf maps a service error onto the HTTP status it is reported with
func statusOf(err error) int {
	switch {
	case failures.IsValidationError(err):
		return http.StatusBadRequest
	case failures.IsAuthenticationError(err):
		return http.StatusUnauthorized
	case failures.IsAuthorizationError(err):
		return http.StatusForbidden
	case failures.IsIdentificationError(err):
		return http.StatusNotFound
	case failures.IsIllegalActionError(err):
		return http.StatusConflict
	case failures.IsVerificationError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger logging.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		// crypto and storage failures are not rendered to clients
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func respondBadRequest(c *gin.Context, logger logging.Logger, err error) {
	logger.Warn("Invalid request body", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

// callerOf returns the caller set by the auth middleware, answering 500 if there is none
func callerOf(c *gin.Context, logger logging.Logger) (members.Caller, bool) {
	caller, ok := middleware.Caller(c)
	if !ok {
		logger.Error("Caller not found in context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return members.Caller{}, false
	}
	return caller, true
}

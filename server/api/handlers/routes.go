package handlers

import (
	"net/http"

	"github.com/HaugrNet/eds-sub006/server/api/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers groups every handler served by the API
type Handlers struct {
	MasterKey *MasterKeyHandler
	Members   *MemberHandler
	Circles   *CircleHandler
	Data      *DataHandler
	Signature *SignatureHandler
}

// SetupRoutes configures the HTTP routes. limiter guards the endpoints that take raw credentials.
func SetupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware, limiter *middleware.RateLimiter, h Handlers) {
	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "trustcircles",
		})
	})

	api := router.Group("/api")
	api.Use(authMiddleware.RequireAuth())

	api.POST("/master-key/unlock", limiter.Limit(), h.MasterKey.Unlock)

	api.POST("/sessions", limiter.Limit(), h.Members.Login)
	api.DELETE("/sessions", h.Members.Logout)

	api.POST("/members", h.Members.CreateMember)
	api.GET("/members", h.Members.ListMembers)
	api.PUT("/members/self/credential", h.Members.ChangeCredential)
	api.POST("/members/self/keys", h.Members.RotateKeyPair)
	api.GET("/members/:id", h.Members.GetMember)
	api.DELETE("/members/:id", h.Members.DeleteMember)

	api.POST("/circles", h.Circles.CreateCircle)
	api.GET("/circles", h.Circles.ListCircles)
	api.DELETE("/circles/:id", h.Circles.DeleteCircle)
	api.POST("/circles/:id/rotate", h.Circles.RotateCircleKey)
	api.GET("/circles/:id/trustees", h.Circles.ListTrustees)
	api.POST("/circles/:id/trustees", h.Circles.AddTrustee)
	api.PUT("/circles/:id/trustees/:memberId", h.Circles.AlterTrustLevel)
	api.DELETE("/circles/:id/trustees/:memberId", h.Circles.RemoveTrustee)

	api.GET("/circles/:id/data", h.Data.ListData)
	api.POST("/circles/:id/data", h.Data.StoreData)
	api.GET("/circles/:id/data/:dataId", h.Data.ReadData)
	api.DELETE("/circles/:id/data/:dataId", h.Data.DeleteData)

	api.POST("/signatures", h.Signature.Sign)
	api.POST("/signatures/verify", h.Signature.Verify)
	api.GET("/signatures", h.Signature.ListSignatures)
}

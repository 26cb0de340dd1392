//go:build release
// +build release

package main

import (
	"github.com/HaugrNet/eds-sub006/server/core/config"
	"github.com/gin-gonic/gin"
)

// initializeGin sets up Gin in release mode for production builds
func initializeGin(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Without configured proxies no forwarding header is trusted
	if len(cfg.TrustedProxies) > 0 {
		router.SetTrustedProxies(cfg.TrustedProxies)
	} else {
		router.SetTrustedProxies(nil)
	}

	return router
}

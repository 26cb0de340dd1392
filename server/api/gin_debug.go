//go:build !release
// +build !release

package main

import (
	"github.com/HaugrNet/eds-sub006/server/core/config"
	"github.com/gin-gonic/gin"
)

// initializeGin sets up Gin in debug mode for development builds
func initializeGin(_ *config.Config) *gin.Engine {
	// Gin will be in debug mode by default
	return gin.New()
}

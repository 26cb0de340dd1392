package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Wipes every enclave and locked buffer once the server is done
		defer memguard.Purge()

		logger := logging.CreateLogger(logging.ParseLogLevel(cfg.LogLevel), cfg.LogPath, "trustcircles")
		logger.Info("Starting trustcircles server", "port", cfg.WebPort)

		srv, err := newServer(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize server", "error", err)
			return err
		}
		defer srv.Close()

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.WebAddr, cfg.WebPort),
			Handler:           srv.router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down server", "error", err)
			}
		}()

		logger.Info("Server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return err
		}
		logger.Info("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

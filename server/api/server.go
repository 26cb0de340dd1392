package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/HaugrNet/eds-sub006/server/api/handlers"
	"github.com/HaugrNet/eds-sub006/server/api/middleware"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/auth"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/circles"
	"github.com/HaugrNet/eds-sub006/server/core/config"
	"github.com/HaugrNet/eds-sub006/server/core/data"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/masterkey"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/HaugrNet/eds-sub006/server/core/notifications"
	"github.com/HaugrNet/eds-sub006/server/core/signatures"
	"github.com/gin-gonic/gin"
)

const jwtSecretLength = 32

type server struct {
	db     *sql.DB
	router *gin.Engine
}

func (s *server) Close() error {
	return s.db.Close()
}

// newServer opens the database, brings up the master key and wires every service behind the router
func newServer(ctx context.Context, cfg *config.Config, logger logging.Logger) (*server, error) {
	conn, err := db.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	router, err := buildRouter(ctx, conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &server{db: conn, router: router}, nil
}

func buildRouter(ctx context.Context, conn *sql.DB, cfg *config.Config, logger logging.Logger) (*gin.Engine, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	catalog, err := encryption.NewCatalog(cfg.Algorithms.Defaults())
	if err != nil {
		return nil, err
	}
	engine := encryption.NewCryptoEngine(catalog, cfg.EngineSettings())

	// Repositories, in foreign key order
	settingsRepo, err := masterkey.NewSQLiteSettingsRepository(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings repository: %w", err)
	}
	memberRepo, err := members.NewSQLiteMemberRepository(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create member repository: %w", err)
	}
	circleRepo, err := circles.NewSQLiteCircleRepository(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create circle repository: %w", err)
	}
	dataRepo, err := data.NewSQLiteDataRepository(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create data repository: %w", err)
	}
	signatureRepo, err := signatures.NewSQLiteSignatureRepository(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature repository: %w", err)
	}

	// Master key
	bootstrapper := masterkey.NewBootstrapper(logger, masterkey.NewHTTPSecretFetcher(cfg.SecretFetchTimeout()), settingsRepo)
	raw, provenance, err := bootstrapper.Startup(ctx, []byte(cfg.DefaultMasterSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to obtain master key secret: %w", err)
	}
	masterKey, err := engine.DeriveMasterKey(catalog.Defaults().Symmetric, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	manager := masterkey.NewManager(engine, masterKey, provenance)
	logger.Info("Master key ready", "provenance", provenance)

	// Notifications
	authNotifier := notifications.NopAuthNotifier
	securityNotifier := notifications.NopSecurityNotifier
	if cfg.SMTP.Enabled {
		sender := notifications.NewSmtpSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		authNotifier = notifications.NewEmailAuthNotifier(notifications.AuthNotificationSettings{
			Recipient:     cfg.SMTP.Recipient,
			MinInterval:   cfg.NotifyInterval(),
			LockoutWindow: cfg.LockoutWindow(),
		}, sender, logger)
		securityNotifier = notifications.NewEmailSecurityNotifier(notifications.SecurityNotificationSettings{
			Recipient:   cfg.SMTP.Recipient,
			MinInterval: cfg.NotifyInterval(),
		}, sender, logger)
	}

	// Services
	vault := members.NewVault(engine, manager)
	tracker := auth.NewMemoryFailureTracker(auth.LockoutSettings{
		Threshold:  cfg.LockoutThreshold,
		TimeWindow: cfg.LockoutWindow(),
	})
	authenticator := members.NewAuthenticator(logger, memberRepo, vault, tracker, authNotifier)

	circleService := circles.NewCircleService(logger, circleRepo, memberRepo, authenticator, vault, engine, securityNotifier, circles.CircleSettings{
		RotateOnRemoval: cfg.RotateOnRemoval,
		GracePeriod:     cfg.GracePeriod(),
	})
	memberService := members.NewMemberService(logger, memberRepo, vault, engine, authenticator, circleService, members.MemberSettings{
		AdminAccountName: cfg.AdminAccountName,
		SessionLifetime:  cfg.SessionLifetime(),
	})
	masterKeyService := masterkey.NewMasterKeyService(logger, manager, bootstrapper, engine, vault, memberRepo, authenticator, securityNotifier, cfg.AdminAccountName)
	signatureService := signatures.NewSignatureService(logger, signatureRepo, authenticator, vault, engine)
	dataService := data.NewDataService(logger, dataRepo, circleService, engine)

	// Transport
	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		logger.Warn("No JWT secret configured, session tokens will not survive a restart")
		jwtSecret = make([]byte, jwtSecretLength)
		if _, err := io.ReadFull(rand.Reader, jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	tokens := middleware.NewTokenIssuer(jwtSecret)
	authMiddleware := middleware.NewAuthMiddleware(logger, tokens, memberService)

	router := initializeGin(cfg)
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	limiter := middleware.NewRateLimiter(logger, cfg.CredentialRequestsPerMinute, time.Hour)

	handlers.SetupRoutes(router, authMiddleware, limiter, handlers.Handlers{
		MasterKey: handlers.NewMasterKeyHandler(logger, masterKeyService),
		Members:   handlers.NewMemberHandler(logger, memberService, tokens),
		Circles:   handlers.NewCircleHandler(logger, circleService),
		Data:      handlers.NewDataHandler(logger, dataService),
		Signature: handlers.NewSignatureHandler(logger, signatureService),
	})

	return router, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/handler"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/mailer"
	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/repository"
	"github.com/mailchymp/mailchymp/internal/router"
	"github.com/mailchymp/mailchymp/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting mailchymp server")

	// Background work lives until shutdown
	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	// Connect to PostgreSQL
	db, err := database.NewPostgres(appCtx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	gmailRepo := repository.NewGmailAccountRepository(db)
	listRepo := repository.NewListRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	sendLogRepo := repository.NewSendLogRepository(db)

	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	// Gmail transport and consent flow share one OAuth client
	gmailCfg := mailer.GmailConfig{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RedirectURL:  cfg.Gmail.RedirectURL,
	}
	transport := mailer.NewGmailTransport(gmailCfg)
	connector := mailer.NewGmailConnector(gmailCfg)

	// Google sign-in shares the Gmail OAuth client id
	var googleVerifier service.GoogleTokenVerifier
	if cfg.Gmail.ClientID != "" {
		v, err := auth.NewGoogleVerifier(appCtx, cfg.Gmail.ClientID, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize google sign-in")
		}
		googleVerifier = v
	} else {
		log.Warn().Msg("gmail client id not set, google sign-in disabled")
	}

	// Initialize services
	authSvc := service.NewAuthService(userRepo, tokenSvc, googleVerifier, rdb, auditRepo, cfg, log)
	gmailSvc := service.NewGmailService(gmailRepo, connector, transport, rdb, auditRepo, log)
	listSvc := service.NewListService(listRepo, log)

	dispatcher := service.NewDispatcher(campaignRepo, sendLogRepo, listRepo, gmailSvc, transport, cfg, log)
	campaignSvc := service.NewCampaignService(campaignRepo, listRepo, gmailSvc, dispatcher, auditRepo, cfg, log)
	dashboardSvc := service.NewDashboardService(campaignRepo, sendLogRepo, log)
	trackingSvc := service.NewTrackingService(sendLogRepo, log)

	sweeper := service.NewSweeper(campaignRepo, sendLogRepo, cfg, log)
	scheduler := service.NewScheduler(campaignRepo, dispatcher, sweeper, cfg, log)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(appCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
	} else {
		log.Warn().Msg("scheduler disabled, scheduled campaigns will not be sent")
	}

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, handler.Services{
		Auth:      authSvc,
		Gmail:     gmailSvc,
		Lists:     listSvc,
		Campaigns: campaignSvc,
		Dashboard: dashboardSvc,
		Tracking:  trackingSvc,
	})

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, cfg, tokenSvc, authSvc)

	// Create HTTP server. Sends run synchronously inside the request, so
	// the write timeout is generous.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.Server.TLS.Enabled).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Let a running tick finish its pass; the sweep recovers anything cut off
	if cfg.Scheduler.Enabled {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn().Msg("scheduler did not stop in time")
		}
	}
	stopApp()

	log.Info().Msg("server stopped")
}

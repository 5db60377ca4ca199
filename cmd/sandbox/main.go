// Command sandbox serves the in-memory attendance backend test double for local demos and
// end-to-end runs of the scan agent. It refuses to start with production settings.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logger"
	"qrattend/internal/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if cfg.IsProduction() {
		log.Fatal().Msg("the sandbox backend must not run with production settings")
	}

	backend := sandbox.New(sandbox.Config{
		SigningKey:     cfg.JWTSigningKey,
		Issuer:         cfg.JWTIssuer,
		AccessTTL:      cfg.AccessTTL,
		RefreshTTL:     cfg.RefreshTTL,
		DefaultRadiusM: cfg.SandboxRadiusM,
	})
	if cfg.SandboxFixtures != "" {
		fixtures, err := sandbox.LoadFixtures(cfg.SandboxFixtures)
		if err != nil {
			log.Fatal().Err(err).Msg("fixtures")
		}
		backend.Load(fixtures)
		log.Info().Int("sessions", len(fixtures.Sessions)).Int("students", len(fixtures.Enrollments)).Msg("fixtures loaded")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(logger.Component("http")))
	backend.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.SandboxPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.SandboxPort).Msg("sandbox backend listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
}

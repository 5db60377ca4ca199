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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"qrattend/internal/apiclient"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/geo"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/journal"
	"qrattend/internal/logger"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/scan"
	"qrattend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("scan agent failed")
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var redisClient *store.Redis
	if cfg.CredentialBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	creds, err := credentialStore(cfg, redisClient)
	if err != nil {
		return err
	}
	api := apiclient.New(cfg.APIBaseURL, cfg.HTTPTimeout)
	api.MarkPath = cfg.MarkPath
	api.RefreshPath = cfg.RefreshPath
	guard := auth.NewGuard(creds, api).WithObserver(m)

	probe := geo.NewProbe(locator(cfg), cfg.GeoTimeout)
	submitter := attendance.NewSubmitter(probe, guard, api, cfg.PayloadField).WithRecorder(m)

	camera, err := openCamera(cfg)
	if err != nil {
		return err
	}
	policy, err := scan.ParsePolicy(cfg.ScanRetryPolicy)
	if err != nil {
		return err
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	} else {
		q = queue.NewInMemory(64)
	}

	var repo *attendance.Repository
	db, err := store.NewDB(ctx, cfg.JournalDriver, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("journal database not reachable, attempt history disabled")
	} else {
		defer db.Close()
		repo = attendance.NewRepository(db.Client)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}

	sinks := scan.MultiSink{scan.SinkFunc(announce)}
	switch {
	case cfg.QueueBackend == "redis":
		sinks = append(sinks, queue.NewOutcomeSink(q))
	case repo != nil:
		// The in-memory queue only reaches consumers in this process.
		sinks = append(sinks, queue.NewOutcomeSink(q))
		go func() {
			if _, err := journal.NewConsumer(q, repo).Run(ctx); err != nil {
				log.Error().Err(err).Msg("embedded journal stopped")
			}
		}()
	}

	sched := scan.NewTimerScheduler()
	session := scan.NewSession(camera, submitter, sched, sinks, scan.Options{
		Interval:   cfg.ScanInterval,
		RetryDelay: cfg.ScanRetryDelay,
		Policy:     policy,
		Metrics:    m,
	})

	h := handler.New(ctx, session, sched, guard, cfg.CameraFacingMode).
		WithCheck("backend", api.Health).
		WithMetrics(reg)
	if redisClient != nil {
		h.WithCheck("redis", redisClient.Check)
	}
	if repo != nil {
		h.WithHistory(repo).WithCheck("journal", db.Check)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(logger.Component("http"), "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, httpmiddleware.ByClientIPAndRoute).GinMiddleware())
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("backend", cfg.APIBaseURL).Stringer("policy", policy).Msg("scan agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down scan agent")

	session.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("scan agent exited")
	return nil
}

func credentialStore(cfg config.App, redisClient *store.Redis) (auth.Store, error) {
	switch cfg.CredentialBackend {
	case "file":
		return auth.NewFileStore(cfg.CredentialFile), nil
	case "redis":
		return auth.NewRedisStore(redisClient.Client, cfg.CredentialPrefix), nil
	case "memory":
		return auth.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
}

func locator(cfg config.App) geo.Locator {
	if cfg.LocatorURL != "" {
		return geo.NewHTTPLocator(cfg.LocatorURL)
	}
	return geo.StaticLocator{Coords: geo.Coordinates{Latitude: cfg.GeoLatitude, Longitude: cfg.GeoLongitude}}
}

func openCamera(cfg config.App) (scan.Camera, error) {
	switch {
	case cfg.CameraURL != "":
		return scan.NewSnapshotCamera(cfg.CameraURL, cfg.HTTPTimeout), nil
	case cfg.CameraDir != "":
		return &scan.DirCamera{Dir: cfg.CameraDir, Loop: cfg.CameraLoop}, nil
	}
	return nil, errors.New("no camera configured: set CAMERA_URL or CAMERA_DIR")
}

// announce is the operator-facing line for every outcome.
func announce(o attendance.Outcome) {
	ev := log.Info()
	if !o.OK() {
		ev = log.Warn()
	}
	ev.Str("attempt_id", o.AttemptID).Str("outcome", o.Kind.String()).Msg(o.Display())
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"absensi/internal/app"
	"absensi/internal/attendance"
	"absensi/internal/blob"
	"absensi/internal/config"
	"absensi/internal/handler"
	"absensi/internal/httpmiddleware"
	"absensi/internal/logging"
	"absensi/internal/realtime"
)

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Env)
	defer func() { _ = logger.Sync() }()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	// Reload when another process (absensictl, a second replica) commits.
	unwatch, err := rt.Store.Watch(ctx)
	if err != nil {
		logger.Warn("change watch unavailable", zap.Error(err))
	} else {
		defer unwatch()
	}

	codec := blob.NewCodec(cfg.MaxUploadBytes())
	previews := blob.NewPreviews(codec, []byte(cfg.PreviewSecret), cfg.PreviewTTL)
	go previews.Run(ctx, time.Minute)

	hub := realtime.NewHub(logger)
	defer hub.Close()
	unsubscribe := rt.Store.Subscribe(hub.NotifyChange)
	defer unsubscribe()

	h := handler.New(handler.Deps{
		Store:     rt.Store,
		Submit:    attendance.NewSubmissionController(rt.Store, codec, previews, logger),
		Admin:     rt.Admin,
		Previews:  previews,
		Logger:    logger,
		Location:  cfg.Location(),
		MaxUpload: cfg.MaxUploadBytes() + 1<<20,
	})

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Sweep()
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, "/healthz", "/metrics", "/ws"))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(limiter.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		health := rt.Health(c.Request.Context())
		status := http.StatusOK
		for _, ok := range health {
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{"status": "ok", "checks": health, "records": rt.Store.Len(), "ws_clients": hub.Count()})
	})

	r.GET("/ws", realtime.ServeWs(hub, logger, func() realtime.ChangePayload {
		return realtime.ChangePayload{Count: rt.Store.Len()}
	}))

	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

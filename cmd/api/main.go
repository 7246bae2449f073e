// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/convert-forge/internal/api"
	"github.com/yourusername/convert-forge/internal/bootstrap"
	"github.com/yourusername/convert-forge/internal/config"
	"github.com/yourusername/convert-forge/internal/jobs"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := bootstrap.NewLogger(cfg, "convert-forge-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}

	// 同一プロセスのワーカーはローカルハンドラー、別プロセスのワーカーは Redis 経由で通知される
	if cfg.EmbedWorkers {
		rt.Manager.Subscribe(logCompleted(logger), logFailed(logger))
		rt.Manager.StartWorkers()
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("embedded workers started")
	} else {
		go func() {
			err := rt.Events.Listen(ctx, func(ev jobs.Event) {
				if ev.Kind == jobs.EventCompleted {
					logCompleted(logger)(ev)
					return
				}
				logFailed(logger)(ev)
			})
			if err != nil {
				logger.Error().Err(err).Msg("event listener stopped")
			}
		}()
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-API-Key",
	}
	// ダウンロード時のファイル名と使用ティアをフロントエンドから読めるようにする
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id", "X-Tier-Used"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, rt)

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("runtime shutdown failed")
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, rt *bootstrap.Runtime) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", api.Health)

	guard := api.NewKeyGuard(rt.Config.APIKeyHash)
	if !guard.Enabled() {
		rt.Logger.Warn().Msg("API_KEY_HASH is empty; /api is not protected")
	}

	handler := api.NewHandler(api.Options{
		Jobs:          rt.Manager,
		Files:         rt.Workspace,
		Parser:        rt.Parser,
		Reconstructor: rt.Reconstructor,
		MaxFileSize:   rt.Config.MaxFileSize,
		Logger:        rt.Logger,
	})

	protected := router.Group("/api")
	protected.Use(guard.Require())
	handler.Register(protected)
}

func logCompleted(logger zerolog.Logger) jobs.Handler {
	return func(ev jobs.Event) {
		entry := logger.Info().Str("job_id", ev.JobID).Str("job_type", string(ev.Type))
		if ev.Outcome != nil {
			entry = entry.Str("tier", string(ev.Outcome.TierUsed)).Bool("diagnostic", ev.Outcome.Diagnostic())
		}
		entry.Msg("job completed")
	}
}

func logFailed(logger zerolog.Logger) jobs.Handler {
	return func(ev jobs.Event) {
		entry := logger.Warn().Str("job_id", ev.JobID).Int("attempt", ev.Attempt).Bool("final", ev.Final)
		if ev.Error != nil {
			entry = entry.Str("code", ev.Error.Code).Str("reason", ev.Error.Message)
		}
		entry.Msg("job failed")
	}
}

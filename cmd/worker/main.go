// Package main は変換ワーカー単体のエントリーポイントです。
package main

import (
	"context"
	"log"
	"time"

	"github.com/yourusername/convert-forge/internal/bootstrap"
	"github.com/yourusername/convert-forge/internal/config"
	"github.com/yourusername/convert-forge/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := bootstrap.NewLogger(cfg, "convert-forge-worker")

	rt, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}

	rt.Manager.Subscribe(
		func(ev jobs.Event) {
			logger.Info().Str("job_id", ev.JobID).Str("job_type", string(ev.Type)).Msg("job completed")
		},
		func(ev jobs.Event) {
			logger.Warn().Str("job_id", ev.JobID).Int("attempt", ev.Attempt).Bool("final", ev.Final).Msg("job failed")
		},
	)

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("queue", cfg.QueueName).
		Msg("starting worker")

	// asynq が SIGINT/SIGTERM を受けて処理中のジョブを待ってから戻る
	if err := rt.Manager.RunWorkers(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("runtime shutdown failed")
	}
}

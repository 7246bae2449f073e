// Package bootstrap は設定からプロセス全体で共有する依存関係を組み立てます。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/convert-forge/internal/config"
	"github.com/yourusername/convert-forge/internal/convert"
	"github.com/yourusername/convert-forge/internal/docparse"
	"github.com/yourusername/convert-forge/internal/jobs"
	"github.com/yourusername/convert-forge/internal/layout"
	"github.com/yourusername/convert-forge/internal/logging"
	"github.com/yourusername/convert-forge/internal/profile"
	"github.com/yourusername/convert-forge/internal/storage"
	"github.com/yourusername/convert-forge/internal/transform"
)

// Runtime は API サーバーとワーカーが共有する依存関係です。
type Runtime struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Redis         *redis.Client
	Workspace     *storage.Workspace
	Parser        *docparse.Parser
	Reconstructor layout.Reconstructor
	Dispatcher    *convert.Dispatcher
	Events        *jobs.Events
	Manager       *jobs.Manager
}

// NewLogger は設定に従ってプロセスのロガーを作成します。
func NewLogger(cfg *config.Config, service string) zerolog.Logger {
	return logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Output:      os.Stdout,
		ServiceName: service,
	})
}

// New は Runtime を組み立てます。ワークスペースの作成とプロファイルの読み込みもここで行います。
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	workspace := storage.NewWorkspace(cfg.StorageDir)
	if err := workspace.Provision(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	profiles, err := profile.Load(cfg.ProfileFile)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	parser := docparse.NewParser()
	reconstructor := layout.Reconstructor{}

	cloud := transform.WithRetry(transform.NewCloudClient(transform.CloudConfig{
		BaseURL: cfg.CloudTransformURL,
		Secret:  cfg.CloudTransformSecret,
		Timeout: cfg.TierTimeout,
	}), cfg.CloudMaxAttempts)

	dispatcher := convert.NewDefaultDispatcher(convert.Dependencies{
		Files:         workspace,
		Profiles:      profiles,
		Cloud:         cloud,
		Parser:        parser,
		Reconstructor: reconstructor,
		Image:         transform.ImageCompressor{},
		Video:         transform.NewFFmpeg(cfg.FFmpegPath),
		Doc: &transform.DocCompressor{
			Ghostscript: transform.NewGhostscript(cfg.GhostscriptPath),
			Fallback:    transform.PDFOptimizer{},
		},
		ImagesToPDF: transform.ImagesToPDF{},
	})
	executor := convert.NewExecutor(workspace, cfg.TierTimeout, logger)

	store := jobs.NewStore(rdb, cfg.JobTTL())
	events := jobs.NewEvents(rdb, jobs.DefaultEventChannel, logger)

	deps := jobs.Dependencies{
		Store:      store,
		Events:     events,
		Dispatcher: dispatcher,
		Executor:   executor,
		Files:      workspace,
		Logger:     logger,
	}

	s3cfg := storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicURL:       cfg.S3PublicURL,
		KeyPrefix:       "convert",
		URLExpiry:       cfg.JobTTL(),
	}
	if s3cfg.Enabled() {
		uploader, err := storage.NewS3Store(ctx, s3cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		deps.Uploader = uploader
		logger.Info().Str("bucket", s3cfg.Bucket).Msg("artifact upload enabled")
	}

	manager, err := jobs.NewManager(cfg, deps)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	logger.Info().
		Strs("jobTypes", typeNames(dispatcher.Types())).
		Bool("cloudConfigured", cloud.Configured()).
		Str("storageDir", workspace.Root()).
		Msg("runtime initialized")

	return &Runtime{
		Config:        cfg,
		Logger:        logger,
		Redis:         rdb,
		Workspace:     workspace,
		Parser:        parser,
		Reconstructor: reconstructor,
		Dispatcher:    dispatcher,
		Events:        events,
		Manager:       manager,
	}, nil
}

// Close はキューと Redis 接続を閉じます。
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Manager != nil {
		if err := r.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func typeNames(types []convert.JobType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

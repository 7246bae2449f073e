// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証設定
	APIKeyHash string // bcryptでハッシュ化されたAPIキー（空なら認証なし）

	// ファイル制限
	MaxFileSize      int64 // 単一ファイルの最大サイズ（バイト）
	JobExpireMinutes int   // ジョブ情報の保持期間（分）

	// ジョブ/キュー設定
	QueueRedisURL     string        // Asynq・ジョブストア・イベント用Redis接続URL
	QueueName         string        // Asynqのキュー名
	QueueMaxRetry     int           // タスクの最大リトライ回数
	WorkerConcurrency int           // ワーカースロット数
	EmbedWorkers      bool          // APIサーバー内でワーカーも起動するか
	TierTimeout       time.Duration // 1ティアあたりの制限時間
	JobResultBaseURL  string        // 結果ファイル取得用のベースURL

	// ストレージ設定
	StorageDir string // uploads/outputs/reports を置くディレクトリ

	// 変換設定
	ProfileFile          string // 圧縮プロファイルの上書きファイル
	CloudTransformURL    string // クラウド変換サービスのURL
	CloudTransformSecret string // クラウド変換サービスのシークレット
	CloudMaxAttempts     int    // 一時的な失敗に対する最大試行回数
	GhostscriptPath      string // Ghostscript実行ファイルのパス
	FFmpegPath           string // ffmpeg実行ファイルのパス

	// S3互換ストレージ（任意）
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console, json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 認証設定
		APIKeyHash: getEnv("API_KEY_HASH", ""),

		// ファイル制限
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),

		// ジョブ/キュー設定
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueName:         getEnv("QUEUE_NAME", "convert"),
		QueueMaxRetry:     getEnvAsInt("QUEUE_MAX_RETRY", 3),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 2),
		EmbedWorkers:      getEnvAsBool("EMBED_WORKERS", true),
		TierTimeout:       getEnvAsDuration("TIER_TIMEOUT", 2*time.Minute),
		JobResultBaseURL:  getEnv("JOB_RESULT_BASE_URL", ""),

		// ストレージ設定
		StorageDir: getEnv("STORAGE_DIR", "./data"),

		// 変換設定
		ProfileFile:          getEnv("PROFILE_FILE", ""),
		CloudTransformURL:    getEnv("CLOUD_TRANSFORM_URL", ""),
		CloudTransformSecret: getEnv("CLOUD_TRANSFORM_SECRET", ""),
		CloudMaxAttempts:     getEnvAsInt("CLOUD_MAX_ATTEMPTS", 2),
		GhostscriptPath:      getEnv("GHOSTSCRIPT_PATH", "gs"),
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),

		// S3互換ストレージ
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3PublicURL:       getEnv("S3_PUBLIC_URL", ""),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.QueueMaxRetry < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRY must not be negative")
	}
	if c.TierTimeout <= 0 {
		return fmt.Errorf("TIER_TIMEOUT must be positive")
	}
	if (c.CloudTransformURL == "") != (c.CloudTransformSecret == "") {
		return fmt.Errorf("CLOUD_TRANSFORM_URL and CLOUD_TRANSFORM_SECRET must be set together")
	}

	// 本番環境では認証とストレージを厳格にチェックする
	if c.GinMode == "release" {
		if c.APIKeyHash == "" {
			return fmt.Errorf("API_KEY_HASH is required in release mode")
		}
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required in release mode")
		}
	}

	return nil
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// JobTTL はジョブ情報の保持期間です。
func (c *Config) JobTTL() time.Duration {
	minutes := c.JobExpireMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "90s", "2m"）。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package transform

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying は一時的な失敗（Timeout, Unknown）に限って指数バックオフで再試行する Transformer です。
// Unconfigured / QuotaExceeded / InvalidInput は即座に返します。
type Retrying struct {
	next     Transformer
	attempts int
	initial  time.Duration
}

// WithRetry は t を最大 attempts 回まで試行するようにラップします。
func WithRetry(t Transformer, attempts int) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: t, attempts: attempts, initial: 500 * time.Millisecond}
}

// Configured はラップ対象の設定状態を返します。
func (r *Retrying) Configured() bool {
	return IsConfigured(r.next)
}

// Transform は Transformer を実装します。
func (r *Retrying) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	var ref string
	op := func() error {
		out, err := r.next.Transform(ctx, inputPath, params)
		if err == nil {
			ref = out
			return nil
		}
		switch ReasonOf(err) {
		case Timeout, Unknown:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return ref, nil
}

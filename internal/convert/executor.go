package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTierTimeout は1ティアあたりの既定の制限時間です。
const DefaultTierTimeout = 2 * time.Minute

// Files は入出力ファイルの置き場所を提供するコラボレーターです。
// 出力名は呼び出しごとに一意で、再実行が以前の部分出力と衝突することはありません。
type Files interface {
	InputPath(ref string) (string, error)
	NewOutput(originalName, ext string) (ref, path string, err error)
	NewReport(originalName string) (ref, path string, err error)
}

// Executor はチェーンを先頭から順に実行し、最初に成功したティアの結果を返します。
// すべて失敗した場合は診断レポートを書き出し、completed として返します。
type Executor struct {
	timeout time.Duration
	report  *diagnosticReport
	logger  zerolog.Logger
}

// NewExecutor は Executor を作成します。timeout が 0 以下の場合は DefaultTierTimeout を使います。
func NewExecutor(files Files, timeout time.Duration, logger zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTierTimeout
	}
	return &Executor{
		timeout: timeout,
		report:  &diagnosticReport{files: files, now: time.Now},
		logger:  logger,
	}
}

// Run はジョブを実行します。返るエラーは診断レポートすら書けなかった場合のみです。
func (e *Executor) Run(ctx context.Context, job Job, chain Chain, progress ProgressReporter) (*Outcome, error) {
	log := e.logger.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Logger()

	attempts := make([]Attempt, 0, len(chain))
	for i, tier := range chain {
		reportProgress(progress, string(tier.Name()), tierPercent(i, len(chain)))

		started := time.Now()
		artifact, err := e.runTier(ctx, tier, job)
		elapsed := time.Since(started)

		if err == nil {
			attempts = append(attempts, Attempt{Tier: tier.Name(), Duration: elapsed})
			log.Info().
				Str("tier", string(tier.Name())).
				Dur("duration", elapsed).
				Msg("tier succeeded")
			return e.outcome(job, tier.Name(), artifact, attempts), nil
		}

		failure := classify(err)
		attempts = append(attempts, Attempt{
			Tier:     tier.Name(),
			Reason:   failure.Reason,
			Message:  err.Error(),
			Duration: elapsed,
		})
		log.Warn().
			Str("tier", string(tier.Name())).
			Str("reason", string(failure.Reason)).
			Dur("duration", elapsed).
			Err(err).
			Msg("tier failed")
	}

	reportProgress(progress, string(TierDiagnosticReport), 95)
	artifact, err := e.report.write(ctx, job, attempts)
	if err != nil {
		log.Error().Err(err).Msg("diagnostic report failed")
		return nil, err
	}
	log.Warn().
		Int("attempts", len(attempts)).
		Str("output_ref", artifact.OutputRef).
		Msg("all tiers exhausted; diagnostic report written")
	return e.outcome(job, TierDiagnosticReport, artifact, attempts), nil
}

func (e *Executor) runTier(ctx context.Context, tier Tier, job Job) (artifact *Artifact, err error) {
	tierCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			artifact = nil
			err = Failf(ServiceUnavailable, "tier panicked: %v", r)
		}
	}()

	artifact, err = tier.Run(tierCtx, job)
	if err != nil {
		if errors.Is(tierCtx.Err(), context.DeadlineExceeded) {
			var te *TierError
			if !errors.As(err, &te) || te.Reason != Timeout {
				err = Fail(Timeout, fmt.Errorf("%s exceeded %s: %w", tier.Name(), e.timeout, err))
			}
		}
		return nil, err
	}
	if artifact == nil || artifact.OutputRef == "" {
		return nil, Failf(ServiceUnavailable, "%s returned no artifact", tier.Name())
	}
	return artifact, nil
}

func (e *Executor) outcome(job Job, used TierName, artifact *Artifact, attempts []Attempt) *Outcome {
	meta := make(map[string]any, len(artifact.Meta))
	for k, v := range artifact.Meta {
		meta[k] = v
	}
	return &Outcome{
		Status:       OutcomeCompleted,
		OutputRef:    artifact.OutputRef,
		OriginalName: job.OriginalName,
		Type:         job.Type,
		TierUsed:     used,
		Attempts:     attempts,
		Meta:         meta,
	}
}

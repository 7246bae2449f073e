// Package jobs は非同期ジョブの投入・実行・状態管理を提供します。
//
// ジョブは asynq の永続キューに載り、少なくとも1回（at-least-once）配信されます。
// ワーカーは種別に対応するフォールバックチェーンを convert.Executor で実行し、
// 結果を Redis のジョブレコードとイベントとして通知します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/yourusername/convert-forge/internal/convert"
)

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// RunWorkers は Asynq サーバーを起動し、シグナルを受けるまでブロックします。
func (m *Manager) RunWorkers() error {
	if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。処理中のジョブは終了を待ちます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

func (m *Manager) handleConvertTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	job := payload.Job
	if job.ID == "" {
		return fmt.Errorf("missing job id in payload: %w", asynq.SkipRetry)
	}

	attempt, final := attemptInfo(ctx)
	log := m.logger.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempt", attempt).
		Logger()

	// 再試行されない試行の終わりで入力を必ず解放する
	release := final
	defer func() {
		if release {
			m.releaseInput(job)
		}
	}()

	// 完了を記録した後に ack 前に落ちた場合の再配信では、既存の結果を保持する
	if record, err := m.store.Get(ctx, job.ID); err == nil && record != nil && record.Status == StatusCompleted {
		release = true
		log.Info().Msg("job already completed; skipping redelivered task")
		return nil
	}

	chain, err := m.dispatcher.Resolve(job.Type)
	if err != nil {
		release = true
		log.Warn().Err(err).Msg("rejecting job with unknown type")
		m.failJob(ctx, job, attempt, true, &ErrorInfo{
			Code:    "INVALID_JOB_TYPE",
			Message: fmt.Sprintf("未対応のジョブ種別です: %s", job.Type),
		})
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := m.store.MarkActive(ctx, job.ID, attempt); err != nil {
		log.Warn().Err(err).Msg("failed to mark job active")
	}

	outcome, err := m.executor.Run(ctx, job, chain, func(stage string, percent int) {
		m.UpdateProgress(ctx, job.ID, percent, stage)
	})
	if err != nil {
		log.Error().Err(err).Bool("final", final).Msg("conversion failed")
		m.failJob(ctx, job, attempt, final, &ErrorInfo{
			Code:    "CONVERSION_FAILED",
			Message: "変換結果を出力できませんでした。",
		})
		return err
	}

	release = true
	m.finishJob(ctx, job, attempt, outcome)
	return nil
}

func (m *Manager) finishJob(ctx context.Context, job convert.Job, attempt int, outcome *convert.Outcome) {
	downloadURL := m.publishOutput(ctx, job, outcome)
	if err := m.store.MarkCompleted(ctx, job.ID, outcome, downloadURL); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to save job result")
	}
	m.events.emit(ctx, Event{
		Kind:    EventCompleted,
		JobID:   job.ID,
		Type:    job.Type,
		Attempt: attempt,
		Final:   true,
		Outcome: outcome,
	})
}

func (m *Manager) failJob(ctx context.Context, job convert.Job, attempt int, final bool, errInfo *ErrorInfo) {
	var err error
	if final {
		err = m.store.MarkFailed(ctx, job.ID, errInfo)
	} else {
		err = m.store.MarkRetrying(ctx, job.ID, errInfo)
	}
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to save job failure")
	}
	m.events.emit(ctx, Event{
		Kind:    EventFailed,
		JobID:   job.ID,
		Type:    job.Type,
		Attempt: attempt,
		Final:   final,
		Error:   errInfo,
	})
}

// publishOutput は Uploader があれば成果物をアップロードし、ダウンロードURLを返します。
// アップロードに失敗した場合はローカルのダウンロードURLへ戻します。
func (m *Manager) publishOutput(ctx context.Context, job convert.Job, outcome *convert.Outcome) string {
	local := m.buildDownloadURL(job.ID, outcome.OutputRef)
	if m.uploader == nil || m.files == nil {
		return local
	}
	path, err := m.files.Path(outcome.OutputRef)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("cannot resolve output for upload")
		return local
	}
	remote, err := m.uploader.UploadFile(ctx, outcome.OutputRef, path)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("output upload failed; serving locally")
		return local
	}
	if remote == "" {
		return local
	}
	return remote
}

func (m *Manager) releaseInput(job convert.Job) {
	if m.files == nil || job.InputRef == "" {
		return
	}
	if err := m.files.Release(job.InputRef); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to release input")
	}
}

// attemptInfo は試行番号（1始まり）と、これが最後の試行かどうかを返します。
// asynq のコンテキスト外で呼ばれた場合は最後の試行として扱います。
func attemptInfo(ctx context.Context) (int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1, true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return retried + 1, true
	}
	return retried + 1, retried >= maxRetry
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/convert-forge/internal/config"
	"github.com/yourusername/convert-forge/internal/convert"
	"github.com/yourusername/convert-forge/internal/logging"
)

const (
	// TaskTypeConvert は変換タスクの asynq タスク種別です。
	TaskTypeConvert = "convert:run"
)

// ErrDuplicateJob は同じジョブIDのタスクが既にキューにある場合に返されます。
var ErrDuplicateJob = errors.New("job already enqueued")

// Enqueuer はタスクをキューへ投入するクライアントです（*asynq.Client が満たします）。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Files はワーカーが扱うファイル操作です（storage.Workspace が満たします）。
type Files interface {
	Release(ref string) error
	Path(ref string) (string, error)
}

// Uploader は成果物を外部ストレージへ送ります（storage.S3Store が満たします）。
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath string) (string, error)
}

// Dependencies は Manager が使うコラボレーターです。
type Dependencies struct {
	Store      *Store
	Events     *Events
	Dispatcher *convert.Dispatcher
	Executor   *convert.Executor
	Files      Files
	Uploader   Uploader
	Logger     zerolog.Logger

	// Enqueuer を指定すると asynq.Client の代わりに使います。
	Enqueuer Enqueuer
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg        *config.Config
	client     Enqueuer
	server     *asynq.Server
	mux        *asynq.ServeMux
	store      *Store
	events     *Events
	dispatcher *convert.Dispatcher
	executor   *convert.Executor
	files      Files
	uploader   Uploader
	logger     zerolog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, deps Dependencies) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.Store == nil {
		return nil, errors.New("store is nil")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := deps.Enqueuer
	if client == nil {
		client = asynq.NewClient(opt)
	}
	events := deps.Events
	if events == nil {
		events = NewEvents(nil, "", deps.Logger)
	}

	// 1スロットは同時に1ジョブだけを処理する
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
			Logger:   logging.NewAsynqLogger(deps.Logger),
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:        cfg,
		client:     client,
		server:     server,
		mux:        mux,
		store:      deps.Store,
		events:     events,
		dispatcher: deps.Dispatcher,
		executor:   deps.Executor,
		files:      deps.Files,
		uploader:   deps.Uploader,
		logger:     deps.Logger,
	}
	mux.HandleFunc(TaskTypeConvert, manager.handleConvertTask)
	return manager, nil
}

// Submit はジョブを検証して Queued として保存し、キューに投入します。
// 未知の種別は ValidationError となり、何も投入しません。
func (m *Manager) Submit(ctx context.Context, job convert.Job) (string, error) {
	if err := m.dispatcher.Validate(job.Type); err != nil {
		return "", err
	}
	if strings.TrimSpace(job.InputRef) == "" {
		return "", &convert.ValidationError{Err: errors.New("inputRef is required")}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	record := &Record{
		JobID:        job.ID,
		Type:         job.Type,
		OriginalName: job.OriginalName,
		InputRef:     job.InputRef,
		Options:      job.Options,
		Status:       StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	// 既存のジョブIDは上書きしない
	if err := m.store.Create(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(TaskPayload{Job: job})
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypeConvert, body)
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(m.cfg.QueueName),
		asynq.MaxRetry(m.cfg.QueueMaxRetry),
		asynq.TaskID(job.ID),
		asynq.Retention(m.cfg.JobTTL()),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// レコードだけ期限切れで消えていた場合。作ったばかりのレコードを取り消す
			if delErr := m.store.Delete(ctx, job.ID); delErr != nil {
				m.logger.Warn().Err(delErr).Str("job_id", job.ID).Msg("failed to remove rejected job record")
			}
			return "", fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		_ = m.store.MarkFailed(ctx, job.ID, &ErrorInfo{
			Code:    "ENQUEUE_FAILED",
			Message: "ジョブをキューに投入できませんでした。",
		})
		return "", err
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Msg("job enqueued")
	return job.ID, nil
}

// Subscribe は完了時・失敗時のコールバックを登録します。
func (m *Manager) Subscribe(onCompleted, onFailed Handler) {
	m.events.Subscribe(onCompleted, onFailed)
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// Types は受け付け可能なジョブ種別です。
func (m *Manager) Types() []convert.JobType {
	return m.dispatcher.Types()
}

// UpdateProgress は進捗を保存します。
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, percent int, stage string) {
	if err := m.store.UpdateProgress(ctx, jobID, ProgressInfo{
		Percent: percent,
		Stage:   stage,
	}); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to update progress")
	}
}

func (m *Manager) buildDownloadURL(jobID, outputRef string) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", jobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), jobID, url.PathEscape(outputRef[strings.LastIndex(outputRef, "/")+1:]))
}

package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/convert-forge/internal/convert"
)

// DefaultEventChannel はジョブイベントを流す Redis チャンネル名です。
const DefaultEventChannel = "convert:events"

// EventKind はイベントの種類です。
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event は1回の終了したジョブ試行の通知です。
type Event struct {
	Kind    EventKind        `json:"kind"`
	JobID   string           `json:"jobId"`
	Type    convert.JobType  `json:"type"`
	Attempt int              `json:"attempt"`
	Final   bool             `json:"final"`
	Outcome *convert.Outcome `json:"outcome,omitempty"`
	Error   *ErrorInfo       `json:"error,omitempty"`
	At      time.Time        `json:"at"`
}

// Handler はイベントを受け取るコールバックです。
type Handler func(Event)

// Events はプロセス内のコールバックと Redis Pub/Sub の両方へイベントを配信します。
type Events struct {
	rdb     *redis.Client
	channel string
	logger  zerolog.Logger

	mu          sync.RWMutex
	onCompleted []Handler
	onFailed    []Handler
}

// NewEvents は Events を作成します。rdb が nil の場合はプロセス内の配信のみ行います。
func NewEvents(rdb *redis.Client, channel string, logger zerolog.Logger) *Events {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &Events{rdb: rdb, channel: channel, logger: logger}
}

// Subscribe は完了時・失敗時のコールバックを登録します。nil は無視されます。
func (e *Events) Subscribe(onCompleted, onFailed Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if onCompleted != nil {
		e.onCompleted = append(e.onCompleted, onCompleted)
	}
	if onFailed != nil {
		e.onFailed = append(e.onFailed, onFailed)
	}
}

func (e *Events) emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	e.mu.RLock()
	handlers := e.onFailed
	if ev.Kind == EventCompleted {
		handlers = e.onCompleted
	}
	handlers = append([]Handler(nil), handlers...)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.safeCall(h, ev)
	}

	if e.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("failed to encode job event")
		return
	}
	if err := e.rdb.Publish(ctx, e.channel, payload).Err(); err != nil {
		e.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("failed to publish job event")
	}
}

func (e *Events) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("job_id", ev.JobID).Msg("job event handler panicked")
		}
	}()
	h(ev)
}

// Listen は Redis チャンネルを購読し、ctx が終わるまで受信したイベントを handler に渡します。
// 他プロセスのワーカーが発行したイベントを観測するために使います。
func (e *Events) Listen(ctx context.Context, handler Handler) error {
	if e.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := e.rdb.Subscribe(ctx, e.channel)
	defer sub.Close()

	// 購読の確立を待つ
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				e.logger.Warn().Err(err).Msg("ignoring malformed job event")
				continue
			}
			e.safeCall(handler, ev)
		}
	}
}

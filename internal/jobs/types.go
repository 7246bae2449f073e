package jobs

import (
	"time"

	"github.com/yourusername/convert-forge/internal/convert"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。状態を変更するのはワーカーだけです。
type Record struct {
	JobID        string           `json:"jobId"`
	Type         convert.JobType  `json:"type"`
	OriginalName string           `json:"originalName"`
	InputRef     string           `json:"inputRef"`
	Options      convert.Options  `json:"options"`
	Status       Status           `json:"status"`
	Progress     ProgressInfo     `json:"progress"`
	Attempt      int              `json:"attempt"`
	Outcome      *convert.Outcome `json:"outcome,omitempty"`
	DownloadURL  string           `json:"downloadUrl,omitempty"`
	Error        *ErrorInfo       `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

// TaskPayload はキューに載せる変換タスクのペイロードです。
type TaskPayload struct {
	Job convert.Job `json:"job"`
}

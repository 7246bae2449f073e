// Package convert はジョブ種別ごとのフォールバックチェーンと、その実行器を提供します。
package convert

import "time"

// JobType は変換ジョブの種別です。
type JobType string

const (
	ConvertDocToText JobType = "ConvertDocToText"
	ImageToDoc       JobType = "ImageToDoc"
	CompressImage    JobType = "CompressImage"
	CompressVideo    JobType = "CompressVideo"
	CompressDoc      JobType = "CompressDoc"
)

// TierName はフォールバックチェーン内のティア名です。
type TierName string

const (
	TierCloudTransform      TierName = "CloudTransform"
	TierLocalTextExtraction TierName = "LocalTextExtraction"
	TierLocalImageToPDF     TierName = "LocalImageToPDF"
	TierImageCompression    TierName = "ImageCompression"
	TierVideoTransform      TierName = "VideoTransform"
	TierDocTransform        TierName = "DocTransform"
	TierRawCopy             TierName = "RawCopyFallback"
	TierDiagnosticReport    TierName = "DiagnosticReport"
)

// Options はジョブの任意設定です。
type Options struct {
	CompressionLevel string `json:"compressionLevel,omitempty"`
}

// Job は1件の変換要求です。状態はジョブストア側で管理します。
type Job struct {
	ID           string  `json:"id"`
	Type         JobType `json:"type"`
	InputRef     string  `json:"inputRef"`
	OriginalName string  `json:"originalName"`
	Options      Options `json:"options"`
}

// OutcomeStatus は変換結果の状態です。
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Attempt は1回のティア実行の記録です。
type Attempt struct {
	Tier     TierName      `json:"tier"`
	Reason   Reason        `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Outcome は実行器が1ジョブにつき1度だけ返す変換結果です。
type Outcome struct {
	Status       OutcomeStatus  `json:"status"`
	OutputRef    string         `json:"outputRef"`
	OriginalName string         `json:"originalName"`
	Type         JobType        `json:"type"`
	TierUsed     TierName       `json:"tierUsed"`
	Attempts     []Attempt      `json:"attempts,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// Diagnostic は成果物が診断レポートかどうかを返します。
func (o *Outcome) Diagnostic() bool {
	return o != nil && o.TierUsed == TierDiagnosticReport
}

package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/convert-forge/internal/transform"
)

// Reason はティア失敗の分類です。
type Reason string

const (
	ServiceUnavailable Reason = "ServiceUnavailable"
	MalformedInput     Reason = "MalformedInput"
	Timeout            Reason = "Timeout"
)

// TierError はティアが返す型付きの失敗です。
type TierError struct {
	Reason Reason
	Err    error
}

func (e *TierError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// Fail は TierError を作成します。
func Fail(reason Reason, err error) *TierError {
	return &TierError{Reason: reason, Err: err}
}

// Failf はメッセージから TierError を作成します。
func Failf(reason Reason, format string, args ...any) *TierError {
	return &TierError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Artifact はティアが成功したときの成果物です。
type Artifact struct {
	OutputRef string
	Meta      map[string]any
}

// Tier はフォールバックチェーンの1段です。ジョブだけを受け取り、成果物か *TierError を返します。
type Tier interface {
	Name() TierName
	Run(ctx context.Context, job Job) (*Artifact, error)
}

// Chain はジョブ種別に対応する順序付きのティア列です。
type Chain []Tier

// Names はチェーンのティア名を返します。
func (c Chain) Names() []TierName {
	names := make([]TierName, 0, len(c))
	for _, t := range c {
		names = append(names, t.Name())
	}
	return names
}

// classify は任意のエラーをティア失敗に変換します。
func classify(err error) *TierError {
	var te *TierError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Fail(Timeout, err)
	}
	var xe *transform.Error
	if errors.As(err, &xe) {
		return Fail(reasonForTransform(xe.Reason), err)
	}
	return Fail(ServiceUnavailable, err)
}

func reasonForTransform(r transform.FailureReason) Reason {
	switch r {
	case transform.InvalidInput:
		return MalformedInput
	case transform.Timeout:
		return Timeout
	default:
		return ServiceUnavailable
	}
}

// ValidationError はリトライしても解決しない投入内容の誤りです。
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation は err が ValidationError を含むかどうかを返します。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Package transform は変換処理の外部コラボレーター（クラウド変換サービスとローカルツール）を提供します。
//
// どの実装も Transformer 契約 Transform(ctx, inputPath, params) -> (assetRef, error) を満たし、
// 失敗時は FailureReason を持つ *Error を返します。
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/convert-forge/internal/profile"
)

// FailureReason はコラボレーターの失敗理由です。
type FailureReason string

const (
	// Unconfigured は設定不足を表し、リトライせずに即座に次へ進むべき状態です。
	Unconfigured  FailureReason = "Unconfigured"
	QuotaExceeded FailureReason = "QuotaExceeded"
	InvalidInput  FailureReason = "InvalidInput"
	Timeout       FailureReason = "Timeout"
	Unknown       FailureReason = "Unknown"
)

// Error は失敗理由付きのエラーです。
type Error struct {
	Reason  FailureReason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(reason FailureReason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

// ReasonOf は err の失敗理由を返します。*Error 以外はタイムアウトを除き Unknown です。
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// Params は1回の変換に必要なパラメータです。
type Params struct {
	// From/To は入力・出力のフォーマット（拡張子、ドットなし）です。
	From string
	To   string
	// Profile は圧縮系の変換で使われます。
	Profile *profile.Profile
	// OutputPath は成果物の書き込み先です。呼び出し側がジョブごとに一意なパスを用意します。
	OutputPath string
}

// Transformer は変換コラボレーターの契約です。成功時は成果物の参照（書き込んだパス）を返します。
type Transformer interface {
	Transform(ctx context.Context, inputPath string, params Params) (string, error)
}

// Configurable は設定済みかどうかを報告できる Transformer が実装します。
type Configurable interface {
	Configured() bool
}

// IsConfigured は t が Configurable でない場合 true を返します。
func IsConfigured(t Transformer) bool {
	if t == nil {
		return false
	}
	if c, ok := t.(Configurable); ok {
		return c.Configured()
	}
	return true
}

// Package api は変換ジョブの HTTP ハンドラーを提供します。
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error はクライアントへ返すコード付きのエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func statusFor(code string) int {
	switch code {
	case "LIMIT_EXCEEDED":
		return http.StatusRequestEntityTooLarge
	case "JOB_NOT_FOUND", "JOB_RESULT_NOT_FOUND":
		return http.StatusNotFound
	case "JOB_NOT_READY", "DUPLICATE_JOB":
		return http.StatusConflict
	case "INVALID_PDF":
		return http.StatusUnprocessableEntity
	case "LAYOUT_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusFor(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func guardedRouter(t *testing.T, hash string) (*gin.Engine, *KeyGuard) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	guard := NewKeyGuard(hash)
	router := gin.New()
	router.GET("/api/ping", guard.Require(), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return router, guard
}

func request(router *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestKeyGuardDisabledWithoutHash(t *testing.T) {
	router, guard := guardedRouter(t, "")
	assert.False(t, guard.Enabled())
	assert.Equal(t, http.StatusOK, request(router, "").Code)
}

func TestKeyGuardChecksKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	router, _ := guardedRouter(t, string(hash))

	assert.Equal(t, http.StatusUnauthorized, request(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "wrong").Code)

	rec := request(router, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestKeyGuardLocksAfterRepeatedFailures(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	router, guard := guardedRouter(t, string(hash))

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	for i := 0; i < maxFailedChecks; i++ {
		assert.Equal(t, http.StatusUnauthorized, request(router, "wrong").Code)
	}

	rec := request(router, "s3cret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	now = now.Add(lockDuration + time.Second)
	assert.Equal(t, http.StatusOK, request(router, "s3cret").Code)
}

func TestKeyGuardStartsFreshAfterLockExpires(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	router, guard := guardedRouter(t, string(hash))

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	for i := 0; i < maxFailedChecks; i++ {
		request(router, "wrong")
	}
	assert.Equal(t, http.StatusTooManyRequests, request(router, "wrong").Code)

	// ロック明けの1回の失敗では再ロックしない
	now = now.Add(lockDuration + time.Second)
	assert.Equal(t, http.StatusUnauthorized, request(router, "wrong").Code)
	assert.Equal(t, http.StatusOK, request(router, "s3cret").Code)
}

func TestKeyGuardPrunesStaleEntries(t *testing.T) {
	guard := NewKeyGuard("x")
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	guard.recordFailure("10.0.0.1")
	guard.recordFailure("10.0.0.2")
	assert.Len(t, guard.attempts, 2)

	now = now.Add(failureWindow + time.Minute)
	guard.recordFailure("10.0.0.3")
	assert.Len(t, guard.attempts, 1)
	assert.Contains(t, guard.attempts, "10.0.0.3")
}

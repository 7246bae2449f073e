package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

var (
	failureWindow   = 15 * time.Minute
	lockDuration    = 10 * time.Minute
	maxFailedChecks = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// expired はロックが明けたか、ロックなしで集計期間を過ぎたかを返します。
func (s *attemptState) expired(now time.Time) bool {
	if !s.lockedUntil.IsZero() {
		return now.After(s.lockedUntil)
	}
	return now.Sub(s.firstAttempt) > failureWindow
}

// KeyGuard は X-API-Key ヘッダーを bcrypt ハッシュと照合するミドルウェアです。
// 同じIPから失敗が続いた場合は一定時間ロックします。
type KeyGuard struct {
	hash      []byte
	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyGuard は KeyGuard を作成します。hash が空の場合は認証を行いません。
func NewKeyGuard(hash string) *KeyGuard {
	return &KeyGuard{
		hash:     []byte(hash),
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// Enabled は認証が有効かどうかを返します。
func (g *KeyGuard) Enabled() bool {
	return len(g.hash) > 0
}

// Require は API キーを検証するミドルウェアを返します。
func (g *KeyGuard) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if retryAfter := g.checkLock(ip); retryAfter > 0 {
			// Retry-After は秒数で返す
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		key := c.GetHeader(apiKeyHeader)
		if key == "" || bcrypt.CompareHashAndPassword(g.hash, []byte(key)) != nil {
			g.recordFailure(ip)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "API キーが正しくありません",
			})
			return
		}

		g.resetAttempts(ip)
		c.Next()
	}
}

func (g *KeyGuard) checkLock(ip string) time.Duration {
	g.lock.Lock()
	defer g.lock.Unlock()

	state, ok := g.attempts[ip]
	if !ok {
		return 0
	}
	now := g.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (g *KeyGuard) recordFailure(ip string) {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	g.prune(now)

	state, ok := g.attempts[ip]
	if !ok || state.expired(now) {
		state = &attemptState{firstAttempt: now}
		g.attempts[ip] = state
	}

	state.count++
	if state.count >= maxFailedChecks {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxFailedChecks
	}
}

// prune はロックも集計期間も過ぎたエントリを削除します。failureWindow ごとに1回だけ走査します。
func (g *KeyGuard) prune(now time.Time) {
	if now.Sub(g.lastSweep) < failureWindow {
		return
	}
	g.lastSweep = now
	for ip, state := range g.attempts {
		if state.expired(now) {
			delete(g.attempts, ip)
		}
	}
}

func (g *KeyGuard) resetAttempts(ip string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	delete(g.attempts, ip)
}

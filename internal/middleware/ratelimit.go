package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	AnalyzeRate     rate.Limit    // 分析リクエストのレート（req/sec）。10/60
	AnalyzeBurst    int           // 分析リクエストのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min、分析リクエスト 10 req/min（主体ごと）
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		AnalyzeRate:     rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		AnalyzeBurst:    10,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は主体ごとのレート制限を管理する。
// API全般のレート制限と分析リクエストのレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*keyLimiter

	analyzeMu       sync.RWMutex
	analyzeLimiters map[string]*keyLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*keyLimiter),
		analyzeLimiters: make(map[string]*keyLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにアカウントIDが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := AccountIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(accountID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("account_id", accountID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AnalyzeMiddleware は分析リクエスト専用のレート制限ミドルウェアを返す。
// SubjectMiddlewareの後に配置する。未認証でも拒否せず、
// アカウントID、デモトークン、接続元IPの順でキーを決める。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) AnalyzeMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := analyzeLimitKey(r)

			limiter := rl.getOrCreateAnalyzeLimiter(key)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.AnalyzeRate)
				slog.Warn("rate limit exceeded",
					slog.String("limit_key", key),
					slog.String("limit_type", "analyze"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralIPMiddleware は接続元IPをキーとするAPI全般のレート制限ミドルウェアを返す。
// デモ開始のような未認証エンドポイントに適用する。
// リミッターのプールはGeneralMiddlewareと共有される。
func (rl *RateLimiter) GeneralIPMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIPKey(r)

			limiter := rl.getOrCreateGeneralLimiter(key)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("limit_key", key),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// analyzeLimitKey は分析レート制限のキーを決定する。
func analyzeLimitKey(r *http.Request) string {
	subject := SubjectFromContext(r.Context())
	if subject.AccountID != "" {
		return "account:" + subject.AccountID
	}
	if subject.DemoToken != "" {
		return "demo:" + subject.DemoToken
	}
	return clientIPKey(r)
}

// clientIPKey は接続元IPからレート制限キーを作る。
func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// AnalyzeLimiterCount は現在管理されている分析リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) AnalyzeLimiterCount() int {
	rl.analyzeMu.RLock()
	defer rl.analyzeMu.RUnlock()
	return len(rl.analyzeLimiters)
}

// getOrCreateGeneralLimiter はキーのAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(key string) *rate.Limiter {
	rl.generalMu.RLock()
	kl, exists := rl.generalLimiters[key]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		kl.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return kl.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if kl, exists := rl.generalLimiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateAnalyzeLimiter はキーの分析リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateAnalyzeLimiter(key string) *rate.Limiter {
	rl.analyzeMu.RLock()
	kl, exists := rl.analyzeLimiters[key]
	rl.analyzeMu.RUnlock()

	if exists {
		rl.analyzeMu.Lock()
		kl.lastAccess = time.Now()
		rl.analyzeMu.Unlock()
		return kl.limiter
	}

	rl.analyzeMu.Lock()
	defer rl.analyzeMu.Unlock()

	// ダブルチェック
	if kl, exists := rl.analyzeLimiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(rl.config.AnalyzeRate, rl.config.AnalyzeBurst)
	rl.analyzeLimiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for key, kl := range rl.generalLimiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(rl.generalLimiters, key)
		}
	}
	rl.generalMu.Unlock()

	rl.analyzeMu.Lock()
	for key, kl := range rl.analyzeLimiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(rl.analyzeLimiters, key)
		}
	}
	rl.analyzeMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/productica/creditd/internal/middleware"
	"github.com/productica/creditd/internal/security"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
// demosはnil可。指定するとログイン完了時にデモ許容量が破棄される。
func SetupAuthRoutes(service AuthServiceInterface, demos DemoDiscarder, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service, demos, config)

	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	return r
}

// HealthChecker はDB疎通確認のインターフェース。*sql.DBを受け付けることができる。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用系（いずれも省略可能）
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StatusRecorder middleware.HTTPStatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// クレジット
	CreditManager CreditManagerInterface

	// デモモード
	DemoRegistry DemoRegistryInterface
	DemoConfig   DemoHandlerConfig

	// 分析
	CreditGate      CreditAuthorizer
	InferenceClient InferenceClientInterface
	Sanitizer       security.ContentSanitizerService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → LoggingMiddleware → (SessionMiddleware | SubjectMiddleware) → RateLimitMiddleware
//
// 認証ルート（/auth/*）とデモ開始はミドルウェアチェーンの外に配置する。
// 分析と残高参照はデモモードでも利用できるためSubjectMiddlewareを使い、
// 履歴と購入は認証必須のためSessionMiddlewareを使う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// アクセスログとステータスコードの集計（全ルートに効く）
	r.Use(middleware.NewLoggingMiddleware(slog.Default(), deps.StatusRecorder))

	authHandler := NewAuthHandler(deps.AuthService, deps.DemoRegistry, deps.AuthConfig)
	creditHandler := NewCreditHandler(deps.CreditManager, deps.DemoRegistry)
	demoHandler := NewDemoHandler(deps.DemoRegistry, deps.DemoConfig)
	analyzeHandler := NewAnalyzeHandler(deps.CreditGate, deps.InferenceClient, deps.Sanitizer)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerヘルスチェックと死活監視用）
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusスクレイプ
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// デモモード開始（未認証のため接続元IPでレート制限する）
	r.With(deps.RateLimiter.GeneralIPMiddleware()).Post("/api/demo", demoHandler.Enable)

	// --- デモモードでも利用できるルート ---
	// ミドルウェアスタック: Subject → RateLimit(Analyze)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSubjectMiddleware(deps.SessionFinder))

		r.Get("/api/credits", creditHandler.GetBalance)
		r.With(deps.RateLimiter.AnalyzeMiddleware()).Post("/api/analyze", analyzeHandler.Analyze)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/credits/history", creditHandler.GetHistory)
		r.Post("/api/credits/purchase", creditHandler.Purchase)
	})

	return r
}

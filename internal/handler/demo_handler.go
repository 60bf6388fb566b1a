package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/productica/creditd/internal/middleware"
	"github.com/productica/creditd/internal/model"
)

// DemoRegistryInterface はハンドラー層が必要とするデモレジストリのインターフェース。
type DemoRegistryInterface interface {
	Enable() (string, error)
	Balance(token string) (int, bool)
	// Discard はトークンの許容量をレジストリから破棄する。ログイン完了時に呼ばれる。
	Discard(token string)
}

// DemoHandlerConfig はデモハンドラーの設定。
type DemoHandlerConfig struct {
	CookieSecure bool
	CookieMaxAge int // デモCookieの有効期間（秒）
}

// DemoHandler はデモモード開始のHTTPハンドラー。
type DemoHandler struct {
	registry DemoRegistryInterface
	config   DemoHandlerConfig
}

// NewDemoHandler はDemoHandlerを生成する。
func NewDemoHandler(registry DemoRegistryInterface, config DemoHandlerConfig) *DemoHandler {
	return &DemoHandler{
		registry: registry,
		config:   config,
	}
}

// Enable はデモモードを開始しトークンCookieを設定する。
// アカウントも取引記録も作成しない。既に有効なデモトークンを持つ
// リクエストには新しい許容量を払い出さず、残量をそのまま返す。
// POST /api/demo
func (h *DemoHandler) Enable(w http.ResponseWriter, r *http.Request) {
	// 既存トークンが有効ならそのまま使う（許容量のリセットを防ぐ）
	if cookie, err := r.Cookie(middleware.DemoCookieName); err == nil && cookie.Value != "" {
		if remaining, ok := h.registry.Balance(cookie.Value); ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(balanceResponse{Credits: remaining, Mode: "demo"})
			return
		}
	}

	token, err := h.registry.Enable()
	if err != nil {
		slog.Error("failed to enable demo mode", slog.String("error", err.Error()))
		handleServiceError(w, model.NewStoreUnavailableError(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.DemoCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   h.config.CookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	remaining, _ := h.registry.Balance(token)

	slog.Info("demo mode enabled", slog.Int("grant", remaining))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceResponse{Credits: remaining, Mode: "demo"})
}

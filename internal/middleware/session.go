// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/productica/creditd/internal/gate"
	"github.com/productica/creditd/internal/model"
)

const (
	// SessionCookieName はログインセッションIDを保持するクッキー名。
	SessionCookieName = "session_id"
	// DemoCookieName はデモトークンを保持するクッキー名。
	DemoCookieName = "demo_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accountIDContextKey はリクエストコンテキストにアカウントIDを格納するためのキー。
var accountIDContextKey = contextKey("account_id")

// subjectContextKey はリクエストコンテキストにクレジット消費主体を格納するためのキー。
var subjectContextKey = contextKey("subject")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みアカウントIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
// 認証が必須のエンドポイント（残高・履歴・購入）に適用する。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 2. セッションの有効性を検証
			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if session == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 3. 認証済みアカウントIDをコンテキストに注入
			ctx := context.WithValue(r.Context(), accountIDContextKey, session.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewSubjectMiddleware はセッションクッキーとデモクッキーの両方を読み取り、
// クレジット消費の主体をリクエストコンテキストに注入するミドルウェアを返す。
// 未認証でも拒否しない。未認証かつデモ未開始の場合の扱いは
// Credit Gateの判定（RequireLogin）に委ねる。
// クレジットゲートを通るエンドポイント（分析・デモ）に適用する。
func NewSubjectMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := gate.Subject{}

			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to find session",
						slog.String("error", err.Error()),
					)
				} else if session != nil {
					subject.AccountID = session.AccountID
				}
			}

			// 認証済みならデモトークンは参照しない（相互排他）
			if subject.AccountID == "" {
				if cookie, err := r.Cookie(DemoCookieName); err == nil && cookie.Value != "" {
					subject.DemoToken = cookie.Value
				}
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// SubjectFromContext はリクエストコンテキストからクレジット消費主体を取得する。
// 主体ミドルウェアを通過していない場合は空のSubjectを返す。
func SubjectFromContext(ctx context.Context) gate.Subject {
	subject, ok := ctx.Value(subjectContextKey).(gate.Subject)
	if !ok {
		return gate.Subject{}
	}
	return subject
}

// ContextWithSubject はコンテキストにクレジット消費主体を注入する。
func ContextWithSubject(ctx context.Context, subject gate.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

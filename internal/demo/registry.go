// Package demo は未認証ユーザー向けの非永続クレジット許容量を提供する。
// アカウントも監査ログも作成せず、プロセスのメモリ上にのみ存在する。
package demo

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/productica/creditd/internal/model"
)

// DefaultGrant はデモモード開始時に付与される許容量。
// 永続アカウントの初期付与とは独立した小さな固定値。
const DefaultGrant = 3

// Registry はデモセッションごとの許容量を管理する。
// トークンはデモ専用クッキーに保存され、許容量はプロセス終了または
// サインインへの移行で破棄される。
type Registry struct {
	mu         sync.Mutex
	grant      int
	allowances map[string]int
}

// NewRegistry はRegistryを生成する。grantが0以下の場合はDefaultGrantを使用する。
func NewRegistry(grant int) *Registry {
	if grant <= 0 {
		grant = DefaultGrant
	}
	return &Registry{
		grant:      grant,
		allowances: make(map[string]int),
	}
}

// Enable はデモモードを開始し、新しいデモトークンを発行する。
// 許容量は固定のデモ付与数で初期化される。
func (r *Registry) Enable() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate demo token: %w", err)
	}

	r.mu.Lock()
	r.allowances[token] = r.grant
	r.mu.Unlock()

	return token, nil
}

// Consume は指定トークンの許容量からamountを消費し、残りを返す。
// 許容量が不足している場合は何も変更せずInsufficientCreditsを返す。
// 未知または破棄済みのトークンの場合はRequireLoginを返す。
func (r *Registry) Consume(token string, amount int) (int, error) {
	if amount <= 0 {
		return 0, model.NewInvalidAmountError(amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remaining, ok := r.allowances[token]
	if !ok {
		return 0, model.NewRequireLoginError()
	}
	if remaining < amount {
		return 0, model.NewInsufficientCreditsError(remaining, amount)
	}

	remaining -= amount
	r.allowances[token] = remaining
	return remaining, nil
}

// Balance は指定トークンの現在の許容量を返す。
// デモモードが有効でない場合はok=falseを返す。
func (r *Registry) Balance(token string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining, ok := r.allowances[token]
	return remaining, ok
}

// IsActive は指定トークンのデモモードが有効かどうかを返す。
func (r *Registry) IsActive(token string) bool {
	_, ok := r.Balance(token)
	return ok
}

// Discard は指定トークンの許容量を破棄する。
// サインイン完了時に呼ばれ、以降このトークンは参照されない。
func (r *Registry) Discard(token string) {
	r.mu.Lock()
	delete(r.allowances, token)
	r.mu.Unlock()
}

// generateToken は暗号学的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

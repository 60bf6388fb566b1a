// Package gate はクレジット消費アクションの可否を判定する単一の決定点を提供する。
// 機能側のコードはアカウントモードとデモモードの違いを意識しない。
package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/productica/creditd/internal/metrics"
	"github.com/productica/creditd/internal/model"
)

// Decision は認可判定の結果種別。
type Decision string

const (
	// DecisionAllowed は消費が適用済みで続行可能であることを示す。
	DecisionAllowed Decision = "allowed"
	// DecisionRequireLogin はログインまたはデモ開始が必要であることを示す。
	DecisionRequireLogin Decision = "require_login"
	// DecisionRequireTopUp は残高不足で購入導線が必要であることを示す。
	DecisionRequireTopUp Decision = "require_topup"
)

// Result は認可判定の結果。Allowedの場合のみNewBalanceが有効。
type Result struct {
	Decision   Decision
	NewBalance int
}

// Subject はリクエストの主体を表す。
// AccountIDが空でなければ認証済み、DemoTokenが空でなければデモモード候補。
// 両方空なら未認証。認証済みの場合デモトークンは参照されない。
type Subject struct {
	AccountID string
	DemoToken string
}

// IsAuthenticated は認証済みの主体かどうかを返す。
func (s Subject) IsAuthenticated() bool {
	return s.AccountID != ""
}

// CreditDeducter は永続アカウントからの消費インターフェース。
type CreditDeducter interface {
	Deduct(ctx context.Context, accountID string, amount int, description, module string) (int, error)
}

// DemoConsumer はデモ許容量からの消費インターフェース。
type DemoConsumer interface {
	IsActive(token string) bool
	Consume(token string, amount int) (int, error)
}

// Gate はクレジット消費の認可を判定する。
// アカウントモードではAccount Manager、デモモードではデモレジストリに委譲する。
// UIやハンドラーが残高を直接変更する経路は存在しない。
type Gate struct {
	accounts CreditDeducter
	demos    DemoConsumer
	metrics  metrics.MetricsCollector
}

// NewGate はGateの新しいインスタンスを生成する。
func NewGate(accounts CreditDeducter, demos DemoConsumer, collector metrics.MetricsCollector) *Gate {
	return &Gate{
		accounts: accounts,
		demos:    demos,
		metrics:  collector,
	}
}

// Authorize は「amountクレジットを消費してこのアクションを実行してよいか」を判定する。
// 判定ルール: 認証済みならAccount Manager、デモモードが有効ならデモレジストリ、
// どちらでもなければRequireLogin。
// Allowedが返った時点で消費は既に適用されている。
// 残高不足はRequireTopUpとして返り、エラーにはならない。
// ストア障害・更新競合・不正な引数のみerrorとして返す。
func (g *Gate) Authorize(ctx context.Context, subject Subject, amount int, description, module string) (Result, error) {
	if subject.IsAuthenticated() {
		return g.authorizeAccount(ctx, subject.AccountID, amount, description, module)
	}

	if subject.DemoToken != "" && g.demos.IsActive(subject.DemoToken) {
		return g.authorizeDemo(subject.DemoToken, amount)
	}

	return Result{Decision: DecisionRequireLogin}, nil
}

func (g *Gate) authorizeAccount(ctx context.Context, accountID string, amount int, description, module string) (Result, error) {
	newBalance, err := g.accounts.Deduct(ctx, accountID, amount, description, module)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInsufficientCredits {
			return Result{Decision: DecisionRequireTopUp}, nil
		}
		return Result{}, err
	}

	return Result{Decision: DecisionAllowed, NewBalance: newBalance}, nil
}

func (g *Gate) authorizeDemo(token string, amount int) (Result, error) {
	remaining, err := g.demos.Consume(token, amount)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case model.ErrCodeInsufficientCredits:
				return Result{Decision: DecisionRequireTopUp}, nil
			case model.ErrCodeRequireLogin:
				// IsActiveとConsumeの間で破棄された場合
				return Result{Decision: DecisionRequireLogin}, nil
			}
		}
		return Result{}, err
	}

	if g.metrics != nil {
		g.metrics.RecordDemoConsumption()
	}

	slog.Debug("デモクレジットを消費しました",
		slog.Int("amount", amount),
		slog.Int("remaining", remaining),
	)

	return Result{Decision: DecisionAllowed, NewBalance: remaining}, nil
}

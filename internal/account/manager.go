// Package account はクレジット残高と取引台帳の管理を提供する。
package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/productica/creditd/internal/metrics"
	"github.com/productica/creditd/internal/model"
	"github.com/productica/creditd/internal/repository"
)

// ProvisionParams はプロビジョニング時に外部IdPから受け取る属性。
type ProvisionParams struct {
	AccountID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Manager は永続化された残高の唯一の書き込み主体。
// 残高の変更は必ずトランザクションの追記と対になり、
// アカウント単位で直列化される。確認済みの書き込みの後にのみ
// プロセス内ミラーを更新する。
type Manager struct {
	accountRepo   repository.AccountRepository
	txnRepo       repository.TransactionRepository
	metrics       metrics.MetricsCollector
	startingGrant int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mirrorMu sync.RWMutex
	mirror   map[string]int
}

// NewManager はManagerの新しいインスタンスを生成する。
// startingGrantが0以下の場合はmodel.StartingGrantを使用する。
func NewManager(
	accountRepo repository.AccountRepository,
	txnRepo repository.TransactionRepository,
	collector metrics.MetricsCollector,
	startingGrant int,
) *Manager {
	if startingGrant <= 0 {
		startingGrant = model.StartingGrant
	}
	return &Manager{
		accountRepo:   accountRepo,
		txnRepo:       txnRepo,
		metrics:       collector,
		startingGrant: startingGrant,
		locks:         make(map[string]*sync.Mutex),
		mirror:        make(map[string]int),
	}
}

// lockAccount は指定アカウントのミューテックスを取得してロックする。
// 同一アカウントに対するdeduct/grantの同時実行を防ぐ。
func (m *Manager) lockAccount(accountID string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[accountID] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// setMirror は確認済みの残高でミラーを更新する。
func (m *Manager) setMirror(accountID string, credits int) {
	m.mirrorMu.Lock()
	m.mirror[accountID] = credits
	m.mirrorMu.Unlock()
}

// CurrentBalance はミラーから現在の残高を返す。
// 当該アカウントの残高をまだ読み書きしていない場合はok=falseを返す。
func (m *Manager) CurrentBalance(accountID string) (int, bool) {
	m.mirrorMu.RLock()
	defer m.mirrorMu.RUnlock()
	credits, ok := m.mirror[accountID]
	return credits, ok
}

// ClearMirror は指定アカウントのミラーを破棄する。
// サインアウト時に認証サービスから呼ばれる。
func (m *Manager) ClearMirror(accountID string) {
	m.mirrorMu.Lock()
	delete(m.mirror, accountID)
	m.mirrorMu.Unlock()
}

// Provision は初回ログイン時にアカウントを作成し、ウェルカムボーナスを付与する。
// アカウントが既に存在する場合は何も変更せずにそのまま返す（冪等）。
// アカウント行とボーナストランザクションは1つのSQLトランザクションで書き込まれる。
func (m *Manager) Provision(ctx context.Context, params ProvisionParams) (*model.Account, error) {
	unlock := m.lockAccount(params.AccountID)
	defer unlock()

	now := time.Now()
	acct := &model.Account{
		ID:          params.AccountID,
		Email:       params.Email,
		DisplayName: params.DisplayName,
		AvatarURL:   params.AvatarURL,
		Credits:     m.startingGrant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	bonus := &model.Transaction{
		ID:          uuid.New().String(),
		AccountID:   params.AccountID,
		Amount:      m.startingGrant,
		Kind:        model.KindBonus,
		Description: "welcome bonus",
		CreatedAt:   now,
	}

	created, err := m.accountRepo.CreateWithWelcomeBonus(ctx, acct, bonus)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	if m.metrics != nil {
		m.metrics.RecordProvision(created)
	}

	if !created {
		existing, err := m.accountRepo.FindByID(ctx, params.AccountID)
		if err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		if existing == nil {
			return nil, model.NewAccountNotFoundError(params.AccountID)
		}
		m.setMirror(existing.ID, existing.Credits)
		return existing, nil
	}

	slog.Info("アカウントを作成しました",
		slog.String("account_id", acct.ID),
		slog.Int("starting_grant", m.startingGrant),
	)

	m.setMirror(acct.ID, acct.Credits)
	return acct, nil
}

// Deduct は残高からクレジットを消費し、spentトランザクションを追記する。
// 残高不足の場合は何も書き込まずInsufficientCreditsを返す。
// 成功時は新しい残高を返す。残高を減らす唯一の経路。
func (m *Manager) Deduct(ctx context.Context, accountID string, amount int, description, module string) (int, error) {
	if amount <= 0 {
		return 0, model.NewInvalidAmountError(amount)
	}

	unlock := m.lockAccount(accountID)
	defer unlock()

	acct, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return 0, model.NewStoreUnavailableError(err)
	}
	if acct == nil {
		return 0, model.NewAccountNotFoundError(accountID)
	}

	if acct.Credits < amount {
		if m.metrics != nil {
			m.metrics.RecordInsufficientCredits()
		}
		return 0, model.NewInsufficientCreditsError(acct.Credits, amount)
	}

	newCredits := acct.Credits - amount
	txn := &model.Transaction{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Amount:      -amount,
		Kind:        model.KindSpent,
		Description: description,
		Module:      module,
		CreatedAt:   time.Now(),
	}

	if err := m.accountRepo.ApplyBalanceChange(ctx, accountID, acct.Credits, newCredits, txn); err != nil {
		if errors.Is(err, repository.ErrBalanceConflict) {
			if m.metrics != nil {
				m.metrics.RecordBalanceConflict()
			}
			slog.Warn("残高の更新が競合しました",
				slog.String("account_id", accountID),
				slog.Int("expected_credits", acct.Credits),
			)
			return 0, model.NewConcurrentModificationError()
		}
		return 0, model.NewStoreUnavailableError(err)
	}

	// 両方の書き込みが確定した後にのみミラーを進める
	m.setMirror(accountID, newCredits)

	if m.metrics != nil {
		m.metrics.RecordDeduction(module, amount)
	}

	slog.Info("クレジットを消費しました",
		slog.String("account_id", accountID),
		slog.Int("amount", amount),
		slog.Int("new_balance", newCredits),
		slog.String("module", module),
	)

	return newCredits, nil
}

// Grant は残高にクレジットを付与し、指定種別のトランザクションを追記する。
// 種別はbonusまたはpurchasedに限られる。成功時は新しい残高を返す。
func (m *Manager) Grant(ctx context.Context, accountID string, amount int, kind model.TransactionKind, description string) (int, error) {
	if amount <= 0 {
		return 0, model.NewInvalidAmountError(amount)
	}
	if !kind.IsGrantKind() {
		return 0, model.NewInvalidKindError(kind)
	}

	unlock := m.lockAccount(accountID)
	defer unlock()

	acct, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return 0, model.NewStoreUnavailableError(err)
	}
	if acct == nil {
		return 0, model.NewAccountNotFoundError(accountID)
	}

	newCredits := acct.Credits + amount
	txn := &model.Transaction{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		CreatedAt:   time.Now(),
	}

	if err := m.accountRepo.ApplyBalanceChange(ctx, accountID, acct.Credits, newCredits, txn); err != nil {
		if errors.Is(err, repository.ErrBalanceConflict) {
			if m.metrics != nil {
				m.metrics.RecordBalanceConflict()
			}
			return 0, model.NewConcurrentModificationError()
		}
		return 0, model.NewStoreUnavailableError(err)
	}

	m.setMirror(accountID, newCredits)

	if m.metrics != nil {
		m.metrics.RecordGrant(string(kind), amount)
	}

	slog.Info("クレジットを付与しました",
		slog.String("account_id", accountID),
		slog.Int("amount", amount),
		slog.String("kind", string(kind)),
		slog.Int("new_balance", newCredits),
	)

	return newCredits, nil
}

// History は指定アカウントのトランザクション履歴を新しい順で返す。
func (m *Manager) History(ctx context.Context, accountID string) ([]*model.Transaction, error) {
	txns, err := m.txnRepo.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return txns, nil
}

// Balance は現在の残高を返す。ミラーが温まっていればその値を返し、
// そうでなければストアから読み込んでミラーを更新する。
// ミラーは確認済みの書き込みの後にのみ更新されるため、ストア読み込みと乖離しない。
func (m *Manager) Balance(ctx context.Context, accountID string) (int, error) {
	if credits, ok := m.CurrentBalance(accountID); ok {
		return credits, nil
	}

	acct, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return 0, model.NewStoreUnavailableError(err)
	}
	if acct == nil {
		return 0, model.NewAccountNotFoundError(accountID)
	}
	m.setMirror(accountID, acct.Credits)
	return acct.Credits, nil
}

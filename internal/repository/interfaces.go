// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/productica/creditd/internal/model"
)

// ErrBalanceConflict は残高の楽観的更新が競合したことを示す。
// 期待した残高と実際の残高が一致せず、書き込みが適用されなかった場合に返される。
// 呼び出し側は残高を再読み込みして再試行するかどうかを判断する（黙って上書きはしない）。
var ErrBalanceConflict = errors.New("balance was modified concurrently")

// AccountRepository はアカウントデータの永続化インターフェース。
// 残高の書き込みとトランザクションの追記は常に1つのSQLトランザクションで行われ、
// 両方が適用されるか、どちらも適用されないかのいずれかになる。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// CreateWithWelcomeBonus はアカウントとウェルカムボーナスのトランザクションを
	// 同一SQLトランザクションで作成する。
	// 既に同一IDのアカウントが存在する場合は何も作成せずcreated=falseを返す（冪等）。
	// ボーナストランザクションはアカウント行が実際に挿入された場合にのみ追記される。
	CreateWithWelcomeBonus(ctx context.Context, account *model.Account, bonus *model.Transaction) (created bool, err error)

	// ApplyBalanceChange は残高の更新とトランザクションの追記を1つの原子的な単位として適用する。
	// 残高の更新は expectedCredits との比較付きUPDATE（楽観的ロック）で行われ、
	// 現在の残高がexpectedCreditsと一致しない場合はErrBalanceConflictを返し、何も書き込まない。
	// newCreditsは負であってはならない（DBのCHECK制約でも保証される）。
	ApplyBalanceChange(ctx context.Context, accountID string, expectedCredits, newCredits int, txn *model.Transaction) error

	// ListIDs は全アカウントのIDを返す。reconcileジョブの走査に使用する。
	ListIDs(ctx context.Context) ([]string, error)
}

// TransactionRepository はクレジットトランザクションの参照インターフェース。
// 追記はAccountRepositoryの操作に含まれるため、ここには読み取りのみを定義する。
type TransactionRepository interface {
	// ListByAccountID は指定アカウントの全トランザクションを新しい順
	// （created_at降順、同時刻は挿入順の逆）で返す。
	ListByAccountID(ctx context.Context, accountID string) ([]*model.Transaction, error)

	// SumByAccountID は指定アカウントの全トランザクションのamount合計を返す。
	// 台帳整合性の検査（reconcileジョブ）に使用する。
	SumByAccountID(ctx context.Context, accountID string) (int, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByAccountID は指定アカウントの全セッションを削除する。
	DeleteByAccountID(ctx context.Context, accountID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

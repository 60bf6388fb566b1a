package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/productica/creditd/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, avatar_url, credits, created_at, updated_at
		 FROM accounts WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.Email, &account.DisplayName, &account.AvatarURL,
		&account.Credits, &account.CreatedAt, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	return account, nil
}

// CreateWithWelcomeBonus はアカウントとウェルカムボーナスのトランザクションを
// 同一SQLトランザクションで作成する。
// ON CONFLICT DO NOTHINGにより同一IDへの同時作成でも1回しか挿入されず、
// ボーナスはアカウント行が実際に挿入された場合にのみ追記される（冪等）。
func (r *PostgresAccountRepo) CreateWithWelcomeBonus(ctx context.Context, account *model.Account, bonus *model.Transaction) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, display_name, avatar_url, credits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		account.ID, account.Email, account.DisplayName, account.AvatarURL,
		account.Credits, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert account: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 0 {
		// 既存アカウント: ボーナスは付与済みなので何もしない
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount, kind, description, module, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bonus.ID, bonus.AccountID, bonus.Amount, string(bonus.Kind),
		bonus.Description, nullableString(bonus.Module), bonus.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert welcome bonus transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// ApplyBalanceChange は残高の更新とトランザクションの追記を1つの原子的な単位として適用する。
// 楽観的ロック: UPDATE ... WHERE id = $1 AND credits = $expected が0行だった場合は
// ErrBalanceConflictを返してロールバックする。他プロセスからの同時更新を黙って
// 上書きすることはない。
func (r *PostgresAccountRepo) ApplyBalanceChange(ctx context.Context, accountID string, expectedCredits, newCredits int, txn *model.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET credits = $1, updated_at = now()
		 WHERE id = $2 AND credits = $3`,
		newCredits, accountID, expectedCredits,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if updated == 0 {
		return ErrBalanceConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount, kind, description, module, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.AccountID, txn.Amount, string(txn.Kind),
		txn.Description, nullableString(txn.Module), txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit balance change: %w", err)
	}

	return nil
}

// ListIDs は全アカウントのIDを作成順で返す。
func (r *PostgresAccountRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list account IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account IDs: %w", err)
	}

	return ids, nil
}

// nullableString は空文字列をNULLとして保存するためのヘルパー。
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)

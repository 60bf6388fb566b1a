package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/productica/creditd/internal/model"
)

// PostgresTransactionRepo はPostgreSQLを使用したクレジットトランザクションリポジトリ。
// トランザクションは追記専用のため、読み取り操作のみを提供する。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

// ListByAccountID は指定アカウントの全トランザクションを新しい順で返す。
// created_at降順、同時刻はid降順（挿入順の逆）で並べる。
func (r *PostgresTransactionRepo) ListByAccountID(ctx context.Context, accountID string) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, amount, kind, description, module, created_at
		 FROM credit_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*model.Transaction
	for rows.Next() {
		txn := &model.Transaction{}
		var kind string
		var module sql.NullString
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Amount, &kind,
			&txn.Description, &module, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Kind = model.TransactionKind(kind)
		txn.Module = module.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txns, nil
}

// SumByAccountID は指定アカウントの全トランザクションのamount合計を返す。
// トランザクションが存在しない場合は0を返す。
func (r *PostgresTransactionRepo) SumByAccountID(ctx context.Context, accountID string) (int, error) {
	var sum int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = $1`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)

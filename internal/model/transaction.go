// Package model はドメインモデルを定義する。
package model

import "time"

// TransactionKind はクレジット変動の種別を表す。
type TransactionKind string

const (
	// KindBonus は無料付与（ウェルカムボーナス等）を示す。
	KindBonus TransactionKind = "bonus"
	// KindPurchased は購入による付与を示す。
	KindPurchased TransactionKind = "purchased"
	// KindSpent は機能利用による消費を示す。
	KindSpent TransactionKind = "spent"
	// KindEarned はキャンペーン等による獲得を示す。
	KindEarned TransactionKind = "earned"
)

// IsValid は既知の種別かどうかを判定する。
func (k TransactionKind) IsValid() bool {
	switch k {
	case KindBonus, KindPurchased, KindSpent, KindEarned:
		return true
	default:
		return false
	}
}

// IsGrantKind はGrant操作で許可される種別（bonus, purchased）かどうかを判定する。
func (k TransactionKind) IsGrantKind() bool {
	return k == KindBonus || k == KindPurchased
}

// Transaction はクレジット残高の変動を記録する追記専用の監査レコード。
// 一度追記されたら変更・削除されない。
// 不変条件: あるアカウントの全Transactionのamount合計は、
// そのアカウントの現在のCreditsと常に一致する。
type Transaction struct {
	ID          string
	AccountID   string
	Amount      int // 付与は正、消費は負の符号付き整数
	Kind        TransactionKind
	Description string
	Module      string // 消費を発生させた機能/エージェント名（任意）
	CreatedAt   time.Time
}

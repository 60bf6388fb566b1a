// Package model はドメインモデルを定義する。
package model

import "time"

// StartingGrant は新規アカウント作成時に付与される無料クレジット数。
const StartingGrant = 5

// Account はクレジット残高を持つサービス利用アカウントを表す。
// 外部IdPでの初回ログイン時に1回だけ作成され、このサブシステムから削除されることはない。
// Creditsは常に0以上であり、残高の変更はAccount Manager経由でのみ行われる。
type Account struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	Credits     int
	CreatedAt   time.Time
	UpdatedAt   time.Time // 残高変更のたびに前進する
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	AccountID      string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はアカウントのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, credit, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInsufficientCredits    = "INSUFFICIENT_CREDITS"
	ErrCodeRequireLogin           = "REQUIRE_LOGIN"
	ErrCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidAmount          = "INVALID_AMOUNT"
	ErrCodeInvalidKind            = "INVALID_KIND"
	ErrCodeInferenceFailed        = "INFERENCE_FAILED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
)

// NewInsufficientCreditsError は残高不足エラーを生成する。
// 回復可能なエラーであり、呼び出し側はクレジット購入への導線を表示する。
func NewInsufficientCreditsError(balance, requested int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientCredits,
		Message:  fmt.Sprintf("クレジットが不足しています（残高: %d、必要: %d）。", balance, requested),
		Category: "credit",
		Action:   "クレジットを購入してから再度お試しください。",
	}
}

// NewRequireLoginError は未認証かつデモモード無効の状態を表すエラーを生成する。
func NewRequireLoginError() *APIError {
	return &APIError{
		Code:     ErrCodeRequireLogin,
		Message:  "この機能の利用にはログインまたはデモモードの開始が必要です。",
		Category: "auth",
		Action:   "ログインするか、デモモードを開始してください。",
	}
}

// NewStoreUnavailableError はデータストアへの読み書き失敗を表すエラーを生成する。
// 残高ミラーは更新されないため、呼び出し側は操作が行われなかったものとして扱う。
func NewStoreUnavailableError(cause error) *APIError {
	msg := "データストアへのアクセスに失敗しました。"
	if cause != nil {
		msg = fmt.Sprintf("データストアへのアクセスに失敗しました: %v", cause)
	}
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  msg,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewConcurrentModificationError は残高の楽観的更新競合を表すエラーを生成する。
// 致命的エラーではなく、呼び出し側が残高を再読み込みして1回だけ再試行することを想定する。
func NewConcurrentModificationError() *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentModification,
		Message:  "残高が他の操作により変更されました。",
		Category: "credit",
		Action:   "最新の残高を確認してから再度お試しください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidAmountError は0以下の金額が指定された場合のエラーを生成する。
func NewInvalidAmountError(amount int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmount,
		Message:  fmt.Sprintf("無効なクレジット数です: %d", amount),
		Category: "validation",
		Action:   "1以上のクレジット数を指定してください。",
	}
}

// NewInvalidKindError はGrant操作で許可されない種別が指定された場合のエラーを生成する。
func NewInvalidKindError(kind TransactionKind) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKind,
		Message:  fmt.Sprintf("無効なトランザクション種別です: %s", kind),
		Category: "validation",
		Action:   "付与にはbonusまたはpurchasedを指定してください。",
	}
}

// NewInferenceFailedError はAI分析呼び出しの失敗を表すエラーを生成する。
func NewInferenceFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeInferenceFailed,
		Message:  "AI分析の実行に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

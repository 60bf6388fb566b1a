package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/productica/creditd/internal/middleware"
	"github.com/productica/creditd/internal/model"
)

// CreditManagerInterface はクレジットハンドラーが必要とするAccount Managerのインターフェース。
type CreditManagerInterface interface {
	// Balance はアカウントの現在残高を返す。
	Balance(ctx context.Context, accountID string) (int, error)
	// History はアカウントの取引履歴を新しい順で返す。
	History(ctx context.Context, accountID string) ([]*model.Transaction, error)
	// Grant は残高を加算し取引を記録する。
	Grant(ctx context.Context, accountID string, amount int, kind model.TransactionKind, description string) (int, error)
}

// DemoBalanceReader はデモ残高参照のためのインターフェース。
type DemoBalanceReader interface {
	Balance(token string) (int, bool)
}

// CreditHandler はクレジット残高・履歴・購入のHTTPハンドラー。
type CreditHandler struct {
	manager CreditManagerInterface
	demos   DemoBalanceReader
}

// NewCreditHandler はCreditHandlerを生成する。
func NewCreditHandler(manager CreditManagerInterface, demos DemoBalanceReader) *CreditHandler {
	return &CreditHandler{
		manager: manager,
		demos:   demos,
	}
}

// balanceResponse は残高レスポンス。
type balanceResponse struct {
	Credits int    `json:"credits"`
	Mode    string `json:"mode"` // "account" または "demo"
}

// purchaseRequest はクレジット購入リクエストのボディ。
type purchaseRequest struct {
	Amount int `json:"amount"`
}

// transactionResponse は取引履歴1件のAPIレスポンス。
type transactionResponse struct {
	ID          string    `json:"id"`
	Amount      int       `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Module      string    `json:"module,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// GetBalance は現在のモードに応じた残高を返す。
// 認証済みならアカウント残高、デモ中ならデモ残量を返す。
// GET /api/credits
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	if subject.IsAuthenticated() {
		credits, err := h.manager.Balance(r.Context(), subject.AccountID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(balanceResponse{Credits: credits, Mode: "account"})
		return
	}

	if subject.DemoToken != "" {
		if remaining, ok := h.demos.Balance(subject.DemoToken); ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(balanceResponse{Credits: remaining, Mode: "demo"})
			return
		}
	}

	handleServiceError(w, model.NewRequireLoginError())
}

// GetHistory は認証済みアカウントの取引履歴を返す。
// GET /api/credits/history
func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return
	}

	txns, err := h.manager.History(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	res := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		res = append(res, toTransactionResponse(txn))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": res,
	})
}

// Purchase はクレジットを購入付与する。
// 決済処理自体はこのサブシステムの範囲外であり、検証済みの金額をそのまま付与する。
// POST /api/credits/purchase
func (h *CreditHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	newBalance, err := h.manager.Grant(r.Context(), accountID, req.Amount, model.KindPurchased, "credit purchase")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("credits purchased",
		slog.String("account_id", accountID),
		slog.Int("amount", req.Amount),
		slog.Int("new_balance", newBalance),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceResponse{Credits: newBalance, Mode: "account"})
}

// --- ヘルパー関数 ---

// toTransactionResponse はmodel.TransactionからAPIレスポンスに変換する。
func toTransactionResponse(txn *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:          txn.ID,
		Amount:      txn.Amount,
		Kind:        string(txn.Kind),
		Description: txn.Description,
		Module:      txn.Module,
		CreatedAt:   txn.CreatedAt,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

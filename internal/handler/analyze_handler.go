package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/productica/creditd/internal/gate"
	"github.com/productica/creditd/internal/middleware"
	"github.com/productica/creditd/internal/model"
	"github.com/productica/creditd/internal/security"
)

// analyzeCost は1回の分析リクエストで消費するクレジット数。
const analyzeCost = 1

// CreditAuthorizer は分析ハンドラーが必要とするCredit Gateのインターフェース。
type CreditAuthorizer interface {
	Authorize(ctx context.Context, subject gate.Subject, amount int, description, module string) (gate.Result, error)
}

// InferenceClientInterface はAI分析呼び出しのインターフェース。
type InferenceClientInterface interface {
	Analyze(ctx context.Context, subjectID, input string) (string, error)
}

// AnalyzeHandler はクレジット消費を伴う分析リクエストのHTTPハンドラー。
type AnalyzeHandler struct {
	gate      CreditAuthorizer
	inference InferenceClientInterface
	sanitizer security.ContentSanitizerService
}

// NewAnalyzeHandler はAnalyzeHandlerを生成する。
func NewAnalyzeHandler(authorizer CreditAuthorizer, inference InferenceClientInterface, sanitizer security.ContentSanitizerService) *AnalyzeHandler {
	return &AnalyzeHandler{
		gate:      authorizer,
		inference: inference,
		sanitizer: sanitizer,
	}
}

// analyzeRequest は分析リクエストのボディ。
type analyzeRequest struct {
	Message string `json:"message"`
	Module  string `json:"module,omitempty"`
}

// analyzeResponse は分析レスポンス。
type analyzeResponse struct {
	Reply   string `json:"reply"`
	Credits int    `json:"credits"`
}

// Analyze は1クレジットを消費してAI分析を実行する。
// 消費の可否はCredit Gateが判定する。ゲート通過後の推論失敗では
// 消費済みクレジットは戻らない（取引は既に確定している）。
// POST /api/analyze
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	// HTMLタグ・スクリプトを除去した平文のみを推論エンドポイントに渡す
	message := h.sanitizer.PlainText(req.Message)
	if message == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "メッセージが空です。",
			Category: "validation",
			Action:   "メッセージを入力してください。",
		})
		return
	}

	result, err := h.gate.Authorize(r.Context(), subject, analyzeCost, "AI Analysis", req.Module)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	switch result.Decision {
	case gate.DecisionRequireLogin:
		handleServiceError(w, model.NewRequireLoginError())
		return
	case gate.DecisionRequireTopUp:
		handleServiceError(w, model.NewInsufficientCreditsError(result.NewBalance, analyzeCost))
		return
	}

	subjectID := subject.AccountID
	if subjectID == "" {
		subjectID = subject.DemoToken
	}

	reply, err := h.inference.Analyze(r.Context(), subjectID, message)
	if err != nil {
		// クレジットは既に消費済み。取引は取り消さない
		slog.Warn("inference failed after deduction",
			slog.String("subject", subjectID),
			slog.Int("remaining", result.NewBalance),
		)
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analyzeResponse{
		Reply:   reply,
		Credits: result.NewBalance,
	})
}

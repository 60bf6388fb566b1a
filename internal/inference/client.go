// Package inference はAI分析バックエンドへのHTTPクライアントを提供する。
// 契約は文字列入力・文字列出力であり、プロンプトの構築やモデルの選択は
// バックエンド側の責務とする。
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/productica/creditd/internal/metrics"
	"github.com/productica/creditd/internal/model"
)

// maxResponseBytes はレスポンスボディの最大読み取りサイズ。
const maxResponseBytes = 1 << 20 // 1MiB

// Client はAI分析バックエンドのクライアント。
// リクエストはBearerトークンで認証され、SSRF防止付きのHTTPクライアント経由で送信される。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, collector metrics.MetricsCollector, endpoint, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// inferenceRequest はバックエンドへのリクエストボディ。
type inferenceRequest struct {
	UserID string `json:"user_id"`
	Input  string `json:"in-0"`
}

// inferenceResponse はバックエンドのレスポンスボディ。
// 出力は "out-0" 直下か "outputs" 配下のどちらかに入る。
type inferenceResponse struct {
	Output  string `json:"out-0"`
	Outputs struct {
		Output string `json:"out-0"`
	} `json:"outputs"`
}

// Analyze は入力テキストをバックエンドに送信し、分析結果の文字列を返す。
// 失敗時はINFERENCE_FAILEDを返す。クレジットの消費は呼び出し元の責務であり、
// この層は残高に一切関与しない。
func (c *Client) Analyze(ctx context.Context, subjectID, input string) (string, error) {
	body, err := json.Marshal(inferenceRequest{
		UserID: subjectID,
		Input:  input,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストボディの構築に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "Productica/1.0 Credit Service")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordInferenceLatency(time.Since(start))
	}
	if err != nil {
		c.recordFailure("分析バックエンドの呼び出しに失敗しました", slog.String("error", err.Error()))
		return "", model.NewInferenceFailedError()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordFailure("分析バックエンドがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", model.NewInferenceFailedError()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordFailure("レスポンスボディの読み取りに失敗しました", slog.String("error", err.Error()))
		return "", model.NewInferenceFailedError()
	}

	output, err := extractOutput(raw)
	if err != nil {
		c.recordFailure("レスポンスの解釈に失敗しました", slog.String("error", err.Error()))
		return "", model.NewInferenceFailedError()
	}

	return output, nil
}

// extractOutput はレスポンスから出力文字列を取り出す。
// JSONでない場合はボディ全体を出力として扱う。
func extractOutput(raw []byte) (string, error) {
	var parsed inferenceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if len(raw) == 0 {
			return "", fmt.Errorf("empty response body")
		}
		return string(raw), nil
	}
	if parsed.Output != "" {
		return parsed.Output, nil
	}
	if parsed.Outputs.Output != "" {
		return parsed.Outputs.Output, nil
	}
	return "", fmt.Errorf("no output field in response")
}

func (c *Client) recordFailure(msg string, attrs ...any) {
	if c.metrics != nil {
		c.metrics.RecordInferenceFailure()
	}
	if c.logger != nil {
		c.logger.Error(msg, attrs...)
	}
}

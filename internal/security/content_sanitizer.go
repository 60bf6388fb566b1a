// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はユーザー入力（分析テキスト、取引の説明文、
// 表示名）をサニタイズし、XSS攻撃などのセキュリティリスクから保護する。
// bluemondayライブラリの許可リストベースのポリシーでタグを除去し、
// 保存・応答・分析バックエンドへの転送の前に適用される。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService はユーザー入力のサニタイズ機能のインターフェースを定義する。
// 取引の説明文・モジュール名の保存前、および分析入力の転送前に使用される。
type ContentSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去したプレーンテキストを返す。
	// script, iframe, style等のタグとその属性はすべて除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string

	// PlainText はHTML断片からテキストノードのみを抽出し、
	// 連続する空白を1つにまとめて返す。分析入力の正規化に使用する。
	PlainText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// クレジット台帳に保存される文字列はマークアップを一切持たないため、
// タグをすべて除去するStrictPolicyを使用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からすべてのHTMLタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// PlainText はHTML断片からテキストノードのみを抽出する。
// パースに失敗した場合はSanitizeの結果にフォールバックする。
func (s *contentSanitizer) PlainText(raw string) string {
	node, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return s.Sanitize(raw)
	}

	var b strings.Builder
	collectText(node, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// collectText はテキストノードを深さ優先で収集する。
// script/style配下のテキストは出力に含めない。
func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

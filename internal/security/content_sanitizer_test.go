package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsAllTags はすべてのHTMLタグが除去されることを検証する。
func TestSanitize_StripsAllTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pタグが除去される",
			input: "<p>テスト段落</p>",
			want:  "テスト段落",
		},
		{
			name:  "strongタグが除去される",
			input: "重要: <strong>太字テキスト</strong>",
			want:  "重要: 太字テキスト",
		},
		{
			name:  "aタグが除去されテキストのみ残る",
			input: `<a href="https://example.com">リンク</a>`,
			want:  "リンク",
		},
		{
			name:  "divとspanが除去される",
			input: `<div><span>入れ子の内容</span></div>`,
			want:  "入れ子の内容",
		},
		{
			name:  "imgタグが完全に除去される",
			input: `前<img src="https://example.com/image.png" alt="画像">後`,
			want:  "前後",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_XSSPayloads は典型的なXSSペイロードが無害化されることを検証する。
func TestSanitize_XSSPayloads(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "scriptタグ",
			input:      `分析して<script>alert('xss')</script>ください`,
			wantAbsent: []string{"<script", "alert"},
		},
		{
			name:       "iframeタグ",
			input:      `<iframe src="https://evil.com"></iframe>テスト`,
			wantAbsent: []string{"<iframe", "evil.com"},
		},
		{
			name:       "SVG onloadによるXSS",
			input:      `<svg onload="alert('xss')">`,
			wantAbsent: []string{"<svg", "onload", "alert"},
		},
		{
			name:       "img onerrorによるXSS",
			input:      `<img src="x" onerror="alert('xss')">`,
			wantAbsent: []string{"onerror", "alert"},
		},
		{
			name:       "javascript URI",
			input:      `<a href="javascript:alert('xss')">クリック</a>`,
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "イベントハンドラの大文字混在",
			input:      `<p OnClick="alert('xss')">テスト</p>`,
			wantAbsent: []string{"OnClick", "onclick", "alert"},
		},
		{
			name:       "styleタグ",
			input:      `<style>body{display:none}</style>説明文`,
			wantAbsent: []string{"<style", "display:none"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(strings.ToLower(got), strings.ToLower(absent)) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q (case-insensitive)", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_EmptyInput は空文字列の入力を安全に処理できることを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize("")
	if got != "" {
		t.Errorf("Sanitize(\"\") = %q, expected empty string", got)
	}
}

// TestSanitize_PlainTextUnchanged はプレーンテキストがそのまま通過することを検証する。
func TestSanitize_PlainTextUnchanged(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "AI Analysis - このビジネスアイデアを分析してください。"
	got := sanitizer.Sanitize(input)
	if got != input {
		t.Errorf("Sanitize(%q) = %q, expected unchanged", input, got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力（冪等性）を検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>テスト<strong>太字</strong></p><a href="https://example.com">リンク</a>`

	result1 := sanitizer.Sanitize(input)
	result2 := sanitizer.Sanitize(input)
	result3 := sanitizer.Sanitize(result1) // 二重サニタイズ

	if result1 != result2 {
		t.Errorf("冪等性違反: 1回目=%q, 2回目=%q", result1, result2)
	}
	if result1 != result3 {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 二重=%q", result1, result3)
	}
}

// TestSanitize_TrimsWhitespace は前後の空白が除去されることを検証する。
func TestSanitize_TrimsWhitespace(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize("  <p>説明文</p>  ")
	if got != "説明文" {
		t.Errorf("Sanitize = %q, want %q", got, "説明文")
	}
}

// TestPlainText_ExtractsTextNodes はテキストノードの抽出と空白の正規化を検証する。
func TestPlainText_ExtractsTextNodes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "入れ子のタグからテキストを抽出",
			input: "<div><p>段落1</p>\n<p>段落2</p></div>",
			want:  "段落1 段落2",
		},
		{
			name:  "連続する空白が1つにまとまる",
			input: "語1   語2\n\n語3",
			want:  "語1 語2 語3",
		},
		{
			name:  "script配下のテキストは含めない",
			input: `<p>本文</p><script>var secret = 1;</script>`,
			want:  "本文",
		},
		{
			name:  "style配下のテキストは含めない",
			input: `<style>.x{color:red}</style><p>本文</p>`,
			want:  "本文",
		},
		{
			name:  "プレーンテキストはそのまま",
			input: "分析対象のテキスト",
			want:  "分析対象のテキスト",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.PlainText(tt.input)
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestContentSanitizerInterface はContentSanitizerServiceインターフェースの適合を検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}

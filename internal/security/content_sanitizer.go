// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はイベントのタイトル・場所・説明文に含まれるHTMLを除去または制限し、
// 一覧画面でのXSSを防ぐ。bluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はイベント入力値のサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// SanitizeText はすべてのHTMLタグを除去したプレーンテキストを返す。
	// タイトルや場所など、HTMLを含むべきでない短いフィールドに使用する。
	SanitizeText(raw string) string

	// SanitizeDescription は説明文のHTMLをサニタイズする。
	// 許可タグ（p, br, ul, ol, li, strong, em, a）のみを通過させ、
	// aタグのhrefはhttpsスキームのみ許可する。
	SanitizeDescription(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーは並行利用に対して安全。
type contentSanitizer struct {
	text        *bluemonday.Policy
	description *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	d := bluemonday.NewPolicy()
	d.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	// aタグ: 絶対URLのhttpsのみ、target="_blank"とrel="noopener noreferrer"を付与
	d.AllowAttrs("href").OnElements("a")
	d.AllowURLSchemes("https")
	d.AllowRelativeURLs(false)
	d.AddTargetBlankToFullyQualifiedLinks(true)
	d.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		text:        bluemonday.StrictPolicy(),
		description: d,
	}
}

// SanitizeText はすべてのHTMLタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す（JSONで返すためHTMLエスケープは不要）。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.text.Sanitize(raw)))
}

// SanitizeDescription は説明文のHTMLをサニタイズする。
func (s *contentSanitizer) SanitizeDescription(raw string) string {
	return strings.TrimSpace(s.description.Sanitize(raw))
}

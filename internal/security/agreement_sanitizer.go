// Package security はアプリケーションのセキュリティ機能を提供する。
//
// AgreementSanitizer はMarkdownから変換された規約HTMLをサニタイズする。
// 規約本文は生HTMLの埋め込みを許可して変換するため、表示前に
// bluemondayの許可リストポリシーで安全なタグと属性のみを通過させる。
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// script, iframe, styleタグおよびon*イベント属性は除去される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(rawHTML string) string
}

// 見出しの自動ID（goldmarkのAutoHeadingID）に一致するパターン
var headingIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AgreementSanitizer はContentSanitizerの規約向け実装。
// bluemondayのポリシーはスレッドセーフなので複数リクエストから共有できる。
type AgreementSanitizer struct {
	policy *bluemonday.Policy
}

// NewAgreementSanitizer はAgreementSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: 見出し, 段落, リスト, 引用, コード, 強調, 表, 水平線
//   - 見出しのid属性（ページ内リンク用）
//   - aタグ: http/https/mailtoと相対URLのみ、rel="nofollow"を付与
func NewAgreementSanitizer() *AgreementSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del", "sup", "sub",
		"dl", "dt", "dd",
	)
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("id").Matching(headingIDPattern).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	// GFMの表
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|right|center)$`)).OnElements("th", "td")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireNoFollowOnLinks(true)

	return &AgreementSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *AgreementSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}

// compile-time interface check
var _ ContentSanitizer = (*AgreementSanitizer)(nil)

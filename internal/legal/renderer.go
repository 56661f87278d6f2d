package legal

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/security"
)

// RenderContext は規約テンプレートに渡すコンテキスト。
// テンプレートからは{{.Organization.FullName}}のように参照する。
type RenderContext struct {
	Organization *model.Organization
}

// Renderer は規約のMarkdownテンプレートをHTMLに変換する。
// テンプレート展開、Markdown変換、サニタイズの順に処理する。
type Renderer struct {
	markdown  goldmark.Markdown
	sanitizer security.ContentSanitizer
}

// NewRenderer はRendererを生成する。
// GFM拡張と見出しの自動IDを有効にし、本文中の生HTMLはsanitizerで除去する。
func NewRenderer(sanitizer security.ContentSanitizer) *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	return &Renderer{
		markdown:  md,
		sanitizer: sanitizer,
	}
}

// Render はsrcをdataで展開し、サニタイズ済みのHTMLを返す。
func (r *Renderer) Render(src *Source, data RenderContext) (string, error) {
	if data.Organization == nil {
		data.Organization = &model.Organization{}
	}

	tmpl, err := template.New(ResourceName(src.Slug)).Parse(string(src.Body))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", ResourceName(src.Slug), err)
	}

	var expanded bytes.Buffer
	if err := tmpl.Execute(&expanded, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", ResourceName(src.Slug), err)
	}

	var out bytes.Buffer
	if err := r.markdown.Convert(expanded.Bytes(), &out); err != nil {
		return "", fmt.Errorf("markdown convert %s: %w", ResourceName(src.Slug), err)
	}

	return r.sanitizer.Sanitize(out.String()), nil
}

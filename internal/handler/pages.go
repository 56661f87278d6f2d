package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名
const (
	pageIndex     = "index.html"
	pageAgreement = "agreement.html"
	pageSign      = "sign.html"
	pageError     = "error.html"
)

// RequestInfo はテンプレートに渡すリクエスト情報。
type RequestInfo struct {
	Path   string
	Host   string
	UserID string
	User   *model.User
}

// PageData はページテンプレートに渡すデータ。
type PageData struct {
	Page         template.HTML
	Organization *model.Organization
	Request      RequestInfo

	Agreement  *model.Agreement
	Agreements []*model.Agreement

	Form             *legal.SignatureForm
	CSRFField        string
	CSRFToken        string
	Next             string
	Signature        *model.Signature
	SignatureCurrent bool

	Status int
	Error  *model.APIError
}

// Pages はレイアウトと各ページを組み合わせたテンプレート集合。
type Pages struct {
	templates map[string]*template.Template
}

// NewPages は埋め込みテンプレートを解析してPagesを生成する。
func NewPages() (*Pages, error) {
	p := &Pages{templates: make(map[string]*template.Template)}
	for _, name := range []string{pageIndex, pageAgreement, pageSign, pageError} {
		tmpl, err := template.New("layout.html").ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// MustNewPages はNewPagesを実行し、失敗時はpanicする。
// 埋め込みテンプレートの解析失敗はビルド不備のため起動時に検出する。
func MustNewPages() *Pages {
	p, err := NewPages()
	if err != nil {
		panic(err)
	}
	return p
}

// Render は指定ページをレンダリングしてレスポンスに書き込む。
// 実行エラー時に部分的なHTMLを返さないよう、バッファに書き出してから送信する。
func (p *Pages) Render(w http.ResponseWriter, status int, name string, data *PageData) {
	tmpl, ok := p.templates[name]
	if !ok {
		slog.Error("unknown page template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

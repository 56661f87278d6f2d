package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/security"
)

// LegalServiceInterface は規約ハンドラーが必要とするサービスインターフェース。
// legal.Serviceが満たす。
type LegalServiceInterface interface {
	// ListAgreements はプロバイダーの規約一覧を返す。空文字列はブローカーを表す。
	ListAgreements(ctx context.Context, providerSlug string) (*model.Organization, []*model.Agreement, error)
	// GetAgreement はスラッグに対応する規約を返す。
	GetAgreement(ctx context.Context, slug string) (*model.Agreement, error)
	// RenderAgreement は規約をレンダリングする。
	RenderAgreement(ctx context.Context, slug string) (*legal.AgreementPage, error)
	// Sign はフォームを検証して署名を記録する。
	Sign(ctx context.Context, slug, userID string, form *legal.SignatureForm) (*model.Signature, error)
	// CurrentSignature はユーザーの署名を返す。未署名の場合はnil。
	CurrentSignature(ctx context.Context, agreement *model.Agreement, userID string) (*model.Signature, error)
}

// UserFinder はページヘッダーに表示するユーザーの取得インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// RedirectRecorder は拒否したリダイレクト先を記録するインターフェース。
type RedirectRecorder interface {
	RecordRedirectRejected()
}

// LegalHandlerConfig はLegalHandlerの設定。
type LegalHandlerConfig struct {
	// LoginURL は未ログイン時の遷移先。
	LoginURL string
	// LoginRedirectURL は安全でない、または未指定のnextの代わりに使うリダイレクト先。
	LoginRedirectURL string
}

// LegalHandler は規約ページ（HTML）のHTTPハンドラー。
type LegalHandler struct {
	service  LegalServiceInterface
	users    UserFinder
	pages    *Pages
	recorder RedirectRecorder
	config   LegalHandlerConfig
}

// NewLegalHandler はLegalHandlerを生成する。usersとrecorderはnilでもよい。
func NewLegalHandler(service LegalServiceInterface, users UserFinder, pages *Pages, recorder RedirectRecorder, config LegalHandlerConfig) *LegalHandler {
	if config.LoginURL == "" {
		config.LoginURL = "/login/"
	}
	if config.LoginRedirectURL == "" {
		config.LoginRedirectURL = "/"
	}
	return &LegalHandler{
		service:  service,
		users:    users,
		pages:    pages,
		recorder: recorder,
		config:   config,
	}
}

// List はブローカーの規約一覧を表示する。
// GET /legal
func (h *LegalHandler) List(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, "")
}

// ProviderList はプロバイダーの規約一覧を表示する。
// GET /providers/{provider}/legal
func (h *LegalHandler) ProviderList(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, chi.URLParam(r, "provider"))
}

func (h *LegalHandler) renderList(w http.ResponseWriter, r *http.Request, providerSlug string) {
	org, agreements, err := h.service.ListAgreements(r.Context(), providerSlug)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newPageData(r)
	data.Organization = org
	data.Agreements = agreements
	h.pages.Render(w, http.StatusOK, pageIndex, data)
}

// Detail は規約本文を表示する。
// GET /legal/{agreement}
func (h *LegalHandler) Detail(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.RenderAgreement(r.Context(), chi.URLParam(r, "agreement"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newPageData(r)
	data.fillAgreement(page)
	h.pages.Render(w, http.StatusOK, pageAgreement, data)
}

// SignForm は署名フォームを表示する。ログイン必須。
// GET /legal/{agreement}/sign
func (h *LegalHandler) SignForm(w http.ResponseWriter, r *http.Request) {
	h.renderSignPage(w, r, &legal.SignatureForm{}, r.URL.Query().Get("next"))
}

// Sign は署名フォームの送信を処理する。ログイン必須。
// チェックボックスが未チェックの場合は署名を作成せず、エラー付きでフォームを再表示する。
// 成功時はnextパラメータから算出した安全なリダイレクト先へ302で遷移する。
// POST /legal/{agreement}/sign
func (h *LegalHandler) Sign(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, middleware.LoginRedirectURL(h.config.LoginURL, r.URL.RequestURI()), http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, model.NewValidationError(map[string]string{"form": "malformed form body"}))
		return
	}
	next := nextParam(r)
	form := legal.ParseSignatureForm(r.PostForm)

	_, err = h.service.Sign(r.Context(), chi.URLParam(r, "agreement"), userID, form)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidationFailed {
			h.renderSignPage(w, r, form, next)
			return
		}
		h.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, h.redirectTarget(r, next), http.StatusFound)
}

// renderSignPage は規約本文と署名フォームを表示する。
func (h *LegalHandler) renderSignPage(w http.ResponseWriter, r *http.Request, form *legal.SignatureForm, next string) {
	page, err := h.service.RenderAgreement(r.Context(), chi.URLParam(r, "agreement"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newPageData(r)
	data.fillAgreement(page)
	data.Form = form
	data.Next = next

	sig, err := h.service.CurrentSignature(r.Context(), page.Agreement, data.Request.UserID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	data.Signature = sig
	data.SignatureCurrent = sig.IsCurrent(page.Agreement)

	h.pages.Render(w, http.StatusOK, pageSign, data)
}

// redirectTarget は署名後のリダイレクト先を返す。
// 外部ホストなど安全でないnextは既定のリダイレクト先に置き換え、記録する。
func (h *LegalHandler) redirectTarget(r *http.Request, next string) string {
	target := security.SafeRedirectURL(next, r.Host, h.config.LoginRedirectURL)
	if next != "" && target != next {
		slog.Warn("unsafe redirect target rejected",
			slog.String("next", next),
			slog.String("host", r.Host),
		)
		if h.recorder != nil {
			h.recorder.RecordRedirectRejected()
		}
	}
	return target
}

// nextParam はリダイレクト先をフォームボディ、クエリ文字列の順に読み取る。
// ParseForm実行後に呼び出す。
func nextParam(r *http.Request) string {
	if next := r.PostForm.Get("next"); next != "" {
		return next
	}
	return r.URL.Query().Get("next")
}

// renderError はエラーをHTTPステータスに変換してエラーページを表示する。
func (h *LegalHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, status := classifyError(err)

	data := h.newPageData(r)
	data.Status = status
	data.Error = apiErr
	h.pages.Render(w, status, pageError, data)
}

// newPageData はリクエスト情報を設定したPageDataを生成する。
func (h *LegalHandler) newPageData(r *http.Request) *PageData {
	data := &PageData{
		Request: RequestInfo{
			Path: r.URL.Path,
			Host: r.Host,
		},
		CSRFField: middleware.CSRFFormField,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return data
	}
	data.Request.UserID = userID

	if h.users != nil {
		user, err := h.users.FindByID(r.Context(), userID)
		if err != nil {
			slog.Warn("failed to load user for page header",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		data.Request.User = user
	}
	return data
}

// fillAgreement はレンダリング済みの規約をPageDataに設定する。
// HTMLはRendererでサニタイズ済みのため、エスケープせずに埋め込む。
func (d *PageData) fillAgreement(page *legal.AgreementPage) {
	d.Agreement = page.Agreement
	d.Organization = page.Organization
	d.Page = template.HTML(page.HTML)
}

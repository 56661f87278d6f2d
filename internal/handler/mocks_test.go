package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/model"
)

// --- モック定義 ---

// mockLegalService はLegalServiceInterfaceのモック実装。
type mockLegalService struct {
	listAgreementsFn   func(ctx context.Context, providerSlug string) (*model.Organization, []*model.Agreement, error)
	getAgreementFn     func(ctx context.Context, slug string) (*model.Agreement, error)
	renderAgreementFn  func(ctx context.Context, slug string) (*legal.AgreementPage, error)
	signFn             func(ctx context.Context, slug, userID string, form *legal.SignatureForm) (*model.Signature, error)
	currentSignatureFn func(ctx context.Context, agreement *model.Agreement, userID string) (*model.Signature, error)
}

func (m *mockLegalService) ListAgreements(ctx context.Context, providerSlug string) (*model.Organization, []*model.Agreement, error) {
	if m.listAgreementsFn != nil {
		return m.listAgreementsFn(ctx, providerSlug)
	}
	return testBroker, []*model.Agreement{}, nil
}

func (m *mockLegalService) GetAgreement(ctx context.Context, slug string) (*model.Agreement, error) {
	if m.getAgreementFn != nil {
		return m.getAgreementFn(ctx, slug)
	}
	return nil, model.NewAgreementNotFoundError(slug)
}

func (m *mockLegalService) RenderAgreement(ctx context.Context, slug string) (*legal.AgreementPage, error) {
	if m.renderAgreementFn != nil {
		return m.renderAgreementFn(ctx, slug)
	}
	return nil, model.NewAgreementNotFoundError(slug)
}

func (m *mockLegalService) Sign(ctx context.Context, slug, userID string, form *legal.SignatureForm) (*model.Signature, error) {
	if m.signFn != nil {
		return m.signFn(ctx, slug, userID, form)
	}
	return nil, nil
}

func (m *mockLegalService) CurrentSignature(ctx context.Context, agreement *model.Agreement, userID string) (*model.Signature, error) {
	if m.currentSignatureFn != nil {
		return m.currentSignatureFn(ctx, agreement, userID)
	}
	return nil, nil
}

// mockUserFinder はUserFinderのモック実装。
type mockUserFinder struct {
	users map[string]*model.User
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

// mockSessionFinder はSessionFinderのモック実装。
type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

// redirectCounter はRedirectRecorderのモック実装。
type redirectCounter struct {
	rejected int
}

func (c *redirectCounter) RecordRedirectRejected() { c.rejected++ }

// --- テスト用データ ---

var (
	testBroker = &model.Organization{ID: "org-broker", Slug: "broker", FullName: "Broker Inc.", Email: "legal@broker.example"}
	testAcme   = &model.Organization{ID: "org-acme", Slug: "acme", FullName: "ACME Corp."}

	testUpdatedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	testTerms     = &model.Agreement{ID: "agr-terms", Slug: "terms-of-use", Title: "Terms of Use", ProviderID: "org-broker", UpdatedAt: testUpdatedAt}
)

// testAgreementPage はレンダリング済みの規約ページを返す。
func testAgreementPage() *legal.AgreementPage {
	return &legal.AgreementPage{
		Agreement:    testTerms,
		Organization: testBroker,
		HTML:         `<h1 id="terms">Terms</h1><p>Provided by Broker Inc.</p>`,
	}
}

// --- テストヘルパー ---

// withURLParams はchiのURLパラメータを設定したリクエストを返す。
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withUser は認証済みユーザーのコンテキストを設定したリクエストを返す。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// newTestLegalHandler はテスト用のLegalHandlerを生成する。
func newTestLegalHandler(service LegalServiceInterface, recorder RedirectRecorder) *LegalHandler {
	return NewLegalHandler(service, nil, MustNewPages(), recorder, LegalHandlerConfig{
		LoginURL:         "/login/",
		LoginRedirectURL: "/home",
	})
}

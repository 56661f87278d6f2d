package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/metrics"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/repository"
	"github.com/hitoshi/legaldesk/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// --- インメモリリポジトリ ---

type memoryOrgRepo struct {
	orgs []*model.Organization
}

func (m *memoryOrgRepo) FindBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	for _, o := range m.orgs {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, nil
}

func (m *memoryOrgRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	for _, o := range m.orgs {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, nil
}

type memoryAgreementRepo struct {
	agreements []*model.Agreement
}

func (m *memoryAgreementRepo) FindBySlug(ctx context.Context, slug string) (*model.Agreement, error) {
	for _, a := range m.agreements {
		if a.Slug == slug {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memoryAgreementRepo) ListByProvider(ctx context.Context, providerID string) ([]*model.Agreement, error) {
	var out []*model.Agreement
	for _, a := range m.agreements {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAgreementRepo) Upsert(ctx context.Context, a *model.Agreement) (repository.UpsertResult, error) {
	return "", errors.New("not supported")
}

type memorySignatureRepo struct {
	mu         sync.Mutex
	agreements *memoryAgreementRepo
	signatures map[string]*model.Signature
}

func (m *memorySignatureRepo) UpsertBySlug(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, _ := m.agreements.FindBySlug(ctx, slug)
	if a == nil {
		return nil, nil
	}
	key := a.ID + "/" + userID
	sig, ok := m.signatures[key]
	if !ok {
		sig = &model.Signature{ID: "sig-" + key, AgreementID: a.ID, UserID: userID}
		m.signatures[key] = sig
	}
	sig.LastSigned = signedAt
	return sig, nil
}

func (m *memorySignatureRepo) FindByAgreementAndUser(ctx context.Context, agreementID, userID string) (*model.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signatures[agreementID+"/"+userID], nil
}

func (m *memorySignatureRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signatures)
}

type fakePinger struct {
	err error
}

func (p *fakePinger) PingContext(ctx context.Context) error { return p.err }

// --- テスト用ルーター ---

const (
	testSessionID = "valid-session"
	testCSRFToken = "csrf-token-for-tests"
)

var testAgreementDocs = fstest.MapFS{
	"legal_terms-of-use.md": {Data: []byte("---\ntitle: Terms of Use\n---\n# Terms of Use\n\n" +
		"These terms are provided by {{.Organization.PrintableName}}.\n\n<script>alert(1)</script>\n")},
	"legal_acme-terms.md": {Data: []byte("# ACME Terms\n\nOperated by {{.Organization.PrintableName}}.\n")},
}

type testEnv struct {
	router     http.Handler
	signatures *memorySignatureRepo
	registry   *prometheus.Registry
}

// newTestEnv は実際のlegal.Serviceとインメモリリポジトリで構成したルーターを返す。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orgs := &memoryOrgRepo{orgs: []*model.Organization{
		{ID: "org-broker", Slug: "broker", FullName: "Broker Inc."},
		{ID: "org-acme", Slug: "acme", FullName: "ACME Corp."},
	}}
	agreements := &memoryAgreementRepo{agreements: []*model.Agreement{
		{ID: "agr-terms", Slug: "terms-of-use", Title: "Terms of Use", ProviderID: "org-broker", UpdatedAt: testUpdatedAt},
		{ID: "agr-acme", Slug: "acme-terms", Title: "ACME Terms", ProviderID: "org-acme", UpdatedAt: testUpdatedAt},
	}}
	signatures := &memorySignatureRepo{agreements: agreements, signatures: make(map[string]*model.Signature)}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	renderer := legal.NewRenderer(security.NewAgreementSanitizer())
	service := legal.NewService(orgs, agreements, signatures, legal.NewSourceLoader(testAgreementDocs), renderer, "broker", collector)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		SessionFinder: &mockSessionFinder{sessions: map[string]*model.Session{
			testSessionID: {ID: testSessionID, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
		}},
		RateLimiter:  rl,
		LegalService: service,
		LegalConfig: LegalHandlerConfig{
			LoginURL:         "/login/",
			LoginRedirectURL: "/home",
		},
		HealthChecker: &fakePinger{},
		Metrics:       collector,
		Gatherer:      registry,
	})

	return &testEnv{router: router, signatures: signatures, registry: registry}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// newSignPost はセッションとCSRFトークンを持つ署名フォーム送信リクエストを生成する。
func newSignPost(slug string, values url.Values, withSession bool) *http.Request {
	values.Set(middleware.CSRFFormField, testCSRFToken)
	req := httptest.NewRequest(http.MethodPost, "/legal/"+slug+"/sign", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "myapp.example"
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	if withSession {
		req.AddCookie(&http.Cookie{Name: middleware.DefaultSessionCookieName, Value: testSessionID})
	}
	return req
}

// --- テスト ---

func TestRouter_Detail_RendersMarkdownWithOrganization(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/legal/terms-of-use", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `<h1 id="terms-of-use">Terms of Use</h1>`) {
		t.Errorf("body should contain the rendered heading, got:\n%s", body)
	}
	if !strings.Contains(body, "These terms are provided by Broker Inc.") {
		t.Error("organization name should be substituted")
	}
	if strings.Contains(body, "alert(1)") {
		t.Error("script content should be removed")
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers should be set")
	}
}

func TestRouter_Detail_UsesAgreementProvider(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/legal/acme-terms", nil))

	if !strings.Contains(w.Body.String(), "Operated by ACME Corp.") {
		t.Errorf("provider name should be substituted, got:\n%s", w.Body.String())
	}
}

func TestRouter_Detail_TrailingSlashAndUnknown(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(httptest.NewRequest(http.MethodGet, "/legal/terms-of-use/", nil)); w.Code != http.StatusOK {
		t.Errorf("trailing slash status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := env.do(httptest.NewRequest(http.MethodGet, "/legal/missing", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown slug status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := env.do(httptest.NewRequest(http.MethodGet, "/legal/Bad_Slug!", nil)); w.Code != http.StatusNotFound {
		t.Errorf("invalid slug status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_List_ScopedToProvider(t *testing.T) {
	env := newTestEnv(t)

	broker := env.do(httptest.NewRequest(http.MethodGet, "/legal/", nil)).Body.String()
	if !strings.Contains(broker, `href="/legal/terms-of-use"`) || strings.Contains(broker, `href="/legal/acme-terms"`) {
		t.Errorf("broker list should contain only broker agreements, got:\n%s", broker)
	}

	acme := env.do(httptest.NewRequest(http.MethodGet, "/providers/acme/legal", nil)).Body.String()
	if !strings.Contains(acme, `href="/legal/acme-terms"`) || strings.Contains(acme, `href="/legal/terms-of-use"`) {
		t.Errorf("acme list should contain only acme agreements, got:\n%s", acme)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/providers/nobody/legal", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_SignForm_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/legal/terms-of-use/sign", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/login/?next=%2Flegal%2Fterms-of-use%2Fsign" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRouter_Sign_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(newSignPost("terms-of-use", url.Values{"read_terms": {"on"}}, false))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "/login/?next=") {
		t.Errorf("Location = %q, want login redirect", w.Header().Get("Location"))
	}
	if env.signatures.count() != 0 {
		t.Error("no signature should be created without a session")
	}
}

func TestRouter_SignForm_SetsCSRFToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/legal/terms-of-use/sign", nil)
	req.AddCookie(&http.Cookie{Name: middleware.DefaultSessionCookieName, Value: testSessionID})
	w := env.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var cookieToken string
	for _, c := range w.Result().Cookies() {
		if c.Name == "csrf_token" {
			cookieToken = c.Value
		}
	}
	field := findInput(findInputs(t, w.Body.String()), middleware.CSRFFormField)
	if cookieToken == "" || field == nil || field["value"] != cookieToken {
		t.Errorf("form token %v should match cookie %q", field, cookieToken)
	}
}

func TestRouter_Sign_UncheckedCreatesNoSignature(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(newSignPost("terms-of-use", url.Values{"next": {"/dashboard"}}, true))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if env.signatures.count() != 0 {
		t.Errorf("signatures = %d, want 0", env.signatures.count())
	}
	if !strings.Contains(w.Body.String(), "this field is required") {
		t.Error("form should be redisplayed with the field error")
	}
}

func TestRouter_Sign_CheckedCreatesSingleSignature(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		w := env.do(newSignPost("terms-of-use", url.Values{"read_terms": {"on"}, "next": {"/dashboard"}}, true))
		if w.Code != http.StatusFound {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusFound)
		}
		if loc := w.Header().Get("Location"); loc != "/dashboard" {
			t.Errorf("attempt %d: Location = %q, want /dashboard", i+1, loc)
		}
	}

	if env.signatures.count() != 1 {
		t.Errorf("signatures = %d, want 1", env.signatures.count())
	}
}

func TestRouter_Sign_ExternalNextFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(newSignPost("terms-of-use", url.Values{"read_terms": {"on"}, "next": {"http://evil.example/x"}}, true))

	if loc := w.Header().Get("Location"); loc != "/home" {
		t.Errorf("Location = %q, want /home", loc)
	}

	families, err := env.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "legaldesk_redirect_rejected_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() == 1
		}
	}
	if !found {
		t.Error("rejected redirect should be counted")
	}
}

func TestRouter_Sign_RejectsMissingCSRF(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/legal/terms-of-use/sign", strings.NewReader("read_terms=on"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: middleware.DefaultSessionCookieName, Value: testSessionID})
	w := env.do(req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if env.signatures.count() != 0 {
		t.Error("no signature should be created without a CSRF token")
	}
}

func TestRouter_APISign(t *testing.T) {
	env := newTestEnv(t)

	newReq := func(withSession bool) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/legal/terms-of-use/sign", strings.NewReader(`{"read_terms": true}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CSRF-Token", testCSRFToken)
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
		if withSession {
			req.AddCookie(&http.Cookie{Name: middleware.DefaultSessionCookieName, Value: testSessionID})
		}
		return req
	}

	if w := env.do(newReq(false)); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w := env.do(newReq(true))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp signatureResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Agreement != "terms-of-use" || resp.ID == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestRouter_APIList(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/legal?provider=acme", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp agreementListResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Agreements) != 1 || resp.Agreements[0].Slug != "acme-terms" {
		t.Errorf("agreements = %+v", resp.Agreements)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	env.do(httptest.NewRequest(http.MethodGet, "/legal/terms-of-use", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{"legaldesk_agreement_views_total", "legaldesk_http_status_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics should expose %s", want)
		}
	}
}

func TestHealthHandler_Unavailable(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(&fakePinger{err: errors.New("connection refused")}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

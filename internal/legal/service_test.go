package legal

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hitoshi/legaldesk/internal/model"
)

var testAgreements = map[string]*model.Agreement{
	"terms-of-use": {ID: "a-1", Slug: "terms-of-use", Title: "Terms of Use", ProviderID: "org-broker"},
	"privacy":      {ID: "a-2", Slug: "privacy", Title: "Privacy Policy", ProviderID: "org-broker"},
	"acme-terms":   {ID: "a-3", Slug: "acme-terms", Title: "ACME Terms", ProviderID: "org-acme"},
	"no-source":    {ID: "a-4", Slug: "no-source", Title: "Orphan", ProviderID: "org-broker"},
}

func newTestService(sigRepo *mockSignatureRepo, m *mockMetrics) *Service {
	agreementRepo := &mockAgreementRepo{
		findBySlugFn: func(ctx context.Context, slug string) (*model.Agreement, error) {
			return testAgreements[slug], nil
		},
		listByProviderFn: func(ctx context.Context, providerID string) ([]*model.Agreement, error) {
			var out []*model.Agreement
			for _, s := range []string{"acme-terms", "no-source", "privacy", "terms-of-use"} {
				if a := testAgreements[s]; a.ProviderID == providerID {
					out = append(out, a)
				}
			}
			return out, nil
		},
	}
	sources := NewSourceLoader(fstest.MapFS{
		"legal_terms-of-use.md": {Data: []byte("# Terms\n\nOperated by {{.Organization.FullName}}.\n")},
		"legal_privacy.md":      {Data: []byte("# Privacy\n")},
		"legal_acme-terms.md":   {Data: []byte("# ACME\n\nProvided by {{.Organization.FullName}}.\n")},
	})
	if sigRepo == nil {
		sigRepo = &mockSignatureRepo{}
	}

	svc := NewService(
		&mockOrgRepo{findBySlugFn: orgsBySlug, findByIDFn: orgsByID},
		agreementRepo,
		sigRepo,
		sources,
		newTestRenderer(),
		"broker",
		nil,
	)
	if m != nil {
		svc.metrics = m
	}
	return svc
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

func TestService_ListAgreements_ScopedToProvider(t *testing.T) {
	svc := newTestService(nil, nil)

	org, agreements, err := svc.ListAgreements(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListAgreements returned error: %v", err)
	}
	if org.ID != testProvider.ID {
		t.Errorf("org = %q, want %q", org.ID, testProvider.ID)
	}
	if len(agreements) != 1 || agreements[0].Slug != "acme-terms" {
		t.Errorf("agreements = %v, want [acme-terms]", agreements)
	}
}

func TestService_ListAgreements_EmptyProviderMeansBroker(t *testing.T) {
	svc := newTestService(nil, nil)

	org, agreements, err := svc.ListAgreements(context.Background(), "")
	if err != nil {
		t.Fatalf("ListAgreements returned error: %v", err)
	}
	if org.Slug != "broker" {
		t.Errorf("org = %q, want broker", org.Slug)
	}
	for _, a := range agreements {
		if a.ProviderID != testBroker.ID {
			t.Errorf("agreement %s belongs to %s", a.Slug, a.ProviderID)
		}
	}
	if len(agreements) != 3 {
		t.Errorf("len = %d, want 3", len(agreements))
	}
}

func TestService_ListAgreements_UnknownProvider(t *testing.T) {
	svc := newTestService(nil, nil)

	_, _, err := svc.ListAgreements(context.Background(), "nobody")
	assertAPIErrorCode(t, err, model.ErrCodeOrganizationNotFound)
}

func TestService_RenderAgreement_UsesAgreementProvider(t *testing.T) {
	m := &mockMetrics{}
	svc := newTestService(nil, m)

	page, err := svc.RenderAgreement(context.Background(), "acme-terms")
	if err != nil {
		t.Fatalf("RenderAgreement returned error: %v", err)
	}
	if page.Organization.ID != testProvider.ID {
		t.Errorf("organization = %q, want %q", page.Organization.ID, testProvider.ID)
	}
	if !strings.Contains(page.HTML, "Provided by ACME Corp.") {
		t.Errorf("HTML = %q, expected organization substitution", page.HTML)
	}
	if len(m.views) != 1 || m.views[0] != "acme-terms" {
		t.Errorf("views = %v, want [acme-terms]", m.views)
	}
}

func TestService_RenderAgreement_Broker(t *testing.T) {
	svc := newTestService(nil, nil)

	page, err := svc.RenderAgreement(context.Background(), "terms-of-use")
	if err != nil {
		t.Fatalf("RenderAgreement returned error: %v", err)
	}
	if !strings.Contains(page.HTML, "Operated by Broker Inc.") {
		t.Errorf("HTML = %q, expected broker name", page.HTML)
	}
	if page.Agreement.Slug != "terms-of-use" {
		t.Errorf("Agreement.Slug = %q", page.Agreement.Slug)
	}
}

func TestService_RenderAgreement_NotFound(t *testing.T) {
	svc := newTestService(nil, nil)

	tests := []struct {
		slug string
		code string
	}{
		{"unknown", model.ErrCodeAgreementNotFound},
		{"no-source", model.ErrCodeAgreementNotFound},
		{"../etc", model.ErrCodeInvalidSlug},
	}
	for _, tt := range tests {
		_, err := svc.RenderAgreement(context.Background(), tt.slug)
		assertAPIErrorCode(t, err, tt.code)
	}
}

func TestService_Sign_UncheckedCreatesNoSignature(t *testing.T) {
	sigRepo := &mockSignatureRepo{
		upsertBySlugFn: func(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
			t.Fatal("UpsertBySlug should not be called")
			return nil, nil
		},
	}
	m := &mockMetrics{}
	svc := newTestService(sigRepo, m)

	form := ParseSignatureForm(url.Values{})
	sig, err := svc.Sign(context.Background(), "terms-of-use", "user-1", form)
	if sig != nil {
		t.Errorf("expected nil signature, got %+v", sig)
	}
	assertAPIErrorCode(t, err, model.ErrCodeValidationFailed)

	var apiErr *model.APIError
	errors.As(err, &apiErr)
	if _, ok := apiErr.Fields[ReadTermsField]; !ok {
		t.Errorf("Fields = %v, want %s", apiErr.Fields, ReadTermsField)
	}
	if sigRepo.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0", sigRepo.upsertCalls)
	}
	if len(m.rejected) != 1 {
		t.Errorf("rejected = %v, want one entry", m.rejected)
	}
}

func TestService_Sign_CheckedCreatesSignature(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sigRepo := &mockSignatureRepo{
		upsertBySlugFn: func(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
			if slug != "terms-of-use" || userID != "user-1" {
				t.Errorf("UpsertBySlug(%q, %q)", slug, userID)
			}
			return &model.Signature{ID: "sig-1", AgreementID: "a-1", UserID: userID, LastSigned: signedAt}, nil
		},
	}
	m := &mockMetrics{}
	svc := newTestService(sigRepo, m)
	svc.now = func() time.Time { return fixed }

	form := ParseSignatureForm(url.Values{"read_terms": {"on"}})
	sig, err := svc.Sign(context.Background(), "terms-of-use", "user-1", form)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if sigRepo.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", sigRepo.upsertCalls)
	}
	if !sig.LastSigned.Equal(fixed) {
		t.Errorf("LastSigned = %v, want %v", sig.LastSigned, fixed)
	}
	if len(m.signed) != 1 || m.signed[0] != "terms-of-use" {
		t.Errorf("signed = %v", m.signed)
	}
}

func TestService_Sign_UnknownAgreement(t *testing.T) {
	sigRepo := &mockSignatureRepo{
		upsertBySlugFn: func(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
			return nil, nil
		},
	}
	svc := newTestService(sigRepo, nil)

	form := ParseSignatureForm(url.Values{"read_terms": {"on"}})
	_, err := svc.Sign(context.Background(), "missing", "user-1", form)
	assertAPIErrorCode(t, err, model.ErrCodeAgreementNotFound)
}

func TestService_Sign_RequiresUser(t *testing.T) {
	svc := newTestService(nil, nil)

	form := ParseSignatureForm(url.Values{"read_terms": {"on"}})
	_, err := svc.Sign(context.Background(), "terms-of-use", "", form)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestService_Sign_RepositoryError(t *testing.T) {
	sigRepo := &mockSignatureRepo{
		upsertBySlugFn: func(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestService(sigRepo, nil)

	form := ParseSignatureForm(url.Values{"read_terms": {"on"}})
	_, err := svc.Sign(context.Background(), "terms-of-use", "user-1", form)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository errors should not be APIError, got %v", apiErr)
	}
}

func TestService_CurrentSignature(t *testing.T) {
	want := &model.Signature{ID: "sig-1"}
	sigRepo := &mockSignatureRepo{
		findFn: func(ctx context.Context, agreementID, userID string) (*model.Signature, error) {
			if agreementID != "a-1" || userID != "user-1" {
				return nil, nil
			}
			return want, nil
		},
	}
	svc := newTestService(sigRepo, nil)

	got, err := svc.CurrentSignature(context.Background(), testAgreements["terms-of-use"], "user-1")
	if err != nil || got != want {
		t.Errorf("CurrentSignature = %v, %v; want %v", got, err, want)
	}

	got, err = svc.CurrentSignature(context.Background(), testAgreements["terms-of-use"], "")
	if err != nil || got != nil {
		t.Errorf("anonymous CurrentSignature = %v, %v; want nil", got, err)
	}
}

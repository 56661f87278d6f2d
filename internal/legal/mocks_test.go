package legal

import (
	"context"
	"time"

	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/repository"
)

// --- モック ---

type mockOrgRepo struct {
	findBySlugFn func(ctx context.Context, slug string) (*model.Organization, error)
	findByIDFn   func(ctx context.Context, id string) (*model.Organization, error)
}

func (m *mockOrgRepo) FindBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return m.findBySlugFn(ctx, slug)
}
func (m *mockOrgRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockAgreementRepo struct {
	findBySlugFn     func(ctx context.Context, slug string) (*model.Agreement, error)
	listByProviderFn func(ctx context.Context, providerID string) ([]*model.Agreement, error)
	upsertFn         func(ctx context.Context, a *model.Agreement) (repository.UpsertResult, error)
}

func (m *mockAgreementRepo) FindBySlug(ctx context.Context, slug string) (*model.Agreement, error) {
	return m.findBySlugFn(ctx, slug)
}
func (m *mockAgreementRepo) ListByProvider(ctx context.Context, providerID string) ([]*model.Agreement, error) {
	return m.listByProviderFn(ctx, providerID)
}
func (m *mockAgreementRepo) Upsert(ctx context.Context, a *model.Agreement) (repository.UpsertResult, error) {
	return m.upsertFn(ctx, a)
}

type mockSignatureRepo struct {
	upsertBySlugFn func(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error)
	findFn         func(ctx context.Context, agreementID, userID string) (*model.Signature, error)
	upsertCalls    int
}

func (m *mockSignatureRepo) UpsertBySlug(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
	m.upsertCalls++
	return m.upsertBySlugFn(ctx, slug, userID, signedAt)
}
func (m *mockSignatureRepo) FindByAgreementAndUser(ctx context.Context, agreementID, userID string) (*model.Signature, error) {
	if m.findFn != nil {
		return m.findFn(ctx, agreementID, userID)
	}
	return nil, nil
}

type mockMetrics struct {
	views    []string
	signed   []string
	rejected []string
	synced   map[string]int
}

func (m *mockMetrics) RecordAgreementView(slug string) { m.views = append(m.views, slug) }
func (m *mockMetrics) RecordSignature(slug string) { m.signed = append(m.signed, slug) }
func (m *mockMetrics) RecordSignatureRejected(reason string) { m.rejected = append(m.rejected, reason) }
func (m *mockMetrics) RecordRedirectRejected() {}
func (m *mockMetrics) RecordRenderLatency(d time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(statusCode int) {}
func (m *mockMetrics) RecordAgreementsSynced(result string, n int) {
	if m.synced == nil {
		m.synced = make(map[string]int)
	}
	m.synced[result] += n
}

var (
	testBroker   = &model.Organization{ID: "org-broker", Slug: "broker", FullName: "Broker Inc."}
	testProvider = &model.Organization{ID: "org-acme", Slug: "acme", FullName: "ACME Corp."}
)

func orgsBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	switch slug {
	case testBroker.Slug:
		return testBroker, nil
	case testProvider.Slug:
		return testProvider, nil
	}
	return nil, nil
}

func orgsByID(ctx context.Context, id string) (*model.Organization, error) {
	switch id {
	case testBroker.ID:
		return testBroker, nil
	case testProvider.ID:
		return testProvider, nil
	}
	return nil, nil
}

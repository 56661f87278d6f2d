package legal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/legaldesk/internal/metrics"
	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/repository"
)

// AgreementPage はレンダリング済みの規約ページ。
type AgreementPage struct {
	Agreement    *model.Agreement
	Organization *model.Organization
	HTML         string
}

// Service は規約の表示・一覧・署名のサービス層。
type Service struct {
	orgRepo       repository.OrganizationRepository
	agreementRepo repository.AgreementRepository
	signatureRepo repository.SignatureRepository
	sources       SourceProvider
	renderer      *Renderer
	brokerSlug    string
	metrics       metrics.MetricsCollector
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorはnilでもよい。
func NewService(
	orgRepo repository.OrganizationRepository,
	agreementRepo repository.AgreementRepository,
	signatureRepo repository.SignatureRepository,
	sources SourceProvider,
	renderer *Renderer,
	brokerSlug string,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		orgRepo:       orgRepo,
		agreementRepo: agreementRepo,
		signatureRepo: signatureRepo,
		sources:       sources,
		renderer:      renderer,
		brokerSlug:    brokerSlug,
		metrics:       collector,
		now:           time.Now,
	}
}

// Broker はサイト運営者（既定のプロバイダー）を返す。
func (s *Service) Broker(ctx context.Context) (*model.Organization, error) {
	return s.ResolveProvider(ctx, "")
}

// ResolveProvider はスラッグからプロバイダーを解決する。空文字列はブローカーを表す。
func (s *Service) ResolveProvider(ctx context.Context, providerSlug string) (*model.Organization, error) {
	if providerSlug == "" {
		providerSlug = s.brokerSlug
	}
	if err := ValidateSlug(providerSlug); err != nil {
		return nil, model.NewOrganizationNotFoundError(providerSlug)
	}

	org, err := s.orgRepo.FindBySlug(ctx, providerSlug)
	if err != nil {
		return nil, fmt.Errorf("プロバイダーの取得に失敗しました: %w", err)
	}
	if org == nil {
		return nil, model.NewOrganizationNotFoundError(providerSlug)
	}
	return org, nil
}

// ListAgreements はプロバイダーが公開する規約一覧を返す。
// 並び順は永続化層の既定（スラッグ順）に従う。
func (s *Service) ListAgreements(ctx context.Context, providerSlug string) (*model.Organization, []*model.Agreement, error) {
	org, err := s.ResolveProvider(ctx, providerSlug)
	if err != nil {
		return nil, nil, err
	}

	agreements, err := s.agreementRepo.ListByProvider(ctx, org.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("規約一覧の取得に失敗しました: %w", err)
	}
	if agreements == nil {
		agreements = []*model.Agreement{}
	}
	return org, agreements, nil
}

// GetAgreement はスラッグに対応する規約を返す。
func (s *Service) GetAgreement(ctx context.Context, slug string) (*model.Agreement, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	agreement, err := s.agreementRepo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("規約の取得に失敗しました: %w", err)
	}
	if agreement == nil {
		return nil, model.NewAgreementNotFoundError(slug)
	}
	return agreement, nil
}

// RenderAgreement は規約を取得し、プロバイダー情報を埋め込んだHTMLを返す。
// Markdownリソースが存在しない場合は規約未検出として扱う。
func (s *Service) RenderAgreement(ctx context.Context, slug string) (*AgreementPage, error) {
	agreement, err := s.GetAgreement(ctx, slug)
	if err != nil {
		return nil, err
	}

	org, err := s.providerOf(ctx, agreement)
	if err != nil {
		return nil, err
	}

	src, err := s.sources.Load(slug)
	if errors.Is(err, ErrSourceNotFound) {
		return nil, model.NewAgreementNotFoundError(slug)
	}
	if err != nil {
		return nil, fmt.Errorf("規約本文の読み込みに失敗しました: %w", err)
	}

	start := time.Now()
	html, err := s.renderer.Render(src, RenderContext{Organization: org})
	if err != nil {
		return nil, fmt.Errorf("規約のレンダリングに失敗しました: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRenderLatency(time.Since(start))
		s.metrics.RecordAgreementView(slug)
	}

	return &AgreementPage{
		Agreement:    agreement,
		Organization: org,
		HTML:         html,
	}, nil
}

// providerOf は規約を公開するプロバイダーを返す。
// 規約にプロバイダーが紐付かない場合はブローカーを返す。
func (s *Service) providerOf(ctx context.Context, agreement *model.Agreement) (*model.Organization, error) {
	if agreement.ProviderID == "" {
		return s.Broker(ctx)
	}

	org, err := s.orgRepo.FindByID(ctx, agreement.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("プロバイダーの取得に失敗しました: %w", err)
	}
	if org == nil {
		return s.Broker(ctx)
	}
	return org, nil
}

// Sign はフォームを検証し、ユーザーの署名を記録する。
// read_termsがチェックされていない場合は署名を作成せず、VALIDATION_FAILEDを返す。
// 同一ユーザーの再署名はlast_signedのみ更新する。
func (s *Service) Sign(ctx context.Context, slug, userID string, form *SignatureForm) (*model.Signature, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if form == nil || !form.Valid() {
		if s.metrics != nil {
			s.metrics.RecordSignatureRejected("unchecked")
		}
		fields := map[string]string{ReadTermsField: "this field is required"}
		if form != nil && len(form.Errors) > 0 {
			fields = form.Errors
		}
		return nil, model.NewValidationError(fields)
	}

	sig, err := s.signatureRepo.UpsertBySlug(ctx, slug, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("署名の記録に失敗しました: %w", err)
	}
	if sig == nil {
		return nil, model.NewAgreementNotFoundError(slug)
	}

	if s.metrics != nil {
		s.metrics.RecordSignature(slug)
	}
	return sig, nil
}

// CurrentSignature はユーザーの規約への署名を返す。未署名の場合はnilを返す。
func (s *Service) CurrentSignature(ctx context.Context, agreement *model.Agreement, userID string) (*model.Signature, error) {
	if agreement == nil || userID == "" {
		return nil, nil
	}

	sig, err := s.signatureRepo.FindByAgreementAndUser(ctx, agreement.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("署名の取得に失敗しました: %w", err)
	}
	return sig, nil
}

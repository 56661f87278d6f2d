package legal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hitoshi/legaldesk/internal/metrics"
	"github.com/hitoshi/legaldesk/internal/model"
	"github.com/hitoshi/legaldesk/internal/repository"
)

// SourcePattern は同期対象のMarkdownリソースを検索するパターン。
const SourcePattern = "**/" + resourcePrefix + "*" + resourceExt

// SyncReport は同期処理の結果。
type SyncReport struct {
	Created   []string
	Updated   []string
	Unchanged []string
}

// Total は処理した規約の件数を返す。
func (r *SyncReport) Total() int {
	return len(r.Created) + len(r.Updated) + len(r.Unchanged)
}

// Syncer はMarkdownリソースからagreementsテーブルを同期する。
// タイトルまたは内容が変化した規約のみupdated_atが更新されるため、
// 既存の署名は改訂後に最新ではなくなる。
type Syncer struct {
	loader        *SourceLoader
	orgRepo       repository.OrganizationRepository
	agreementRepo repository.AgreementRepository
	brokerSlug    string
	metrics       metrics.MetricsCollector
}

// NewSyncer はSyncerを生成する。collectorはnilでもよい。
func NewSyncer(
	loader *SourceLoader,
	orgRepo repository.OrganizationRepository,
	agreementRepo repository.AgreementRepository,
	brokerSlug string,
	collector metrics.MetricsCollector,
) *Syncer {
	return &Syncer{
		loader:        loader,
		orgRepo:       orgRepo,
		agreementRepo: agreementRepo,
		brokerSlug:    brokerSlug,
		metrics:       collector,
	}
}

// Discover は全FSからMarkdownリソースを収集し、スラッグ順で返す。
// 同一スラッグが複数のFSに存在する場合は優先度の高いFSのものを採用する。
func (s *Syncer) Discover() ([]*Source, error) {
	seen := make(map[string]bool)
	var sources []*Source

	for _, fsys := range s.loader.FileSystems() {
		matches, err := doublestar.Glob(fsys, SourcePattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", SourcePattern, err)
		}
		sort.Strings(matches)

		for _, m := range matches {
			sl, ok := SlugFromResource(path.Base(m))
			if !ok || seen[sl] {
				continue
			}
			if err := ValidateSlug(sl); err != nil {
				slog.Warn("skipping agreement source with invalid slug", slog.String("path", m))
				continue
			}

			raw, err := fs.ReadFile(fsys, m)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", m, err)
			}
			src, err := ParseSource(sl, raw)
			if err != nil {
				return nil, err
			}

			seen[sl] = true
			sources = append(sources, src)
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Slug < sources[j].Slug })
	return sources, nil
}

// Run は収集したリソースをブローカー所有の規約としてupsertする。
func (s *Syncer) Run(ctx context.Context) (*SyncReport, error) {
	broker, err := s.orgRepo.FindBySlug(ctx, s.brokerSlug)
	if err != nil {
		return nil, fmt.Errorf("ブローカーの取得に失敗しました: %w", err)
	}
	if broker == nil {
		return nil, model.NewOrganizationNotFoundError(s.brokerSlug)
	}

	sources, err := s.Discover()
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for _, src := range sources {
		agreement := &model.Agreement{
			Slug:        src.Slug,
			Title:       titleOf(src),
			ProviderID:  broker.ID,
			ContentHash: ContentHash(src.Raw),
		}

		result, err := s.agreementRepo.Upsert(ctx, agreement)
		if err != nil {
			return nil, fmt.Errorf("規約 %s の同期に失敗しました: %w", src.Slug, err)
		}

		switch result {
		case repository.UpsertCreated:
			report.Created = append(report.Created, src.Slug)
		case repository.UpsertUpdated:
			report.Updated = append(report.Updated, src.Slug)
		default:
			report.Unchanged = append(report.Unchanged, src.Slug)
		}
		slog.Info("agreement synced",
			slog.String("slug", src.Slug),
			slog.String("result", string(result)),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordAgreementsSynced(string(repository.UpsertCreated), len(report.Created))
		s.metrics.RecordAgreementsSynced(string(repository.UpsertUpdated), len(report.Updated))
		s.metrics.RecordAgreementsSynced(string(repository.UpsertUnchanged), len(report.Unchanged))
	}

	return report, nil
}

// ContentHash はリソース内容のSHA-256ハッシュを16進文字列で返す。
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// titleOf はfront matterのタイトルを返す。未指定の場合はスラッグから生成する。
func titleOf(src *Source) string {
	if src.Title != "" {
		return src.Title
	}
	return TitleFromSlug(src.Slug)
}

// TitleFromSlug は"terms-of-use"を"Terms Of Use"のように変換する。
func TitleFromSlug(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

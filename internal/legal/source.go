// Package legal は法的文書（規約）の表示と署名を提供する。
//
// 規約本文はスラッグから命名規則で導かれるMarkdownリソース（legal_<slug>.md）に保持され、
// 上書きディレクトリ、バイナリ埋め込みの既定文書の順に検索される。
package legal

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/goliatone/go-slug"

	"github.com/hitoshi/legaldesk/internal/model"
)

//go:embed agreements/*.md
var embeddedAgreements embed.FS

// ErrSourceNotFound はスラッグに対応するMarkdownリソースが存在しないことを表す。
var ErrSourceNotFound = errors.New("agreement source not found")

const (
	resourcePrefix = "legal_"
	resourceExt    = ".md"
)

// ResourceName はスラッグに対応するMarkdownリソース名を返す。
func ResourceName(s string) string {
	return resourcePrefix + s + resourceExt
}

// SlugFromResource はリソース名からスラッグを取り出す。
// 命名規則に一致しない場合はokがfalseとなる。
func SlugFromResource(name string) (string, bool) {
	if !strings.HasPrefix(name, resourcePrefix) || !strings.HasSuffix(name, resourceExt) {
		return "", false
	}
	s := strings.TrimSuffix(strings.TrimPrefix(name, resourcePrefix), resourceExt)
	if s == "" {
		return "", false
	}
	return s, true
}

// ValidateSlug はスラッグが検索に使用できる形式かどうかを検証する。
// パス区切りや".."を含むスラッグはここで拒否され、ファイルシステムには到達しない。
func ValidateSlug(s string) error {
	if s == "" || !slug.IsValid(s) {
		return model.NewInvalidSlugError(s)
	}
	return nil
}

// DefaultAgreementsFS はバイナリに埋め込まれた既定の規約文書を返す。
func DefaultAgreementsFS() fs.FS {
	sub, err := fs.Sub(embeddedAgreements, "agreements")
	if err != nil {
		// 埋め込みパスは固定のため到達しない
		panic(err)
	}
	return sub
}

// Source は読み込まれた規約のMarkdownリソース。
type Source struct {
	Slug    string
	Title   string    // front matterのtitle（任意）
	Updated time.Time // front matterのupdated（任意）
	Body    []byte    // front matterを除いたテンプレート本文
	Raw     []byte    // ファイル全体
}

type sourceFrontMatter struct {
	Title   string    `yaml:"title"`
	Updated time.Time `yaml:"updated"`
}

// ParseSource はMarkdownリソースのバイト列からSourceを構築する。
// front matterがない場合は全体を本文として扱う。
func ParseSource(s string, raw []byte) (*Source, error) {
	var meta sourceFrontMatter
	body, err := frontmatter.Parse(bytes.NewReader(raw), &meta)
	if err != nil {
		return nil, fmt.Errorf("parse frontmatter of %s: %w", ResourceName(s), err)
	}

	return &Source{
		Slug:    s,
		Title:   strings.TrimSpace(meta.Title),
		Updated: meta.Updated,
		Body:    body,
		Raw:     raw,
	}, nil
}

// SourceProvider はスラッグからMarkdownリソースを取得するインターフェース。
type SourceProvider interface {
	Load(slug string) (*Source, error)
}

// SourceLoader は順序付きのfs.FSリストからMarkdownリソースを検索する。
// 先頭のFSほど優先される。
type SourceLoader struct {
	fsyss []fs.FS
}

// NewSourceLoader はSourceLoaderを生成する。nilのFSは無視する。
func NewSourceLoader(fsyss ...fs.FS) *SourceLoader {
	l := &SourceLoader{}
	for _, f := range fsyss {
		if f != nil {
			l.fsyss = append(l.fsyss, f)
		}
	}
	return l
}

// FileSystems は検索対象のFSを優先順で返す。
func (l *SourceLoader) FileSystems() []fs.FS {
	return l.fsyss
}

// Load はスラッグに対応するMarkdownリソースを読み込む。
// スラッグが不正な場合は*model.APIError、どのFSにも存在しない場合はErrSourceNotFoundを返す。
func (l *SourceLoader) Load(s string) (*Source, error) {
	if err := ValidateSlug(s); err != nil {
		return nil, err
	}

	name := ResourceName(s)
	for _, fsys := range l.fsyss {
		p, err := locate(fsys, name)
		if err != nil {
			return nil, err
		}
		if p == "" {
			continue
		}

		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		return ParseSource(s, raw)
	}

	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// locate はfsys内のリソースのパスを返す。直下を優先し、なければサブディレクトリを検索する。
// 見つからない場合は空文字列を返す。
func locate(fsys fs.FS, name string) (string, error) {
	if _, err := fs.Stat(fsys, name); err == nil {
		return name, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}

	matches, err := doublestar.Glob(fsys, "**/"+name)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", name, err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[0], nil
}

// compile-time interface check
var _ SourceProvider = (*SourceLoader)(nil)

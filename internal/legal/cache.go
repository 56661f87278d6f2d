package legal

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SourceCache は読み込み済みのMarkdownリソースをスラッグ単位で保持する。
// 見つからなかったスラッグや不正なスラッグはキャッシュしない。
type SourceCache struct {
	next SourceProvider

	mu          sync.RWMutex
	entries     map[string]*Source
	generations map[string]uint64
}

// NewSourceCache はnextをバックエンドとするSourceCacheを生成する。
func NewSourceCache(next SourceProvider) *SourceCache {
	return &SourceCache{
		next:        next,
		entries:     make(map[string]*Source),
		generations: make(map[string]uint64),
	}
}

// Load はキャッシュ済みのリソースを返し、未キャッシュの場合はバックエンドから読み込む。
// 読み込み中にInvalidateされた場合、読み込んだ結果はキャッシュしない。
func (c *SourceCache) Load(s string) (*Source, error) {
	c.mu.RLock()
	src, ok := c.entries[s]
	gen := c.generations[s]
	c.mu.RUnlock()
	if ok {
		return src, nil
	}

	src, err := c.next.Load(s)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generations[s] == gen {
		c.entries[s] = src
	}
	c.mu.Unlock()

	return src, nil
}

// Invalidate は指定スラッグのキャッシュを破棄し、世代を進める。
func (c *SourceCache) Invalidate(s string) {
	c.mu.Lock()
	delete(c.entries, s)
	c.generations[s]++
	c.mu.Unlock()
}

// Len はキャッシュ済みのエントリ数を返す。
func (c *SourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch はdirとそのサブディレクトリを監視し、legal_<slug>.mdの作成・更新・削除・リネームを
// 検知したら該当スラッグのキャッシュを破棄する。監視開始後に作成されたサブディレクトリも
// 監視対象に加える。ctxがキャンセルされるまでブロックする。
func (c *SourceCache) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := c.addTree(watcher, dir, false); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	slog.Info("watching agreement sources", slog.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			c.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// addTree はroot配下のすべてのディレクトリをwatcherに登録する。
// invalidateがtrueの場合、見つかったリソースのキャッシュを破棄する。
func (c *SourceCache) addTree(watcher *fsnotify.Watcher, root string, invalidate bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if s, ok := SlugFromResource(d.Name()); ok && invalidate {
				c.Invalidate(s)
			}
			return nil
		}
		return watcher.Add(path)
	})
}

func (c *SourceCache) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := c.addTree(watcher, event.Name, true); err != nil {
				slog.Warn("failed to watch new directory",
					slog.String("dir", event.Name),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}

	s, ok := SlugFromResource(filepath.Base(event.Name))
	if !ok {
		return
	}

	c.Invalidate(s)
	slog.Debug("agreement source invalidated",
		slog.String("slug", s),
		slog.String("op", event.Op.String()),
	)
}

// compile-time interface check
var _ SourceProvider = (*SourceCache)(nil)

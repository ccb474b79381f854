package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/notionfolio/notionfolio/internal/config"
	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/notion"
)

// DefaultTTL applies when Options.TTL is not set.
const DefaultTTL = 24 * time.Hour

// Options configures a Cache.
type Options struct {
	// Fs 为空时使用本地磁盘。
	Fs      afero.Fs
	Dir     string
	TTL     time.Duration
	Logger  *logrus.Logger
	Metrics *Metrics
	// Now 为空时使用 time.Now，测试可注入固定时钟。
	Now func() time.Time
}

// Cache 组合 Store 与 Index，对上层提供按命名空间的查询与写回。
// 读路径上的任何故障都降级为未命中；写路径的错误返回给调用方，由其记录后忽略。
type Cache struct {
	store   Store
	index   *Index
	dir     string
	logger  *logrus.Logger
	metrics *Metrics
	now     func() time.Time
}

// New 构建缓存；目录不存在时自动创建。
func New(opts Options) (*Cache, error) {
	fsys := opts.Fs
	dir := opts.Dir
	if fsys == nil {
		fsys = afero.NewOsFs()
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = abs
	}

	store, err := NewStore(fsys, dir)
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	index := NewIndex(fsys, dir, ttl)
	index.now = now

	return &Cache{
		store:   store,
		index:   index,
		dir:     dir,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// NewFromConfig 根据 [Cache] 配置在本地磁盘上构建缓存。
func NewFromConfig(cfg config.CacheConfig, logger *logrus.Logger, metrics *Metrics) (*Cache, error) {
	return New(Options{
		Dir:     cfg.Dir,
		TTL:     cfg.TTL.DurationValue(),
		Logger:  logger,
		Metrics: metrics,
	})
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// TTL returns the entry time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.index.TTL()
}

// Index exposes the index manager.
func (c *Cache) Index() *Index {
	return c.index
}

// Store exposes the snapshot store.
func (c *Cache) Store() Store {
	return c.store
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// LookupPage 返回有效的页面快照。需要索引条目存在、未过期、lastModified 与远端一致，
// 并且快照文件可读可解析。
func (c *Cache) LookupPage(ctx context.Context, pageID, remoteLastModified string) (*PageSnapshot, bool) {
	if !c.index.IsPageValid(pageID, remoteLastModified) {
		c.recordLookup(NamespacePages, pageID, false, nil)
		return nil, false
	}

	var snapshot PageSnapshot
	if err := c.store.Get(ctx, NamespacePages, pageID, &snapshot); err != nil {
		c.recordLookup(NamespacePages, pageID, false, err)
		return nil, false
	}
	// 索引写入失败时快照可能比索引新，两者不一致一律按未命中处理。
	if snapshot.LastModified != remoteLastModified {
		c.recordLookup(NamespacePages, pageID, false, errSnapshotMismatch)
		return nil, false
	}
	c.recordLookup(NamespacePages, pageID, true, nil)
	return &snapshot, true
}

// StorePage 写入页面快照并更新索引。快照写入成功后才会更新索引；
// 索引写入失败时返回包装了 ErrIndexWrite 的错误。
func (c *Cache) StorePage(ctx context.Context, page notion.Page, blocks []notion.Block) (PageSnapshot, error) {
	snapshot := PageSnapshot{
		Page:         page,
		Blocks:       blocks,
		LastModified: page.LastEditedTime,
		CachedAt:     millis(c.now()),
	}
	if snapshot.Blocks == nil {
		snapshot.Blocks = []notion.Block{}
	}

	key, err := NormalizeID(page.ID)
	if err != nil {
		return snapshot, err
	}

	size, err := c.store.Put(ctx, NamespacePages, key, snapshot)
	if err != nil {
		c.metrics.writeError(NamespacePages, "snapshot")
		return snapshot, fmt.Errorf("write page snapshot %s: %w", key, err)
	}

	err = c.index.UpdatePages(func(entries map[string]PageEntry) bool {
		entries[key] = PageEntry{
			ID:           key,
			LastModified: snapshot.LastModified,
			CachedAt:     snapshot.CachedAt,
			Size:         size,
		}
		return true
	})
	if err != nil {
		c.metrics.writeError(NamespacePages, "index")
		return snapshot, fmt.Errorf("%w: pages/%s: %v", ErrIndexWrite, key, err)
	}
	return snapshot, nil
}

// IsBlocksValid 判断 blocks 条目存在、未过期且快照文件可读。
func (c *Cache) IsBlocksValid(ctx context.Context, blockID string) bool {
	return c.index.IsBlocksFresh(blockID) && c.store.Exists(ctx, NamespaceBlocks, blockID)
}

// LookupBlocks 返回有效的子块列表，仅按 TTL 判断新鲜度。
func (c *Cache) LookupBlocks(ctx context.Context, blockID string) ([]notion.Block, bool) {
	if !c.index.IsBlocksFresh(blockID) {
		c.recordLookup(NamespaceBlocks, blockID, false, nil)
		return nil, false
	}

	var blocks []notion.Block
	if err := c.store.Get(ctx, NamespaceBlocks, blockID, &blocks); err != nil {
		c.recordLookup(NamespaceBlocks, blockID, false, err)
		return nil, false
	}
	if blocks == nil {
		blocks = []notion.Block{}
	}
	c.recordLookup(NamespaceBlocks, blockID, true, nil)
	return blocks, true
}

// StoreBlocks 写入子块快照并更新索引；parentID 为所属顶层页面，可为空。
func (c *Cache) StoreBlocks(ctx context.Context, blockID, parentID string, blocks []notion.Block) error {
	if blocks == nil {
		blocks = []notion.Block{}
	}

	key, err := NormalizeID(blockID)
	if err != nil {
		return err
	}
	parentKey := ""
	if parentID != "" {
		if parentKey, err = NormalizeID(parentID); err != nil {
			return err
		}
	}

	size, err := c.store.Put(ctx, NamespaceBlocks, key, blocks)
	if err != nil {
		c.metrics.writeError(NamespaceBlocks, "snapshot")
		return fmt.Errorf("write blocks snapshot %s: %w", key, err)
	}

	cachedAt := millis(c.now())
	err = c.index.UpdateBlocks(func(entries map[string]BlocksEntry) bool {
		entries[key] = BlocksEntry{
			ID:       key,
			CachedAt: cachedAt,
			Size:     size,
			ParentID: parentKey,
		}
		return true
	})
	if err != nil {
		c.metrics.writeError(NamespaceBlocks, "index")
		return fmt.Errorf("%w: blocks/%s: %v", ErrIndexWrite, key, err)
	}
	return nil
}

var errSnapshotMismatch = errors.New("snapshot revision differs from index")

// IsIndexWriteError reports whether err came from the index update that
// follows a successful snapshot write.
func IsIndexWriteError(err error) bool {
	return errors.Is(err, ErrIndexWrite)
}

func (c *Cache) recordLookup(ns Namespace, id string, hit bool, readErr error) {
	c.metrics.lookup(ns, hit)
	entry := c.logger.WithFields(logging.CacheFields(string(ns), id, hit))
	if readErr != nil {
		entry = entry.WithError(readErr)
	}
	if hit {
		entry.Debug("cache_hit")
		return
	}
	entry.Debug("cache_miss")
}

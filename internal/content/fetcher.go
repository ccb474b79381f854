package content

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/notion"
)

// API is the subset of the remote client the content layer needs.
type API interface {
	RetrievePage(ctx context.Context, pageID string) (*notion.Page, error)
	ListChildren(ctx context.Context, blockID, cursor string) (*notion.ChildrenPage, error)
	QueryDatabase(ctx context.Context, databaseID string, q notion.DatabaseQuery, cursor string) (*notion.QueryPage, error)
}

// treeFanOut 限制 GetPageTree 同时拉取的子块数量。
const treeFanOut = 4

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// SingleFlight 为 true 时同一 ID 的并发请求只触发一次远端拉取。
	SingleFlight bool
	Logger       *logrus.Logger
}

// Fetcher 决定命中还是回源：页面以远端 last_edited_time 为新鲜度依据，
// 子块仅按 TTL 判断。远端错误原样返回给调用方；缓存读写错误只记录日志。
type Fetcher struct {
	api          API
	cache        *cache.Cache
	logger       *logrus.Logger
	singleFlight bool

	pages  singleflight.Group
	blocks singleflight.Group
}

// NewFetcher wires the remote API to the cache.
func NewFetcher(api API, c *cache.Cache, opts FetcherOptions) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Fetcher{
		api:          api,
		cache:        c,
		logger:       logger,
		singleFlight: opts.SingleFlight,
	}
}

// Cache returns the underlying cache.
func (f *Fetcher) Cache() *cache.Cache {
	return f.cache
}

// PageResult is a page with its ordered top-level blocks.
type PageResult struct {
	Page     notion.Page    `json:"page"`
	Blocks   []notion.Block `json:"blocks"`
	CacheHit bool           `json:"cacheHit"`
	CachedAt time.Time      `json:"cachedAt"`
}

// BlocksResult is the ordered children of one block.
type BlocksResult struct {
	Blocks   []notion.Block `json:"blocks"`
	CacheHit bool           `json:"cacheHit"`
}

// GetPageWithBlocks 总是先实时拉取页面元数据作为新鲜度依据；命中时返回缓存中的
// 页面对象与块列表，未命中时分页拉取全部块并写回缓存。
func (f *Fetcher) GetPageWithBlocks(ctx context.Context, pageID string) (*PageResult, error) {
	if !f.singleFlight {
		return f.getPageWithBlocks(ctx, pageID)
	}
	v, err := joinFlight(ctx, &f.pages, flightKey(pageID), func(flightCtx context.Context) (any, error) {
		return f.getPageWithBlocks(flightCtx, pageID)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*PageResult)
	result.Blocks = slices.Clone(result.Blocks)
	return &result, nil
}

func (f *Fetcher) getPageWithBlocks(ctx context.Context, pageID string) (*PageResult, error) {
	meta, err := f.api.RetrievePage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("retrieve page %s: %w", pageID, err)
	}

	if snapshot, ok := f.cache.LookupPage(ctx, pageID, meta.LastEditedTime); ok {
		f.logger.WithFields(logging.CacheFields(string(cache.NamespacePages), pageID, true)).Info("cache_hit")
		return &PageResult{
			Page:     snapshot.Page,
			Blocks:   snapshot.Blocks,
			CacheHit: true,
			CachedAt: snapshot.CachedTime(),
		}, nil
	}
	f.logger.WithFields(logging.CacheFields(string(cache.NamespacePages), pageID, false)).
		WithField("lastModified", meta.LastEditedTime).
		Info("cache_miss")

	blocks, err := f.FetchAllChildren(ctx, pageID)
	if err != nil {
		return nil, err
	}

	snapshot, err := f.cache.StorePage(ctx, *meta, blocks)
	if err != nil {
		f.logWriteFailure(cache.NamespacePages, pageID, err)
	}
	return &PageResult{
		Page:     *meta,
		Blocks:   snapshot.Blocks,
		CachedAt: snapshot.CachedTime(),
	}, nil
}

// GetBlockChildren 返回某个块的全部子块；parentID 记录所属顶层页面，用于级联删除。
func (f *Fetcher) GetBlockChildren(ctx context.Context, blockID, parentID string) (*BlocksResult, error) {
	if !f.singleFlight {
		return f.getBlockChildren(ctx, blockID, parentID)
	}
	v, err := joinFlight(ctx, &f.blocks, flightKey(blockID), func(flightCtx context.Context) (any, error) {
		return f.getBlockChildren(flightCtx, blockID, parentID)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*BlocksResult)
	result.Blocks = slices.Clone(result.Blocks)
	return &result, nil
}

func (f *Fetcher) getBlockChildren(ctx context.Context, blockID, parentID string) (*BlocksResult, error) {
	if blocks, ok := f.cache.LookupBlocks(ctx, blockID); ok {
		return &BlocksResult{Blocks: blocks, CacheHit: true}, nil
	}
	f.logger.WithFields(logging.CacheFields(string(cache.NamespaceBlocks), blockID, false)).
		WithField("parentId", parentID).
		Info("cache_miss")

	blocks, err := f.FetchAllChildren(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if err := f.cache.StoreBlocks(ctx, blockID, parentID, blocks); err != nil {
		f.logWriteFailure(cache.NamespaceBlocks, blockID, err)
	}
	return &BlocksResult{Blocks: blocks}, nil
}

// FetchAllChildren 顺序翻页直到远端不再返回游标，结果保持远端顺序。
// 游标依赖上一页响应，不能并行。
func (f *Fetcher) FetchAllChildren(ctx context.Context, blockID string) ([]notion.Block, error) {
	blocks := make([]notion.Block, 0)
	cursor := ""
	seen := make(map[string]struct{})
	for {
		page, err := f.api.ListChildren(ctx, blockID, cursor)
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", blockID, err)
		}
		blocks = append(blocks, page.Results...)

		if page.NextCursor == "" {
			return blocks, nil
		}
		if _, dup := seen[page.NextCursor]; dup {
			return nil, fmt.Errorf("list children of %s: %w", blockID, errCursorLoop)
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}
}

var errCursorLoop = errors.New("remote repeated a pagination cursor")

// TreeNode is a top-level block with its direct children, if it has any.
type TreeNode struct {
	Block    notion.Block   `json:"block"`
	Children []notion.Block `json:"children,omitempty"`
}

// PageTree is a page, its blocks, and one level of nested children.
type PageTree struct {
	Page     notion.Page `json:"page"`
	Nodes    []TreeNode  `json:"blocks"`
	CacheHit bool        `json:"cacheHit"`
	CachedAt time.Time   `json:"cachedAt"`
}

// GetPageTree 获取页面及其块，并对 has_children 的块再拉取恰好一层子块。
// 更深的嵌套不会继续展开。
func (f *Fetcher) GetPageTree(ctx context.Context, pageID string) (*PageTree, error) {
	result, err := f.GetPageWithBlocks(ctx, pageID)
	if err != nil {
		return nil, err
	}

	tree := &PageTree{
		Page:     result.Page,
		Nodes:    make([]TreeNode, len(result.Blocks)),
		CacheHit: result.CacheHit,
		CachedAt: result.CachedAt,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(treeFanOut)
	for i, block := range result.Blocks {
		tree.Nodes[i].Block = block
		if !block.HasChildren {
			continue
		}
		g.Go(func() error {
			children, err := f.GetBlockChildren(gctx, block.ID, pageID)
			if err != nil {
				return err
			}
			tree.Nodes[i].Children = children.Blocks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tree, nil
}

func (f *Fetcher) logWriteFailure(ns cache.Namespace, id string, err error) {
	event := "cache_write_failed"
	if cache.IsIndexWriteError(err) {
		event = "cache_index_write_failed"
	}
	f.logger.WithError(err).
		WithFields(logging.CacheFields(string(ns), id, false)).
		Warn(event)
}

// joinFlight 加入 key 对应的共享拉取。拉取本身运行在脱离取消信号的 ctx 上，
// 超时由 HTTP 客户端负责；调用方只按自己的 ctx 放弃等待，不影响其他等待者。
func joinFlight(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// flightKey 让同一 UUID 的不同写法共享一次拉取。
func flightKey(id string) string {
	if key, err := cache.NormalizeID(id); err == nil {
		return key
	}
	return id
}

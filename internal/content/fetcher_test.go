package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notionfolio/notionfolio/internal/notion"
	"github.com/notionfolio/notionfolio/internal/notion/notiontest"
)

func TestGetPageWithBlocksHitsCacheWhenUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 3)...)

	first, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	want, err := json.Marshal(first.Blocks)
	require.NoError(t, err)
	got, err := json.Marshal(second.Blocks)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, "page-1", second.Page.ID)

	assert.Equal(t, 2, f.stub.Calls(notiontest.OpRetrievePage, "page-1"), "metadata is always fetched live")
	assert.Equal(t, 1, f.stub.Calls(notiontest.OpListChildren, "page-1"))
}

func TestGetPageWithBlocksRefetchesAfterRemoteEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("old", 2)...)

	_, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)

	f.stub.Touch("page-1", "2024-03-01T11:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("new", 1)...)

	result, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, []string{"new-0"}, ids(result.Blocks))
	assert.Equal(t, "2024-03-01T11:00:00.000Z", result.Page.LastEditedTime)
	assert.Equal(t, 2, f.stub.Calls(notiontest.OpListChildren, "page-1"))

	again, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
}

func TestGetPageWithBlocksRefetchesAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 1)...)

	_, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	result, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 2, f.stub.Calls(notiontest.OpListChildren, "page-1"))
}

func TestFetchAllChildrenFollowsEveryPage(t *testing.T) {
	f := newFixture(t)
	f.stub.SetPageSize(10)
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 24)...)

	blocks, err := f.fetcher.FetchAllChildren(context.Background(), "page-1")
	require.NoError(t, err)
	require.Len(t, blocks, 24)

	seen := map[string]bool{}
	for i, block := range blocks {
		assert.Equal(t, fmt.Sprintf("b-%d", i), block.ID)
		assert.False(t, seen[block.ID], "duplicate %s", block.ID)
		seen[block.ID] = true
	}
	assert.Equal(t, 3, f.stub.Calls(notiontest.OpListChildren, "page-1"))
}

func TestFetchAllChildrenEmpty(t *testing.T) {
	f := newFixture(t)

	blocks, err := f.fetcher.FetchAllChildren(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
}

func TestRemoteFailuresPropagate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")

	f.stub.Fail(notiontest.OpRetrievePage, "page-1", http.StatusInternalServerError)
	_, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.Error(t, err)

	f.stub.Fail(notiontest.OpRetrievePage, "page-1", 0)
	f.stub.Fail(notiontest.OpListChildren, "page-1", http.StatusBadGateway)
	_, err = f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.Error(t, err)
	assert.Empty(t, f.cache.Index().LoadPages(), "failed fetch must not be cached")

	_, err = f.fetcher.GetPageWithBlocks(ctx, "missing")
	require.Error(t, err)
	assert.True(t, notion.IsNotFound(err))
}

func TestCacheWriteFailureStillReturnsFreshData(t *testing.T) {
	f := newFixtureWithFs(t, brokenRenameFs{Fs: afero.NewMemMapFs()}, true)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 2)...)

	result, err := f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-0", "b-1"}, ids(result.Blocks))

	result, err = f.fetcher.GetPageWithBlocks(ctx, "page-1")
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 2, f.stub.Calls(notiontest.OpListChildren, "page-1"))

	children, err := f.fetcher.GetBlockChildren(ctx, "page-1", "")
	require.NoError(t, err)
	assert.Len(t, children.Blocks, 2)
}

func TestGetBlockChildrenUsesTTLOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("toggle-1", notiontest.Paragraphs("c", 2)...)

	first, err := f.fetcher.GetBlockChildren(ctx, "toggle-1", "page-1")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "page-1", f.cache.Index().LoadBlocks()["toggle-1"].ParentID)

	// 子块没有远端修改信号：页面被编辑后，子块缓存仍在 TTL 内被复用。
	f.stub.Touch("page-1", "2024-03-02T00:00:00.000Z")
	f.stub.SetChildren("toggle-1", notiontest.Paragraphs("changed", 1)...)

	second, err := f.fetcher.GetBlockChildren(ctx, "toggle-1", "page-1")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, []string{"c-0", "c-1"}, ids(second.Blocks))

	f.clock.Advance(24 * time.Hour)
	third, err := f.fetcher.GetBlockChildren(ctx, "toggle-1", "page-1")
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, []string{"changed-0"}, ids(third.Blocks))
}

func TestGetPageTreeFetchesOneNestedLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1",
		notiontest.Paragraph("intro", "hello"),
		notiontest.Toggle("toggle-1", "details"),
		notiontest.Paragraph("outro", "bye"),
	)
	f.stub.SetChildren("toggle-1",
		notiontest.Paragraph("inner-1", "a"),
		notiontest.Toggle("toggle-2", "deeper"),
	)
	f.stub.SetChildren("toggle-2", notiontest.Paragraph("deepest", "z"))

	tree, err := f.fetcher.GetPageTree(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, "intro", tree.Nodes[0].Block.ID)
	assert.Nil(t, tree.Nodes[0].Children)
	assert.Equal(t, []string{"inner-1", "toggle-2"}, ids(tree.Nodes[1].Children))
	assert.Equal(t, 0, f.stub.Calls(notiontest.OpListChildren, "toggle-2"), "only one level of nesting is expanded")

	assert.Equal(t, "page-1", f.cache.Index().LoadBlocks()["toggle-1"].ParentID)

	counts, err := f.cache.ClearPage(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pages)
	assert.Equal(t, 1, counts.Blocks)
}

func TestGetPageTreePropagatesChildFailure(t *testing.T) {
	f := newFixture(t)
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Toggle("toggle-1", "x"))
	f.stub.Fail(notiontest.OpListChildren, "toggle-1", http.StatusInternalServerError)

	_, err := f.fetcher.GetPageTree(context.Background(), "page-1")
	require.Error(t, err)
}

func TestSingleFlightCoalescesColdFetches(t *testing.T) {
	f := newFixture(t)
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 5)...)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.fetcher.GetPageWithBlocks(context.Background(), "page-1")
			if err == nil && len(result.Blocks) != 5 {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 要么合并进同一次拉取，要么在拉取完成后命中缓存。
	assert.Equal(t, 1, f.stub.Calls(notiontest.OpListChildren, "page-1"))
}

// gatedAPI 在 ListChildren 处阻塞，直到测试关闭 release。
type gatedAPI struct {
	API
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedAPI) ListChildren(ctx context.Context, blockID, cursor string) (*notion.ChildrenPage, error) {
	g.calls.Add(1)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.API.ListChildren(ctx, blockID, cursor)
}

func TestSingleFlightSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.addPost("page-1", "2024-03-01T10:00:00.000Z")
	f.stub.SetChildren("page-1", notiontest.Paragraphs("b", 3)...)

	api := &gatedAPI{API: f.client, entered: make(chan struct{}, 1), release: make(chan struct{})}
	fetcher := NewFetcher(api, f.cache, FetcherOptions{SingleFlight: true})

	type outcome struct {
		result *PageResult
		err    error
	}
	fetch := func(ctx context.Context) <-chan outcome {
		ch := make(chan outcome, 1)
		go func() {
			result, err := fetcher.GetPageWithBlocks(ctx, "page-1")
			ch <- outcome{result, err}
		}()
		return ch
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	first := fetch(ctxA)
	<-api.entered

	second := fetch(context.Background())
	third := fetch(context.Background())

	cancelA()
	gotA := <-first
	require.ErrorIs(t, gotA.err, context.Canceled)

	close(api.release)
	gotB := <-second
	gotC := <-third
	require.NoError(t, gotB.err)
	require.NoError(t, gotC.err)
	assert.Equal(t, []string{"b-0", "b-1", "b-2"}, ids(gotB.result.Blocks))

	// 每个调用方拿到独立的块切片。
	gotB.result.Blocks[0] = notion.Block{}
	assert.Equal(t, []string{"b-0", "b-1", "b-2"}, ids(gotC.result.Blocks))

	assert.Equal(t, int32(1), api.calls.Load())
	cached, err := fetcher.GetPageWithBlocks(context.Background(), "page-1")
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
}

func TestSingleFlightBlockFetchSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.stub.SetChildren("toggle-1", notiontest.Paragraph("inner", "x"))

	api := &gatedAPI{API: f.client, entered: make(chan struct{}, 1), release: make(chan struct{})}
	fetcher := NewFetcher(api, f.cache, FetcherOptions{SingleFlight: true})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := fetcher.GetBlockChildren(ctxA, "toggle-1", "page-1")
		errA <- err
	}()
	<-api.entered

	type outcome struct {
		result *BlocksResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := fetcher.GetBlockChildren(context.Background(), "toggle-1", "page-1")
		second <- outcome{result, err}
	}()

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(api.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []string{"inner"}, ids(got.result.Blocks))
	assert.Equal(t, int32(1), api.calls.Load())
	assert.Equal(t, "page-1", f.cache.Index().LoadBlocks()["toggle-1"].ParentID)
}

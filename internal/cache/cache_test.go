package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePageThenLookup(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	page := testPage(t, "p1", "v1")
	blocks := testBlocks(t, "b", 3)

	snapshot, err := c.StorePage(ctx, page, blocks)
	require.NoError(t, err)
	assert.Equal(t, "v1", snapshot.LastModified)

	got, ok := c.LookupPage(ctx, "p1", "v1")
	require.True(t, ok)
	assert.Equal(t, "p1", got.Page.ID)
	assert.Equal(t, []string{"b-0", "b-1", "b-2"}, blockIDs(got.Blocks))

	want, err := json.Marshal(blocks)
	require.NoError(t, err)
	have, err := json.Marshal(got.Blocks)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(have))

	entry := c.Index().LoadPages()["p1"]
	assert.Equal(t, "v1", entry.LastModified)
	assert.Positive(t, entry.Size)
}

func TestLookupPageMissesOnRemoteChangeAndTTL(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), testBlocks(t, "b", 1))
	require.NoError(t, err)

	_, ok := c.LookupPage(ctx, "p1", "v2")
	assert.False(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok = c.LookupPage(ctx, "p1", "v1")
	assert.False(t, ok)
}

func TestLookupPageOrphanedIndexEntryIsMiss(t *testing.T) {
	c, _, fsys := newTestCache(t)
	ctx := context.Background()

	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.NoError(t, err)
	require.NoError(t, fsys.Remove(filepath.Join(testRoot, "pages", "p1.json")))

	_, ok := c.LookupPage(ctx, "p1", "v1")
	assert.False(t, ok)
}

func TestLookupPageCorruptSnapshotIsMiss(t *testing.T) {
	c, _, fsys := newTestCache(t)
	ctx := context.Background()

	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(testRoot, "pages", "p1.json"), []byte(`{"page":`), 0o644))

	_, ok := c.LookupPage(ctx, "p1", "v1")
	assert.False(t, ok)
}

func TestCorruptIndexBehavesAsColdCache(t *testing.T) {
	c, _, fsys := newTestCache(t)
	ctx := context.Background()

	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(testRoot, "pages", indexFileName), []byte("garbage"), 0o644))

	_, ok := c.LookupPage(ctx, "p1", "v1")
	assert.False(t, ok)

	_, err = c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.NoError(t, err)
	_, ok = c.LookupPage(ctx, "p1", "v1")
	assert.True(t, ok)
}

func TestIndexFaultAfterSnapshotWriteIsMiss(t *testing.T) {
	c, _, fsys := newTestCache(t)
	ctx := context.Background()

	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), testBlocks(t, "old", 2))
	require.NoError(t, err)

	fsys.failIndex.Store(true)
	_, err = c.StorePage(ctx, testPage(t, "p1", "v2"), testBlocks(t, "new", 2))
	require.Error(t, err)
	assert.True(t, IsIndexWriteError(err))

	// 索引仍指向 v1，而快照已是 v2：两种查询都不能返回数据。
	_, ok := c.LookupPage(ctx, "p1", "v2")
	assert.False(t, ok)
	_, ok = c.LookupPage(ctx, "p1", "v1")
	assert.False(t, ok)

	fsys.failIndex.Store(false)
	_, err = c.StorePage(ctx, testPage(t, "p1", "v2"), testBlocks(t, "new", 2))
	require.NoError(t, err)
	got, ok := c.LookupPage(ctx, "p1", "v2")
	require.True(t, ok)
	assert.Equal(t, []string{"new-0", "new-1"}, blockIDs(got.Blocks))
}

func TestSnapshotFaultLeavesIndexUntouched(t *testing.T) {
	c, _, fsys := newTestCache(t)
	ctx := context.Background()

	fsys.failSnapshots.Store(true)
	_, err := c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.Error(t, err)
	assert.False(t, IsIndexWriteError(err))
	assert.Empty(t, c.Index().LoadPages())

	err = c.StoreBlocks(ctx, "b1", "p1", testBlocks(t, "c", 1))
	require.Error(t, err)
	assert.Empty(t, c.Index().LoadBlocks())
}

func TestStoreAndLookupBlocks(t *testing.T) {
	c, clock, fsys := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.StoreBlocks(ctx, "toggle-1", "p1", testBlocks(t, "child", 4)))

	blocks, ok := c.LookupBlocks(ctx, "toggle-1")
	require.True(t, ok)
	assert.Equal(t, []string{"child-0", "child-1", "child-2", "child-3"}, blockIDs(blocks))
	assert.True(t, c.IsBlocksValid(ctx, "toggle-1"))
	assert.Equal(t, "p1", c.Index().LoadBlocks()["toggle-1"].ParentID)

	require.NoError(t, fsys.Remove(filepath.Join(testRoot, "blocks", "toggle-1.json")))
	assert.False(t, c.IsBlocksValid(ctx, "toggle-1"))
	_, ok = c.LookupBlocks(ctx, "toggle-1")
	assert.False(t, ok)

	require.NoError(t, c.StoreBlocks(ctx, "toggle-1", "", nil))
	blocks, ok = c.LookupBlocks(ctx, "toggle-1")
	require.True(t, ok)
	assert.Empty(t, blocks)

	clock.Advance(time.Hour)
	_, ok = c.LookupBlocks(ctx, "toggle-1")
	assert.False(t, ok)
}

func TestUUIDIdentifiersShareOneEntry(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	compact := "1a2b3c4d5e6f47808192a3b4c5d6e7f8"
	dashed := "1a2b3c4d-5e6f-4780-8192-a3b4c5d6e7f8"

	_, err := c.StorePage(ctx, testPage(t, compact, "v1"), nil)
	require.NoError(t, err)

	_, ok := c.LookupPage(ctx, dashed, "v1")
	assert.True(t, ok)
	assert.Contains(t, c.Index().LoadPages(), dashed)
}

func TestLookupMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	c, err := New(Options{Fs: afero.NewMemMapFs(), Dir: testRoot, TTL: time.Hour, Metrics: metrics})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := c.LookupPage(ctx, "p1", "v1")
	require.False(t, ok)
	_, err = c.StorePage(ctx, testPage(t, "p1", "v1"), nil)
	require.NoError(t, err)
	_, ok = c.LookupPage(ctx, "p1", "v1")
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("pages", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("pages", "miss")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

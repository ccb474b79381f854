package content

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/notion"
	"github.com/notionfolio/notionfolio/internal/notion/notiontest"
)

const testDatabase = "blog-db"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenRenameFs 让所有 rename 失败，模拟磁盘写满等缓存写入故障。
type brokenRenameFs struct {
	afero.Fs
}

func (brokenRenameFs) Rename(string, string) error {
	return errors.New("disk full")
}

type fixture struct {
	stub    *notiontest.Server
	client  *notion.Client
	cache   *cache.Cache
	clock   *fakeClock
	fetcher *Fetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithFs(t, afero.NewMemMapFs(), true)
}

func newFixtureWithFs(t *testing.T, fsys afero.Fs, singleFlight bool) *fixture {
	t.Helper()
	stub := notiontest.NewServer(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	c, err := cache.New(cache.Options{
		Fs:  fsys,
		Dir: "/cache",
		TTL: 24 * time.Hour,
		Now: clock.Now,
	})
	require.NoError(t, err)

	client := stub.Client(t)
	return &fixture{
		stub:    stub,
		client:  client,
		cache:   c,
		clock:   clock,
		fetcher: NewFetcher(client, c, FetcherOptions{SingleFlight: singleFlight}),
	}
}

func (f *fixture) listing(t *testing.T) *Listing {
	t.Helper()
	l, err := NewListing(f.client, ListingOptions{TTL: 5 * time.Minute, Now: f.clock.Now})
	require.NoError(t, err)
	return l
}

func (f *fixture) addPost(id, lastEdited string) {
	f.stub.AddPage(id, lastEdited, notiontest.PostProps("Post "+id, "slug-"+id, "2024-03-01", "go, cache"))
}

func ids(blocks []notion.Block) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.ID)
	}
	return out
}

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/notionfolio/notionfolio/internal/notion"
)

const testRoot = "/cache"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// faultyFs 在 rename 到索引文件或快照文件时注入故障，用来模拟写入中途崩溃。
type faultyFs struct {
	afero.Fs
	failIndex     atomic.Bool
	failSnapshots atomic.Bool
	failRemove    atomic.Bool
}

var errInjected = errors.New("injected fault")

func (f *faultyFs) Rename(oldname, newname string) error {
	isIndex := filepath.Base(newname) == indexFileName
	if isIndex && f.failIndex.Load() {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errInjected}
	}
	if !isIndex && f.failSnapshots.Load() {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultyFs) Remove(name string) error {
	if f.failRemove.Load() {
		return &os.PathError{Op: "remove", Path: name, Err: errInjected}
	}
	return f.Fs.Remove(name)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock, *faultyFs) {
	t.Helper()
	fsys := &faultyFs{Fs: afero.NewMemMapFs()}
	clock := newFakeClock()
	c, err := New(Options{
		Fs:  fsys,
		Dir: testRoot,
		TTL: time.Hour,
		Now: clock.Now,
	})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, clock, fsys
}

func testPage(t *testing.T, id, lastEdited string) notion.Page {
	t.Helper()
	raw := fmt.Sprintf(`{"object":"page","id":%q,"last_edited_time":%q,"properties":{"title":{"type":"title","title":[{"plain_text":"T"}]}}}`, id, lastEdited)
	var page notion.Page
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return page
}

func testBlocks(t *testing.T, prefix string, n int) []notion.Block {
	t.Helper()
	blocks := make([]notion.Block, 0, n)
	for i := 0; i < n; i++ {
		raw := fmt.Sprintf(`{"object":"block","id":"%s-%d","type":"paragraph","has_children":false,"paragraph":{"rich_text":[{"plain_text":"line %d"}]}}`, prefix, i, i)
		var block notion.Block
		if err := json.Unmarshal([]byte(raw), &block); err != nil {
			t.Fatalf("decode block: %v", err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func blockIDs(blocks []notion.Block) []string {
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	return ids
}

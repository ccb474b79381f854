package cache

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Index 管理两个命名空间的索引文件，并回答“条目是否有效”。
// 同一进程内对同一命名空间的读改写经由互斥锁串行化；跨进程仍是后写者胜。
type Index struct {
	fs   afero.Fs
	root string
	ttl  time.Duration
	now  func() time.Time

	pagesMu  sync.Mutex
	blocksMu sync.Mutex
}

// NewIndex 构造索引管理器，默认使用 time.Now 作为时钟。
func NewIndex(fsys afero.Fs, root string, ttl time.Duration) *Index {
	return &Index{
		fs:   fsys,
		root: root,
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the configured time-to-live.
func (x *Index) TTL() time.Duration {
	return x.ttl
}

func (x *Index) path(ns Namespace) string {
	return filepath.Join(x.root, string(ns), indexFileName)
}

// LoadPages 读取 pages 索引；文件缺失或无法解析时返回空映射。
func (x *Index) LoadPages() map[string]PageEntry {
	return loadIndex[PageEntry](x.fs, x.path(NamespacePages))
}

// LoadBlocks 读取 blocks 索引；文件缺失或无法解析时返回空映射。
func (x *Index) LoadBlocks() map[string]BlocksEntry {
	return loadIndex[BlocksEntry](x.fs, x.path(NamespaceBlocks))
}

// SavePages 覆盖写入 pages 索引。
func (x *Index) SavePages(entries map[string]PageEntry) error {
	x.pagesMu.Lock()
	defer x.pagesMu.Unlock()
	return saveIndex(x.fs, x.path(NamespacePages), entries)
}

// SaveBlocks 覆盖写入 blocks 索引。
func (x *Index) SaveBlocks(entries map[string]BlocksEntry) error {
	x.blocksMu.Lock()
	defer x.blocksMu.Unlock()
	return saveIndex(x.fs, x.path(NamespaceBlocks), entries)
}

// UpdatePages 在锁内完成 load-mutate-save；fn 返回 false 时跳过写回。
func (x *Index) UpdatePages(fn func(map[string]PageEntry) bool) error {
	x.pagesMu.Lock()
	defer x.pagesMu.Unlock()
	entries := loadIndex[PageEntry](x.fs, x.path(NamespacePages))
	if !fn(entries) {
		return nil
	}
	return saveIndex(x.fs, x.path(NamespacePages), entries)
}

// UpdateBlocks 在锁内完成 load-mutate-save；fn 返回 false 时跳过写回。
func (x *Index) UpdateBlocks(fn func(map[string]BlocksEntry) bool) error {
	x.blocksMu.Lock()
	defer x.blocksMu.Unlock()
	entries := loadIndex[BlocksEntry](x.fs, x.path(NamespaceBlocks))
	if !fn(entries) {
		return nil
	}
	return saveIndex(x.fs, x.path(NamespaceBlocks), entries)
}

// IsPageValid reports whether the page entry exists, is younger than the TTL
// and was cached from the same remote revision.
func (x *Index) IsPageValid(id, remoteLastModified string) bool {
	key, err := NormalizeID(id)
	if err != nil {
		return false
	}
	entry, ok := x.LoadPages()[key]
	if !ok {
		return false
	}
	return x.fresh(entry.CachedAt) && entry.LastModified == remoteLastModified
}

// IsBlocksFresh reports whether the blocks entry exists and is younger than
// the TTL. Block subtrees carry no remote revision, so a page edit that only
// touches nested children stays invisible until the entry ages out.
func (x *Index) IsBlocksFresh(id string) bool {
	key, err := NormalizeID(id)
	if err != nil {
		return false
	}
	entry, ok := x.LoadBlocks()[key]
	if !ok {
		return false
	}
	return x.fresh(entry.CachedAt)
}

// fresh 用于读路径：严格小于 TTL 才算有效。
func (x *Index) fresh(cachedAt int64) bool {
	return x.age(cachedAt) < x.ttl
}

// expired 用于清理：严格大于 TTL 才删除。
func (x *Index) expired(cachedAt int64) bool {
	return x.age(cachedAt) > x.ttl
}

func (x *Index) age(cachedAt int64) time.Duration {
	return x.now().Sub(time.UnixMilli(cachedAt))
}

func loadIndex[E any](fsys afero.Fs, path string) map[string]E {
	entries := make(map[string]E)
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return make(map[string]E)
	}
	return entries
}

func saveIndex[E any](fsys afero.Fs, path string, entries map[string]E) error {
	if entries == nil {
		entries = make(map[string]E)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(fsys, path, data)
}

package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ClearExpired 删除两个命名空间中 now-cachedAt 超过 TTL 的条目并重写索引。
// 清理按命名空间独立进行，不关心 parentId；文件删除失败时保留索引条目。
func (c *Cache) ClearExpired(ctx context.Context) (NamespaceCounts, error) {
	var counts NamespaceCounts
	var errs []error

	err := c.index.UpdatePages(func(entries map[string]PageEntry) bool {
		for id, entry := range entries {
			if !c.index.expired(entry.CachedAt) {
				continue
			}
			if err := c.store.Delete(ctx, NamespacePages, id); err != nil {
				errs = append(errs, err)
				continue
			}
			delete(entries, id)
			counts.Pages++
		}
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}

	err = c.index.UpdateBlocks(func(entries map[string]BlocksEntry) bool {
		for id, entry := range entries {
			if !c.index.expired(entry.CachedAt) {
				continue
			}
			if err := c.store.Delete(ctx, NamespaceBlocks, id); err != nil {
				errs = append(errs, err)
				continue
			}
			delete(entries, id)
			counts.Blocks++
		}
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}

	c.metrics.evicted(NamespacePages, "expired", counts.Pages)
	c.metrics.evicted(NamespaceBlocks, "expired", counts.Blocks)
	c.logger.WithFields(logrus.Fields{
		"action": "clear_expired",
		"pages":  counts.Pages,
		"blocks": counts.Blocks,
	}).Info("cache_cleared")
	return counts, errors.Join(errs...)
}

// ClearAll 删除两个命名空间中的全部快照（包括索引里没有记录的孤立文件），
// 并把两个索引重置为空。
func (c *Cache) ClearAll(ctx context.Context) (NamespaceCounts, error) {
	var counts NamespaceCounts
	var errs []error

	err := c.index.UpdatePages(func(entries map[string]PageEntry) bool {
		ids := unionIDs(keysOf(entries), c.listQuiet(ctx, NamespacePages))
		counts.Pages, errs = c.deleteAll(ctx, NamespacePages, ids, errs)
		clear(entries)
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}

	err = c.index.UpdateBlocks(func(entries map[string]BlocksEntry) bool {
		ids := unionIDs(keysOf(entries), c.listQuiet(ctx, NamespaceBlocks))
		counts.Blocks, errs = c.deleteAll(ctx, NamespaceBlocks, ids, errs)
		clear(entries)
		return true
	})
	if err != nil {
		errs = append(errs, err)
	}

	c.metrics.evicted(NamespacePages, "clear", counts.Pages)
	c.metrics.evicted(NamespaceBlocks, "clear", counts.Blocks)
	c.logger.WithFields(logrus.Fields{
		"action": "clear_all",
		"pages":  counts.Pages,
		"blocks": counts.Blocks,
	}).Info("cache_cleared")
	return counts, errors.Join(errs...)
}

// ClearPage 删除单个页面的快照与索引条目，然后级联删除 parentId 等于该页面的
// 所有 blocks 条目。返回值中 Pages 为 1 表示页面条目确实存在并已删除。
func (c *Cache) ClearPage(ctx context.Context, pageID string) (NamespaceCounts, error) {
	var counts NamespaceCounts

	key, err := NormalizeID(pageID)
	if err != nil {
		return counts, err
	}

	var deleteErr error
	err = c.index.UpdatePages(func(entries map[string]PageEntry) bool {
		if _, ok := entries[key]; !ok {
			return false
		}
		if deleteErr = c.store.Delete(ctx, NamespacePages, key); deleteErr != nil {
			return false
		}
		delete(entries, key)
		counts.Pages = 1
		return true
	})
	if deleteErr != nil {
		return counts, deleteErr
	}
	if err != nil {
		return counts, err
	}

	var errs []error
	err = c.index.UpdateBlocks(func(entries map[string]BlocksEntry) bool {
		changed := false
		for id, entry := range entries {
			if entry.ParentID != key {
				continue
			}
			if err := c.store.Delete(ctx, NamespaceBlocks, id); err != nil {
				errs = append(errs, err)
				continue
			}
			delete(entries, id)
			counts.Blocks++
			changed = true
		}
		return changed
	})
	if err != nil {
		errs = append(errs, err)
	}

	c.metrics.evicted(NamespacePages, "invalidate", counts.Pages)
	c.metrics.evicted(NamespaceBlocks, "invalidate", counts.Blocks)
	c.logger.WithFields(logrus.Fields{
		"action": "clear_page",
		"id":     key,
		"pages":  counts.Pages,
		"blocks": counts.Blocks,
	}).Info("cache_cleared")
	return counts, errors.Join(errs...)
}

// NamespaceStats 汇总单个命名空间的条目数量、体积与过期情况。
type NamespaceStats struct {
	Entries        int   `json:"entries"`
	TotalSize      int64 `json:"totalSize"`
	Expired        int   `json:"expired"`
	OldestCachedAt int64 `json:"oldestCachedAt,omitempty"`
	NewestCachedAt int64 `json:"newestCachedAt,omitempty"`
}

// Oldest returns the oldest cachedAt, or the zero time when empty.
func (s NamespaceStats) Oldest() time.Time {
	if s.OldestCachedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.OldestCachedAt)
}

// Newest returns the newest cachedAt, or the zero time when empty.
func (s NamespaceStats) Newest() time.Time {
	if s.NewestCachedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.NewestCachedAt)
}

func (s *NamespaceStats) add(cachedAt, size int64, expired bool) {
	s.Entries++
	s.TotalSize += size
	if expired {
		s.Expired++
	}
	if s.OldestCachedAt == 0 || cachedAt < s.OldestCachedAt {
		s.OldestCachedAt = cachedAt
	}
	if cachedAt > s.NewestCachedAt {
		s.NewestCachedAt = cachedAt
	}
}

// Stats 是整个缓存的统计快照。
type Stats struct {
	Dir    string         `json:"dir"`
	TTL    string         `json:"ttl"`
	Pages  NamespaceStats `json:"pages"`
	Blocks NamespaceStats `json:"blocks"`
}

// Stats 只读取索引，不访问快照文件。
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Dir: c.dir, TTL: c.TTL().String()}
	for _, entry := range c.index.LoadPages() {
		stats.Pages.add(entry.CachedAt, entry.Size, c.index.expired(entry.CachedAt))
	}
	for _, entry := range c.index.LoadBlocks() {
		stats.Blocks.add(entry.CachedAt, entry.Size, c.index.expired(entry.CachedAt))
	}
	return stats, nil
}

func (c *Cache) deleteAll(ctx context.Context, ns Namespace, ids []string, errs []error) (int, []error) {
	deleted := 0
	for _, id := range ids {
		if err := c.store.Delete(ctx, ns, id); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}

func (c *Cache) listQuiet(ctx context.Context, ns Namespace) []string {
	ids, err := c.store.List(ctx, ns)
	if err != nil {
		c.logger.WithError(err).WithField("namespace", string(ns)).Warn("cache_list_failed")
		return nil
	}
	return ids
}

func keysOf[E any](entries map[string]E) []string {
	keys := make([]string, 0, len(entries))
	for id := range entries {
		keys = append(keys, id)
	}
	return keys
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

package cache

import (
	"fmt"
	"time"

	"github.com/notionfolio/notionfolio/internal/notion"
)

// Namespace 是缓存的独立分区，pages 与 blocks 的 ID 互不比较。
type Namespace string

const (
	NamespacePages  Namespace = "pages"
	NamespaceBlocks Namespace = "blocks"
)

// Namespaces lists every namespace in sweep order.
var Namespaces = []Namespace{NamespacePages, NamespaceBlocks}

func (n Namespace) validate() error {
	switch n {
	case NamespacePages, NamespaceBlocks:
		return nil
	default:
		return fmt.Errorf("unknown cache namespace %q", string(n))
	}
}

// PageEntry 是 pages 索引中的一条记录；CachedAt 为毫秒时间戳。
type PageEntry struct {
	ID           string `json:"id"`
	LastModified string `json:"lastModified"`
	CachedAt     int64  `json:"cachedAt"`
	Size         int64  `json:"size"`
}

// BlocksEntry 是 blocks 索引中的一条记录。ParentID 仅用于级联删除。
type BlocksEntry struct {
	ID       string `json:"id"`
	CachedAt int64  `json:"cachedAt"`
	Size     int64  `json:"size"`
	ParentID string `json:"parentId,omitempty"`
}

// PageSnapshot is the cached unit of the pages namespace.
type PageSnapshot struct {
	Page         notion.Page    `json:"page"`
	Blocks       []notion.Block `json:"blocks"`
	LastModified string         `json:"lastModified"`
	CachedAt     int64          `json:"cachedAt"`
}

// CachedTime converts CachedAt to a time.Time.
func (s PageSnapshot) CachedTime() time.Time {
	return time.UnixMilli(s.CachedAt)
}

// NamespaceCounts reports how many entries an operation touched per namespace.
type NamespaceCounts struct {
	Pages  int `json:"pages"`
	Blocks int `json:"blocks"`
}

// Total sums both namespaces.
func (c NamespaceCounts) Total() int {
	return c.Pages + c.Blocks
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

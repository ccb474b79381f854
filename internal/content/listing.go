package content

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/notion"
)

const (
	// DefaultListingTTL bounds how long a memoized listing is reused.
	DefaultListingTTL = 5 * time.Minute
	// DefaultListingSize is the number of databases whose listing is kept.
	DefaultListingSize = 16
)

// ErrPostNotFound is returned when no published post has the given slug.
var ErrPostNotFound = errors.New("post not found")

// ListingOptions configures a Listing.
type ListingOptions struct {
	TTL    time.Duration
	Size   int
	Now    func() time.Time
	Logger *logrus.Logger
}

// Listing 在内存中按数据库 ID 记住已发布文章列表，带独立 TTL；由组合方持有，
// 测试可注入时钟并通过 Reset 清空。
type Listing struct {
	api    API
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger
	memo   *lru.Cache[string, listingEntry]
}

type listingEntry struct {
	posts     []notion.BlogPost
	fetchedAt time.Time
}

// NewListing builds a Listing backed by an LRU of opts.Size databases.
func NewListing(api API, opts ListingOptions) (*Listing, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultListingSize
	}
	memo, err := lru.New[string, listingEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create listing memo: %w", err)
	}

	l := &Listing{
		api:    api,
		ttl:    opts.TTL,
		now:    opts.Now,
		logger: opts.Logger,
		memo:   memo,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultListingTTL
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = logging.Discard()
	}
	return l, nil
}

// PublishedPosts 返回 stage 为 Published、按 date 倒序的文章列表。
// 记忆未过期时直接返回，否则查询远端并刷新记忆。
func (l *Listing) PublishedPosts(ctx context.Context, databaseID string) ([]notion.BlogPost, error) {
	if entry, ok := l.memo.Get(databaseID); ok && l.now().Sub(entry.fetchedAt) < l.ttl {
		l.logger.WithFields(logrus.Fields{
			"databaseId": databaseID,
			"posts":      len(entry.posts),
		}).Debug("listing_memo_hit")
		return slices.Clone(entry.posts), nil
	}

	pages, err := l.queryAll(ctx, databaseID, notion.PublishedPostsQuery())
	if err != nil {
		return nil, err
	}
	posts := make([]notion.BlogPost, 0, len(pages))
	for _, page := range pages {
		posts = append(posts, notion.ToBlogPost(page))
	}

	l.memo.Add(databaseID, listingEntry{posts: posts, fetchedAt: l.now()})
	l.logger.WithFields(logrus.Fields{
		"databaseId": databaseID,
		"posts":      len(posts),
	}).Info("listing_refreshed")
	return slices.Clone(posts), nil
}

// PostBySlug 查找指定 slug 的已发布文章，不经过记忆。
func (l *Listing) PostBySlug(ctx context.Context, databaseID, slug string) (*notion.BlogPost, error) {
	result, err := l.api.QueryDatabase(ctx, databaseID, notion.PostBySlugQuery(slug), "")
	if err != nil {
		return nil, fmt.Errorf("query post %q: %w", slug, err)
	}
	for _, page := range result.Results {
		if !page.IsPage() {
			continue
		}
		post := notion.ToBlogPost(page)
		if post.Slug == slug {
			return &post, nil
		}
	}
	return nil, ErrPostNotFound
}

func (l *Listing) queryAll(ctx context.Context, databaseID string, q notion.DatabaseQuery) ([]notion.Page, error) {
	var pages []notion.Page
	cursor := ""
	seen := make(map[string]struct{})
	for {
		result, err := l.api.QueryDatabase(ctx, databaseID, q, cursor)
		if err != nil {
			return nil, fmt.Errorf("query database %s: %w", databaseID, err)
		}
		for _, page := range result.Results {
			if page.IsPage() {
				pages = append(pages, page)
			}
		}
		if !result.HasMore || result.NextCursor == "" {
			return pages, nil
		}
		if _, dup := seen[result.NextCursor]; dup {
			return nil, fmt.Errorf("query database %s: %w", databaseID, errCursorLoop)
		}
		seen[result.NextCursor] = struct{}{}
		cursor = result.NextCursor
	}
}

// Reset drops every memoized listing.
func (l *Listing) Reset() {
	l.memo.Purge()
	l.logger.Debug("listing_memo_reset")
}

// ListingStatus describes the memoized listing of one database.
type ListingStatus struct {
	Cached    bool          `json:"cached"`
	Age       time.Duration `json:"age,omitempty"`
	Size      int           `json:"size,omitempty"`
	ExpiresIn time.Duration `json:"expiresIn,omitempty"`
}

// Status reports whether a listing is memoized and how long it stays valid.
func (l *Listing) Status(databaseID string) ListingStatus {
	entry, ok := l.memo.Peek(databaseID)
	if !ok {
		return ListingStatus{}
	}
	age := l.now().Sub(entry.fetchedAt)
	return ListingStatus{
		Cached:    true,
		Age:       age,
		Size:      len(entry.posts),
		ExpiresIn: max(l.ttl-age, 0),
	}
}

package content

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/logging"
)

// BuildHook 在站点构建前预热缓存：可选地清理过期条目，然后预热全部已发布文章。
type BuildHook struct {
	fetcher    *Fetcher
	listing    *Listing
	databaseID string
	warm       cache.WarmOptions
	logger     *logrus.Logger
}

// BuildHookOptions configures a BuildHook.
type BuildHookOptions struct {
	DatabaseID string
	Warm       cache.WarmOptions
	Logger     *logrus.Logger
}

// NewBuildHook composes the fetcher and the listing.
func NewBuildHook(fetcher *Fetcher, listing *Listing, opts BuildHookOptions) *BuildHook {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &BuildHook{
		fetcher:    fetcher,
		listing:    listing,
		databaseID: strings.TrimSpace(opts.DatabaseID),
		warm:       opts.Warm,
		logger:     logger,
	}
}

// Enabled reports whether a blog database is configured.
func (h *BuildHook) Enabled() bool {
	return h.databaseID != ""
}

// WarmOne warms the page tree of a single identifier.
func (h *BuildHook) WarmOne(ctx context.Context, pageID string) error {
	_, err := h.fetcher.GetPageTree(ctx, pageID)
	return err
}

// WarmPages 预热给定的页面列表；单个失败只记录，不影响其他页面。
func (h *BuildHook) WarmPages(ctx context.Context, pageIDs []string) cache.WarmResult {
	return h.fetcher.Cache().Warm(ctx, pageIDs, h.WarmOne, h.warm)
}

// WarmAll 预热当前所有已发布文章；只有获取文章列表失败时才返回错误。
func (h *BuildHook) WarmAll(ctx context.Context) (cache.WarmResult, error) {
	ids, err := h.publishedIDs(ctx)
	if err != nil {
		return cache.WarmResult{}, err
	}
	return h.WarmPages(ctx, ids), nil
}

// BuildOptions controls WarmBuild.
type BuildOptions struct {
	ClearExpired bool
	Verbose      bool
}

// BuildReport summarizes a WarmBuild run. Skipped and Error explain why
// nothing or only part of the work was done.
type BuildReport struct {
	Skipped string                `json:"skipped,omitempty"`
	Cleared cache.NamespaceCounts `json:"cleared"`
	Warm    cache.WarmResult      `json:"warm"`
	Error   string                `json:"error,omitempty"`
}

// WarmBuild 不会让构建失败：所有错误都记录到日志与报告中。
func (h *BuildHook) WarmBuild(ctx context.Context, opts BuildOptions) BuildReport {
	var report BuildReport
	log := h.logger.WithField("action", "warm_build")
	verbose := func(msg string, fields logrus.Fields) {
		if opts.Verbose {
			log.WithFields(fields).Info(msg)
			return
		}
		log.WithFields(fields).Debug(msg)
	}

	if !h.Enabled() {
		report.Skipped = "blog database id not configured"
		log.Warn("warm_build_skipped")
		return report
	}

	if opts.ClearExpired {
		cleared, err := h.fetcher.Cache().ClearExpired(ctx)
		report.Cleared = cleared
		if err != nil {
			log.WithError(err).Warn("clear_expired_failed")
		}
		if cleared.Total() > 0 {
			verbose("expired_cleared", logrus.Fields{"pages": cleared.Pages, "blocks": cleared.Blocks})
		}
	}

	ids, err := h.publishedIDs(ctx)
	if err != nil {
		report.Error = err.Error()
		log.WithError(err).Error("warm_build_failed")
		return report
	}
	if len(ids) == 0 {
		report.Skipped = "no published posts"
		verbose("warm_build_empty", nil)
		return report
	}

	verbose("warm_build_started", logrus.Fields{"posts": len(ids)})
	report.Warm = h.WarmPages(ctx, ids)
	verbose("warm_build_complete", logrus.Fields{
		"posts":     len(ids),
		"succeeded": report.Warm.Succeeded,
		"failed":    len(report.Warm.Failed),
	})
	return report
}

// WarmingStatus is the monitoring view of the build hook.
type WarmingStatus struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	TotalPosts int      `json:"totalPosts,omitempty"`
	PageIDs    []string `json:"pageIds,omitempty"`
	Error      string   `json:"error,omitempty"`
}

const (
	StatusDisabled = "disabled"
	StatusReady    = "ready"
	StatusError    = "error"
)

// Status 返回 disabled / ready / error 三种状态之一。
func (h *BuildHook) Status(ctx context.Context) WarmingStatus {
	if !h.Enabled() {
		return WarmingStatus{Status: StatusDisabled, Reason: "blog database id not configured"}
	}
	ids, err := h.publishedIDs(ctx)
	if err != nil {
		return WarmingStatus{Status: StatusError, Error: err.Error()}
	}
	return WarmingStatus{Status: StatusReady, TotalPosts: len(ids), PageIDs: ids}
}

func (h *BuildHook) publishedIDs(ctx context.Context) ([]string, error) {
	posts, err := h.listing.PublishedPosts(ctx, h.databaseID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		if post.ID != "" {
			ids = append(ids, post.ID)
		}
	}
	return ids, nil
}

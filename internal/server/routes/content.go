package routes

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/content"
	"github.com/notionfolio/notionfolio/internal/server"
)

// ContentDeps are the components the content routes read from.
type ContentDeps struct {
	Fetcher    *content.Fetcher
	Listing    *content.Listing
	DatabaseID string
}

// RegisterContentRoutes 暴露渲染流水线使用的只读内容接口。
func RegisterContentRoutes(app *fiber.App, deps ContentDeps) {
	if app == nil || deps.Fetcher == nil || deps.Listing == nil {
		return
	}
	databaseID := strings.TrimSpace(deps.DatabaseID)

	app.Get("/api/posts", func(c fiber.Ctx) error {
		if databaseID == "" {
			return server.ErrDatabaseNotConfigured
		}
		posts, err := deps.Listing.PublishedPosts(c.Context(), databaseID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"posts": posts, "count": len(posts)})
	})

	app.Get("/api/posts/slug/:slug", func(c fiber.Ctx) error {
		if databaseID == "" {
			return server.ErrDatabaseNotConfigured
		}
		post, err := deps.Listing.PostBySlug(c.Context(), databaseID, c.Params("slug"))
		if err != nil {
			return err
		}
		return c.JSON(post)
	})

	app.Get("/api/pages/:id", func(c fiber.Ctx) error {
		id, err := contentID(c)
		if err != nil {
			return err
		}
		tree, err := deps.Fetcher.GetPageTree(c.Context(), id)
		if err != nil {
			return err
		}
		setCacheHit(c, tree.CacheHit)
		return c.JSON(tree)
	})

	app.Get("/api/blocks/:id", func(c fiber.Ctx) error {
		id, err := contentID(c)
		if err != nil {
			return err
		}
		parent := strings.TrimSpace(c.Query("parent"))
		if parent != "" {
			if _, err := cache.NormalizeID(parent); err != nil {
				return err
			}
		}
		result, err := deps.Fetcher.GetBlockChildren(c.Context(), id, parent)
		if err != nil {
			return err
		}
		setCacheHit(c, result.CacheHit)
		return c.JSON(result)
	})
}

// contentID 校验路径参数能映射为缓存键，原样返回给远端调用。
func contentID(c fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := cache.NormalizeID(id); err != nil {
		return "", err
	}
	return id, nil
}

func setCacheHit(c fiber.Ctx, hit bool) {
	c.Set("X-Cache-Hit", strconv.FormatBool(hit))
}

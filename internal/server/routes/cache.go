package routes

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/content"
)

// CacheDeps are the components the maintenance routes operate on.
type CacheDeps struct {
	Cache      *cache.Cache
	Hook       *content.BuildHook
	Listing    *content.Listing
	DatabaseID string
}

// RegisterCacheRoutes 暴露 /-/cache 维护接口：统计、清理、单页失效与预热。
func RegisterCacheRoutes(app *fiber.App, deps CacheDeps) {
	if app == nil || deps.Cache == nil {
		return
	}

	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		stats, err := deps.Cache.Stats(c.Context())
		if err != nil {
			return err
		}
		payload := fiber.Map{"cache": stats}
		if deps.Listing != nil && deps.DatabaseID != "" {
			payload["listing"] = deps.Listing.Status(deps.DatabaseID)
		}
		return c.JSON(payload)
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		counts, err := deps.Cache.ClearAll(c.Context())
		if deps.Listing != nil {
			deps.Listing.Reset()
		}
		return respondCounts(c, counts, err)
	})

	app.Post("/-/cache/clear-expired", func(c fiber.Ctx) error {
		counts, err := deps.Cache.ClearExpired(c.Context())
		return respondCounts(c, counts, err)
	})

	app.Delete("/-/cache/pages/:id", func(c fiber.Ctx) error {
		counts, err := deps.Cache.ClearPage(c.Context(), strings.TrimSpace(c.Params("id")))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"removed": counts.Pages > 0,
			"cleared": counts,
		})
	})

	if deps.Hook == nil {
		return
	}

	app.Get("/-/cache/warming", func(c fiber.Ctx) error {
		return c.JSON(deps.Hook.Status(c.Context()))
	})

	app.Post("/-/cache/warm", func(c fiber.Ctx) error {
		if id := strings.TrimSpace(c.Query("id")); id != "" {
			if _, err := cache.NormalizeID(id); err != nil {
				return err
			}
			if err := deps.Hook.WarmOne(c.Context(), id); err != nil {
				return err
			}
			return c.JSON(fiber.Map{"warmed": id})
		}
		clearExpired, _ := strconv.ParseBool(c.Query("clear_expired", "true"))
		report := deps.Hook.WarmBuild(c.Context(), content.BuildOptions{ClearExpired: clearExpired})
		return c.JSON(report)
	})
}

func respondCounts(c fiber.Ctx, counts cache.NamespaceCounts, err error) error {
	payload := fiber.Map{"cleared": counts}
	if err != nil {
		payload["error"] = err.Error()
		return c.Status(fiber.StatusInternalServerError).JSON(payload)
	}
	return c.JSON(payload)
}

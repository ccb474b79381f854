package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/server"
	"github.com/notionfolio/notionfolio/internal/server/routes"
	"github.com/notionfolio/notionfolio/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动内容与缓存维护 HTTP 服务",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts, needNotion)
			if err != nil {
				return err
			}
			if port > 0 {
				deps.cfg.Global.ListenPort = port
			}
			app, err := buildApp(deps)
			if err != nil {
				return err
			}
			return listen(cmd.Context(), app, deps)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "覆盖配置中的 ListenPort")
	return cmd
}

// buildApp 组装 Fiber 应用：内容接口、缓存维护接口与 /-/metrics。
func buildApp(deps *runtimeDeps) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     deps.logger,
		Metrics:    deps.httpMetrics,
		ListenPort: deps.cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}

	databaseID := deps.cfg.Notion.BlogDatabaseID
	routes.RegisterContentRoutes(app, routes.ContentDeps{
		Fetcher:    deps.fetcher,
		Listing:    deps.listing,
		DatabaseID: databaseID,
	})
	routes.RegisterCacheRoutes(app, routes.CacheDeps{
		Cache:      deps.cache,
		Hook:       deps.hook,
		Listing:    deps.listing,
		DatabaseID: databaseID,
	})
	routes.RegisterMetricsRoute(app, deps.registry)
	return app, nil
}

// listen 阻塞直到服务退出；ctx 取消时优雅关闭。
func listen(ctx context.Context, app *fiber.App, deps *runtimeDeps) error {
	port := deps.cfg.Global.ListenPort
	fields := logging.BaseFields("listen", deps.configPath)
	fields["port"] = port
	fields["cacheDir"] = deps.cache.Dir()
	fields["auth"] = deps.cfg.Notion.AuthMode()
	fields["version"] = version.Full()
	deps.logger.WithFields(fields).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		deps.logger.WithError(err).Warn("shutdown_failed")
	}
	deps.logger.WithFields(logrus.Fields{"action": "shutdown", "port": port}).Info("Fiber 服务已停止")
	return <-errCh
}

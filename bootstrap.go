package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/config"
	"github.com/notionfolio/notionfolio/internal/content"
	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/notion"
	"github.com/notionfolio/notionfolio/internal/server"
)

// requirement 描述命令对远端 API 的依赖程度。
type requirement int

const (
	needCacheOnly requirement = iota
	needNotion
	needDatabase
)

// runtimeDeps 是一次命令执行所需的全部组件。
type runtimeDeps struct {
	configPath  string
	cfg         *config.Config
	logger      *logrus.Logger
	registry    *prometheus.Registry
	httpMetrics *server.HTTPMetrics
	cache       *cache.Cache
	fetcher     *content.Fetcher
	listing     *content.Listing
	hook        *content.BuildHook
}

func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	path := resolveConfigPath(opts.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, path, nil
}

// bootstrap 遵循“配置 → 日志 → 指标 → 磁盘缓存 → 远端客户端 → 编排层”的顺序，
// 所有子命令共享同一套组装逻辑。
func bootstrap(opts *globalOptions, req requirement) (*runtimeDeps, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	switch req {
	case needNotion:
		err = cfg.RequireNotion()
	case needDatabase:
		err = cfg.RequireDatabase()
	}
	if err != nil {
		return nil, err
	}

	logger, err := logging.InitLoggerTo(cfg.Global, stdErr)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	registry := prometheus.NewRegistry()
	cacheMetrics, err := cache.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("注册缓存指标失败: %w", err)
	}
	httpMetrics, err := server.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("注册 HTTP 指标失败: %w", err)
	}

	store, err := cache.NewFromConfig(cfg.Cache, logger, cacheMetrics)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	deps := &runtimeDeps{
		configPath:  path,
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		httpMetrics: httpMetrics,
		cache:       store,
	}
	if req == needCacheOnly {
		return deps, nil
	}

	client, err := notion.NewClientFromConfig(cfg.Notion, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化 Notion 客户端失败: %w", err)
	}
	deps.fetcher = content.NewFetcher(client, store, content.FetcherOptions{
		SingleFlight: cfg.Cache.SingleFlight,
		Logger:       logger,
	})
	deps.listing, err = content.NewListing(client, content.ListingOptions{
		TTL:    cfg.Cache.ListingTTL.DurationValue(),
		Size:   cfg.Cache.ListingCacheSize,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	deps.hook = content.NewBuildHook(deps.fetcher, deps.listing, content.BuildHookOptions{
		DatabaseID: cfg.Notion.BlogDatabaseID,
		Warm: cache.WarmOptions{
			BatchSize: cfg.Cache.WarmBatchSize,
			Delay:     cfg.Cache.WarmBatchDelay.DurationValue(),
		},
		Logger: logger,
	})
	return deps, nil
}

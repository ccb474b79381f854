package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultBaseURL 是远端内容 API 的默认入口。
const DefaultBaseURL = "https://api.notion.com/v1"

// DefaultAPIVersion 对应 Notion-Version 请求头。
const DefaultAPIVersion = "2022-06-28"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量与校验逻辑。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	applyNotionDefaults(&cfg.Notion)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.Dir = absDir

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)

	v.SetDefault("Cache.Dir", "./.notion-cache")
	v.SetDefault("Cache.TTL", 86400)
	v.SetDefault("Cache.WarmBatchSize", 5)
	v.SetDefault("Cache.WarmBatchDelay", "100ms")
	v.SetDefault("Cache.ListingTTL", "5m")
	v.SetDefault("Cache.ListingCacheSize", 16)
	v.SetDefault("Cache.SingleFlight", true)

	v.SetDefault("Notion.BaseURL", DefaultBaseURL)
	v.SetDefault("Notion.Version", DefaultAPIVersion)
	v.SetDefault("Notion.PageSize", 100)
	v.SetDefault("Notion.MaxRetries", 3)
	v.SetDefault("Notion.InitialBackoff", "1s")
	v.SetDefault("Notion.Timeout", "30s")
}

// bindEnv 让部署环境沿用既有的 NOTION_* 变量名。
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"Notion.Token":          "NOTION_API_TOKEN",
		"Notion.BlogDatabaseID": "NOTION_BLOG_DATABASE_ID",
		"Cache.Dir":             "NOTIONFOLIO_CACHE_DIR",
		"LogLevel":              "NOTIONFOLIO_LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if strings.TrimSpace(c.Dir) == "" {
		c.Dir = "./.notion-cache"
	}
	if c.TTL.DurationValue() == 0 {
		c.TTL = Duration(24 * time.Hour)
	}
	if c.WarmBatchSize == 0 {
		c.WarmBatchSize = 5
	}
	if c.ListingTTL.DurationValue() == 0 {
		c.ListingTTL = Duration(5 * time.Minute)
	}
	if c.ListingCacheSize == 0 {
		c.ListingCacheSize = 16
	}
}

func applyNotionDefaults(n *NotionConfig) {
	n.Token = strings.TrimSpace(n.Token)
	n.BlogDatabaseID = strings.TrimSpace(n.BlogDatabaseID)
	if strings.TrimSpace(n.BaseURL) == "" {
		n.BaseURL = DefaultBaseURL
	}
	n.BaseURL = strings.TrimRight(n.BaseURL, "/")
	if n.Version == "" {
		n.Version = DefaultAPIVersion
	}
	if n.PageSize == 0 {
		n.PageSize = 100
	}
	if n.InitialBackoff.DurationValue() == 0 {
		n.InitialBackoff = Duration(time.Second)
	}
	if n.Timeout.DurationValue() == 0 {
		n.Timeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

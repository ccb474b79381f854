package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：监听端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 决定磁盘缓存的位置、新鲜度以及预热节奏。
type CacheConfig struct {
	Dir              string   `mapstructure:"Dir"`
	TTL              Duration `mapstructure:"TTL"`
	WarmBatchSize    int      `mapstructure:"WarmBatchSize"`
	WarmBatchDelay   Duration `mapstructure:"WarmBatchDelay"`
	ListingTTL       Duration `mapstructure:"ListingTTL"`
	ListingCacheSize int      `mapstructure:"ListingCacheSize"`
	SingleFlight     bool     `mapstructure:"SingleFlight"`
}

// NotionConfig 描述远端内容 API 的访问方式。
type NotionConfig struct {
	Token          string   `mapstructure:"Token"`
	BlogDatabaseID string   `mapstructure:"BlogDatabaseID"`
	BaseURL        string   `mapstructure:"BaseURL"`
	Version        string   `mapstructure:"Version"`
	PageSize       int      `mapstructure:"PageSize"`
	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	Timeout        Duration `mapstructure:"Timeout"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
	Notion NotionConfig `mapstructure:"Notion"`
}

// HasToken 表示是否配置了访问远端 API 的凭证。
func (n NotionConfig) HasToken() bool {
	return strings.TrimSpace(n.Token) != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (n NotionConfig) AuthMode() string {
	if n.HasToken() {
		return "credentialed"
	}
	return "anonymous"
}

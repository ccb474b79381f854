package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}

	cc := c.Cache
	if strings.TrimSpace(cc.Dir) == "" {
		return newFieldError(cacheField("Dir"), "不能为空")
	}
	if cc.TTL.DurationValue() <= 0 {
		return newFieldError(cacheField("TTL"), "必须大于 0")
	}
	if cc.WarmBatchSize <= 0 {
		return newFieldError(cacheField("WarmBatchSize"), "必须大于 0")
	}
	if cc.WarmBatchDelay.DurationValue() < 0 {
		return newFieldError(cacheField("WarmBatchDelay"), "不能为负数")
	}
	if cc.ListingTTL.DurationValue() <= 0 {
		return newFieldError(cacheField("ListingTTL"), "必须大于 0")
	}
	if cc.ListingCacheSize <= 0 {
		return newFieldError(cacheField("ListingCacheSize"), "必须大于 0")
	}

	n := c.Notion
	if err := validateBaseURL(n.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", notionField("BaseURL"), err)
	}
	if strings.TrimSpace(n.Version) == "" {
		return newFieldError(notionField("Version"), "不能为空")
	}
	if n.PageSize <= 0 || n.PageSize > 100 {
		return newFieldError(notionField("PageSize"), "必须在 1-100")
	}
	if n.MaxRetries < 0 {
		return newFieldError(notionField("MaxRetries"), "不能为负数")
	}
	if n.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(notionField("InitialBackoff"), "必须大于 0")
	}
	if n.Timeout.DurationValue() <= 0 {
		return newFieldError(notionField("Timeout"), "必须大于 0")
	}

	return nil
}

// RequireNotion 在需要访问远端 API 的命令前调用，确保凭证已配置。
func (c *Config) RequireNotion() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if !c.Notion.HasToken() {
		return newFieldError(notionField("Token"), "未配置（可通过 NOTION_API_TOKEN 注入）")
	}
	return nil
}

// RequireDatabase 在需要遍历已发布文章的命令前调用。
func (c *Config) RequireDatabase() error {
	if err := c.RequireNotion(); err != nil {
		return err
	}
	if c.Notion.BlogDatabaseID == "" {
		return newFieldError(notionField("BlogDatabaseID"), "未配置（可通过 NOTION_BLOG_DATABASE_ID 注入）")
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少 API 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，地址: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("地址缺少 Host: %s", raw)
	}
	return nil
}

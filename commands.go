package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/content"
	"github.com/notionfolio/notionfolio/internal/logging"
)

func applyColor(disabled bool) {
	if disabled {
		color.NoColor = true
	}
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "显示各命名空间的条目数、体积与过期数量",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts, needCacheOnly)
			if err != nil {
				return err
			}
			stats, err := deps.cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(out, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func printStats(out io.Writer, stats cache.Stats) {
	fmt.Fprintf(out, "Cache dir: %s (ttl %s)\n", color.GreenString(stats.Dir), stats.TTL)
	printNamespace(out, cache.NamespacePages, stats.Pages)
	printNamespace(out, cache.NamespaceBlocks, stats.Blocks)
}

func printNamespace(out io.Writer, ns cache.Namespace, s cache.NamespaceStats) {
	expired := fmt.Sprintf("%d expired", s.Expired)
	if s.Expired > 0 {
		expired = color.YellowString(expired)
	}
	line := fmt.Sprintf("  %-7s %d entries, %s, %s",
		string(ns), s.Entries, humanize.Bytes(uint64(max(s.TotalSize, 0))), expired)
	if s.Entries > 0 {
		line += fmt.Sprintf(", oldest %s, newest %s",
			humanize.Time(s.Oldest()), humanize.Time(s.Newest()))
	}
	fmt.Fprintln(out, line)
}

func newClearCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "删除全部缓存条目（包括索引外的孤儿文件）",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts, needCacheOnly)
			if err != nil {
				return err
			}
			counts, err := deps.cache.ClearAll(cmd.Context())
			printCleared(cmd.OutOrStdout(), "Cleared", counts)
			return err
		},
	}
}

func newClearExpiredCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-expired",
		Short: "删除超过 TTL 的缓存条目",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts, needCacheOnly)
			if err != nil {
				return err
			}
			counts, err := deps.cache.ClearExpired(cmd.Context())
			printCleared(cmd.OutOrStdout(), "Cleared expired", counts)
			return err
		},
	}
}

func printCleared(out io.Writer, verb string, counts cache.NamespaceCounts) {
	fmt.Fprintf(out, "%s %s pages, %s blocks\n", verb,
		humanize.Comma(int64(counts.Pages)), humanize.Comma(int64(counts.Blocks)))
}

func newWarmCommand(opts *globalOptions) *cobra.Command {
	var clearExpired bool
	cmd := &cobra.Command{
		Use:   "warm [id]",
		Short: "预热已发布文章；指定 ID 时只预热该页面",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := needDatabase
			if len(args) == 1 {
				req = needNotion
			}
			deps, err := bootstrap(opts, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				id := args[0]
				if _, err := cache.NormalizeID(id); err != nil {
					return err
				}
				if err := deps.hook.WarmOne(cmd.Context(), id); err != nil {
					return fmt.Errorf("预热 %s 失败: %w", id, err)
				}
				fmt.Fprintf(out, "%s %s\n", color.GreenString("✔"), id)
				return nil
			}

			report := deps.hook.WarmBuild(cmd.Context(), content.BuildOptions{ClearExpired: clearExpired})
			printReport(out, report)
			if report.Error != "" {
				return fmt.Errorf("获取已发布文章失败: %s", report.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearExpired, "clear-expired", false, "预热前先清理过期条目")
	return cmd
}

func printReport(out io.Writer, report content.BuildReport) {
	if report.Skipped != "" {
		fmt.Fprintf(out, "Skipped: %s\n", color.YellowString(report.Skipped))
		return
	}
	if report.Cleared.Total() > 0 {
		printCleared(out, "Cleared expired", report.Cleared)
	}
	w := report.Warm
	fmt.Fprintf(out, "Warmed %d/%d pages in %s\n", w.Succeeded, w.Total, w.Duration.Round(time.Millisecond))
	for _, failure := range w.Failed {
		fmt.Fprintf(out, "  %s %s: %s\n", color.RedString("✘"), failure.ID, failure.Error)
	}
	if w.Skipped > 0 {
		fmt.Fprintf(out, "  %s\n", color.YellowString("%d skipped (cancelled)", w.Skipped))
	}
}

func newCheckConfigCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := logging.InitLoggerTo(cfg.Global, stdErr)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			fields := logging.BaseFields("check_config", path)
			fields["cacheDir"] = cfg.Cache.Dir
			fields["ttl"] = cfg.Cache.TTL.DurationValue().String()
			fields["auth"] = cfg.Notion.AuthMode()
			fields["database"] = cfg.Notion.BlogDatabaseID != ""
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
}

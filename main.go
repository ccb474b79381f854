package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// usageError 标记参数解析类错误，对应退出码 2。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// usageArgs 把位置参数校验失败也归为用法错误。
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runContext(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run 执行一次 CLI 调用并返回退出码，方便测试。
func run(args []string) int {
	return runContext(context.Background(), args)
}

func runContext(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stdErr, "错误: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// globalOptions 汇总所有子命令共享的持久化标志。
type globalOptions struct {
	configPath string
	noColor    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "notionfolio",
		Short:         "Disk cache in front of the Notion API for the blog renderer",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       versionString(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyColor(opts.noColor)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径（默认 ./config.toml，可被 NOTIONFOLIO_CONFIG 覆盖）")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "禁用彩色输出")

	root.AddCommand(
		newStatsCommand(opts),
		newClearCommand(opts),
		newClearExpiredCommand(opts),
		newWarmCommand(opts),
		newCheckConfigCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return root
}

// resolveConfigPath 按 flag > 环境变量 > ./config.toml 的顺序决定配置文件；
// 三者皆无时返回空串，仅使用默认值与环境变量。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("NOTIONFOLIO_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}
	return ""
}

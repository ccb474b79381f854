package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notionfolio/notionfolio/internal/version"
)

func versionString() string {
	return version.Full()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags "-X eventcorr/internal/cli.Version=..." 注入
var Version = "dev"

// NewVersionCommand 创建 version 命令
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the eventcorr version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "eventcorr %s\n", Version)
		},
	}
}

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/avm/common"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avm %s (commit %s, %s)\n", common.Version, common.GetCommitHash(), runtime.Version())
		},
	}
}

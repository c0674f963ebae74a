package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dataanalyst/sandboxpool/pkg/sandbox"
)

var warmCount int

// warmCmd is an operator convenience: the manager already warms
// minWarm sandboxes on Initialize, but an operator may want to push
// more into the ready queue ahead of an expected load spike.
var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Pre-populate the ready queue by acquiring and releasing N sandboxes",
	Run: func(cmd *cobra.Command, args []string) {
		mgr, err := sandbox.Get()
		if err != nil {
			fmt.Printf("Failed to reach the sandbox pool: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		warmed := 0
		for i := 0; i < warmCount; i++ {
			h, err := mgr.Acquire(ctx, "")
			if err != nil {
				fmt.Printf("  - warm %d/%d failed: %v\n", i+1, warmCount, err)
				continue
			}
			h.Release()
			warmed++
		}
		fmt.Printf("Warmed %d/%d sandboxes\n", warmed, warmCount)
	},
}

func init() {
	warmCmd.Flags().IntVar(&warmCount, "count", 1, "Number of sandboxes to warm")
	RootCmd.AddCommand(warmCmd)
}

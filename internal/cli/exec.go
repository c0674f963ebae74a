package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dataanalyst/sandboxpool/pkg/sandbox"
)

var execCmd = &cobra.Command{
	Use:   "exec <sandbox-id> -- <cmd>",
	Short: "Run one command against a tracked sandbox and print its output",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		command := strings.Join(args[1:], " ")

		mgr, err := sandbox.Get()
		if err != nil {
			fmt.Printf("Failed to reach the sandbox pool: %v\n", err)
			os.Exit(1)
		}

		sandboxes := mgr.ListSandboxes()
		var ref string
		for _, sb := range sandboxes {
			if sb.ID == id {
				ref = sb.ContainerRef
				break
			}
		}
		if ref == "" {
			fmt.Printf("No tracked sandbox with id %q\n", id)
			os.Exit(1)
		}

		result, err := mgr.Driver().ExecInContainer(context.Background(), ref, command, 0)
		if err != nil {
			fmt.Printf("Exec failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		fmt.Printf("exit code: %d\n", result.ExitCode)
	},
}

func init() {
	execCmd.Flags().SetInterspersed(false)
	RootCmd.AddCommand(execCmd)
}

// Command sandboxpoolctl is the operator CLI for a running
// sandboxpool-server: inspect stats, tail the event feed, pre-warm the
// ready queue, or run one command against a tracked sandbox.
package main

import "github.com/dataanalyst/sandboxpool/internal/cli"

func main() {
	cli.Execute()
}

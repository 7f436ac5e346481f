// Command agentbridge runs ACP coding agents inside a notes directory.
package main

import (
	"fmt"
	"os"

	"github.com/thoughttree/agentbridge/cmd/agentbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package agentbridge_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/thoughttree/agentbridge"
)

func ExampleResolveOptions() {
	opts := agentbridge.ResolveOptions(
		agentbridge.WithModel("claude-sonnet-4-5"),
		agentbridge.WithTimeout(30*time.Second),
	)
	fmt.Println(opts.Model)
	fmt.Println(opts.Timeout)
	// Output:
	// claude-sonnet-4-5
	// 30s
}

func ExampleFailedPhase() {
	err := &agentbridge.PhaseError{
		Phase: agentbridge.PhasePrompting,
		Err:   errors.New("rpc error -32603: internal"),
	}
	phase, _ := agentbridge.FailedPhase(err)
	fmt.Println(phase)
	// Output: prompting
}

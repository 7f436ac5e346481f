package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/bridge"
)

var (
	runProvider string
	runModel    string
	runNodeID   string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send one prompt to an agent and stream the answer",
	Long: `Send a prompt to the configured agent and print what it streams.

The message comes from the arguments, or from stdin when none are given.
Permission questions are asked on the terminal when the message was given
as arguments; otherwise they are cancelled.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runProvider, "provider", "p", "", "Provider tag (defaults to session.default_provider)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to select (defaults to the stored model)")
	runCmd.Flags().StringVar(&runNodeID, "node", "cli", "Node id echoed in streamed chunks")
}

func runRun(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	var questions io.Reader = cmd.InOrStdin()
	if message == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		message = string(data)
		questions = nil
	}

	term := newTerminal(cmd.OutOrStdout(), questions)
	a, err := newApp(cfg, log, term)
	if err != nil {
		return err
	}
	term.respond = a.bridge

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reason, err := a.bridge.RunSession(ctx, bridge.SessionRequest{
		NodeID:   runNodeID,
		Turns:    []agentbridge.Turn{{Role: "user", Content: message}},
		Provider: runProvider,
		Model:    runModel,
	})
	term.finish()
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "stop reason: %s\n", reason)
	return nil
}

// describe adds a next step to configuration errors.
func describe(err error) error {
	if bridge.IsConfigurationError(err) {
		return fmt.Errorf("%w\nsee 'agentbridge config --help'", err)
	}
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

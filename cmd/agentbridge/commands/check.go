package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/provider"
)

var checkCmd = &cobra.Command{
	Use:   "check [provider...]",
	Short: "Check that provider executables are installed",
	Long: `Resolve and validate each provider's executable. With no arguments every
known provider is checked. Exits non-zero if any requested provider is
unavailable.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, log, agentbridge.Discard)
	if err != nil {
		return err
	}
	tags := args
	if len(tags) == 0 {
		tags = a.bridge.Providers()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	failed := 0
	for _, tag := range tags {
		c, err := a.bridge.CheckAvailable(commandContext(cmd), tag)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\tunavailable\t%s\n", tag, checkDetail(err))
			continue
		}
		fmt.Fprintf(w, "%s\tok\t%s\n", tag, c.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 && len(args) > 0 {
		return fmt.Errorf("%d of %d providers unavailable", failed, len(tags))
	}
	return nil
}

func checkDetail(err error) string {
	var resErr *provider.ResolutionError
	if errors.As(err, &resErr) && resErr.Hint != "" {
		return fmt.Sprintf("%v; %s", err, resErr.Hint)
	}
	return err.Error()
}

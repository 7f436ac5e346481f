package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/bridge"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change user settings",
	Long: `Show or change the user settings stored in settings.path.

Keys:
  notes_directory          absolute path the agent works in
  provider_paths.<tag>     executable override for a provider
  models.<tag>             preferred model for a provider`,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Validate and store a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, log, agentbridge.Discard)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		v, ok := a.store.Get(args[0])
		if !ok {
			return fmt.Errorf("%s is not set", args[0])
		}
		fmt.Fprintln(out, v)
		return nil
	}
	for _, key := range a.store.Keys() {
		v, _ := a.store.Get(key)
		fmt.Fprintf(out, "%s = %v\n", key, v)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, log, agentbridge.Discard)
	if err != nil {
		return err
	}
	key, value := args[0], args[1]
	if err := setSetting(cmd, a.bridge, key, value); err != nil {
		return describe(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s saved to %s\n", key, a.store.Path())
	return nil
}

func setSetting(cmd *cobra.Command, b *bridge.Bridge, key, value string) error {
	switch {
	case key == bridge.KeyNotesDirectory:
		return b.SetNotesDirectory(value)
	case strings.HasPrefix(key, "provider_paths."):
		return b.SetProviderPath(commandContext(cmd), strings.TrimPrefix(key, "provider_paths."), value)
	case strings.HasPrefix(key, "models."):
		return b.SetModel(strings.TrimPrefix(key, "models."), value)
	default:
		return fmt.Errorf("%w: unknown setting %q", agentbridge.ErrNotConfigured, key)
	}
}

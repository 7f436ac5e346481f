package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and policy files",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The root command already loaded and validated cfg.
		if _, err := loadClassifier(cfg.Policy); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "configuration ok")
		fmt.Fprintf(out, "  settings: %s\n", cfg.Settings.Path)
		if cfg.Policy.File != "" {
			fmt.Fprintf(out, "  policy:   %s\n", cfg.Policy.File)
		} else {
			fmt.Fprintln(out, "  policy:   built-in rules")
		}
		return nil
	},
}

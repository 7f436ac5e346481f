// Package commands provides the agentbridge CLI commands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoughttree/agentbridge/internal/config"
	"github.com/thoughttree/agentbridge/internal/logger"
)

// Version is set at build time.
var Version = "0.1.0"

// Global flags
var (
	configPath string
	logLevel   string
)

// Loaded by the root command before any subcommand runs.
var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "Run ACP coding agents against a notes directory",
	Long: `agentbridge spawns an ACP coding agent (Claude Code, Gemini CLI, ...),
confines it to a notes directory, and streams its output.

Run 'agentbridge run' for a one-shot prompt in the terminal, or
'agentbridge serve' to expose the bridge over HTTP and websocket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to agentbridge.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug|info|warn|error)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentbridge %s\n", Version))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(validateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	l, err := logger.New(c.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	cfg, log = c, l
	return nil
}

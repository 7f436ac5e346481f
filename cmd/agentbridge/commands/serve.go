package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bridge over HTTP and websocket",
	Long: `Start the HTTP API. UIs connect to /api/v1/events for streamed chunks
and permission requests, and start sessions with POST /api/v1/sessions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	hub := server.NewHub(nil, log)
	a, err := newApp(cfg, log, hub)
	if err != nil {
		return err
	}
	hub.SetResponder(a.bridge)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting agentbridge server",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("settings", a.store.Path()),
	)
	return server.New(cfg.Server, a.bridge, hub, log).Run(ctx)
}

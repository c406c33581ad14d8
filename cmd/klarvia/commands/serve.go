package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/internal/server"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Long: `Serve /health, /chat and /predict.

The reply strategy is resolved on the first chat request unless --eager
is set, in which case it is resolved before the listener opens.

Examples:
  klarvia serve --addr 0.0.0.0:8001
  klarvia serve --eager --cors-origin https://app.example.com`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", server.DefaultAddr, "listen address")
	flags.Bool("eager", false, "resolve the reply strategy before serving")
	flags.StringSlice("cors-origin", nil, "allowed CORS origin (can be repeated; default local dev origins)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr, _ := cmd.Flags().GetString("addr")
	eager, _ := cmd.Flags().GetBool("eager")
	origins, _ := cmd.Flags().GetStringSlice("cors-origin")

	stats := server.NewStats()
	svc := reply.NewService(newResolver(),
		reply.WithObserver(reply.NewMultiObserver(reply.LogObserver(), stats)),
	)
	if eager {
		st := svc.Warm(ctx)
		logger.Info("reply strategy ready", "strategy", st.Kind().String(), "backend", st.Backend())
	}

	srv := server.New(svc, server.Options{Addr: addr, AllowedOrigins: origins, Stats: stats})
	if err := srv.ListenAndServe(ctx); err != nil {
		logError("%v", err)
		return err
	}
	return nil
}

// commandContext returns cmd's context, or Background when run outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

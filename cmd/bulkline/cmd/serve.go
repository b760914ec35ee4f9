/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ssargent/bulkline/pkg/config"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP ingestion API",
	Long: `Start the HTTP API. Clients open a connection, post chunks to it and
close it; bulks go to the sinks named in the config.

Routes (under /api/v1, X-API-Key required when api_key is set):
  POST   /connections                   open, body {"bulk_size": n}
  POST   /connections/{handle}/chunks   feed the raw body as one chunk
  DELETE /connections/{handle}          flush and close
  GET    /batches, /batches/{id}        archived bulks
  GET    /health, /stats

Examples:
  bulkline serve
  bulkline serve --port 9000 --bind 0.0.0.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind") {
			cfg.Bind, _ = cmd.Flags().GetString("bind")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// serve runs the API until ctx is cancelled, then flushes open connections
func serve(ctx context.Context, cfg *config.Config) (err error) {
	container, err := newContainer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if cerr := container.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if cfg.APIKey == "" {
		container.Logger.Warn("api_key_missing", zap.String("hint", "run bulkline init to generate one"))
	}

	return container.Server().ListenAndServe(ctx, container.Prometheus)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind")
}

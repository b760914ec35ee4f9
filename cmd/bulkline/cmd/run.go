/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/ssargent/bulkline/pkg/config"
	"github.com/ssargent/bulkline/pkg/di"
	"go.uber.org/zap"
)

const defaultChunkSize = 4096

// drainTimeout bounds how long shutdown waits for sinks
const drainTimeout = 30 * time.Second

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Batch records read from stdin",
	Long: `Read stdin in chunks, split it into newline-terminated records and emit a
bulk every --bulk records. A trailing unterminated record and a partial bulk
are flushed when stdin ends.

Examples:
  seq 10 | bulkline run --bulk 3
  tail -f app.log | bulkline run --bulk 100 --config ./bulkline.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bulk, _ := cmd.Flags().GetInt("bulk")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		if bulk > 0 {
			cfg.BulkSize = bulk
		}
		return runIngest(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), chunkSize)
	},
}

// runIngest feeds in through one connection until EOF, then closes it and
// drains every sink.
func runIngest(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, chunkSize int) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}

	container, err := newContainer(cfg, di.WithStdout(out))
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

	h, err := container.Registry.Open(cfg.BulkSize)
	if err != nil {
		return err
	}
	defer container.Registry.Close(h)

	var total int64
	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			break
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			container.Registry.Feed(h, buf[:n])
			total += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read input: %w", rerr)
		}
	}

	container.Logger.Info("input_drained", zap.Stringer("conn", h), zap.Int64("bytes", total))
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("bulk", "b", 0, "Records per bulk (defaults to bulk_size from the config)")
	runCmd.Flags().Int("chunk-size", defaultChunkSize, "Bytes read from stdin per chunk")
}

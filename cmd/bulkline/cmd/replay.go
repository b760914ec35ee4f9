/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/ssargent/bulkline/pkg/store"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print the bulks stored in a journal",
	Long: `Read a journal written by the journal sink and print its bulks in the
order they were written. A torn final entry is reported and skipped.

Examples:
  bulkline replay --journal ./data/journal.log
  bulkline replay --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("journal")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if path == "" {
			path = cfg.Sinks.JournalPath
		}
		if path == "" {
			return errors.New("no journal: pass --journal or set sinks.journal_path")
		}
		return replayJournal(path, cmd.OutOrStdout(), verbose)
	},
}

// replayJournal prints every batch of the journal at path to out
func replayJournal(path string, out io.Writer, verbose bool) error {
	reader, err := store.NewLogReader(store.LogReaderConfig{FilePath: path})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer reader.Close()

	batches, err := reader.Batches()
	for _, b := range batches {
		if verbose {
			fmt.Fprintf(out, "%s %s %d\n", b.ID, b.Start().UTC().Format(time.RFC3339), b.Len())
		}
		fmt.Fprintln(out, b.String())
	}

	if errors.Is(err, store.ErrCorruption) {
		fmt.Fprintf(out, "warning: journal ends in a damaged entry at offset %d\n", reader.Offset())
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringP("journal", "j", "", "Journal file (defaults to sinks.journal_path)")
	replayCmd.Flags().BoolP("verbose", "v", false, "Print batch id, start time and size before each bulk")
}

package sink

import (
	"context"
	"time"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/storage"
	"github.com/ssargent/bulkline/pkg/store"
)

// Sink names of the persistent sinks
const (
	JournalName = "journal"
	ArchiveName = "archive"
)

// Journal appends batches to an append-only journal file
type Journal struct {
	writer *store.LogWriter
}

// NewJournal opens the journal at path
func NewJournal(path string, fsyncInterval time.Duration) (*Journal, error) {
	w, err := store.NewLogWriter(store.LogWriterConfig{
		FilePath:      path,
		FsyncInterval: fsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	return &Journal{writer: w}, nil
}

// Name implements Sink
func (j *Journal) Name() string { return JournalName }

// Write implements Sink
func (j *Journal) Write(_ context.Context, b batch.Batch) error {
	_, err := j.writer.Append(b)
	return err
}

// Close implements Sink
func (j *Journal) Close() error { return j.writer.Close() }

// Archive stores batches in a Pebble archive
type Archive struct {
	archive *storage.Archive
}

// NewArchive wraps an open archive. Closing the sink closes the archive.
func NewArchive(a *storage.Archive) *Archive {
	return &Archive{archive: a}
}

// Name implements Sink
func (a *Archive) Name() string { return ArchiveName }

// Write implements Sink
func (a *Archive) Write(_ context.Context, b batch.Batch) error {
	return a.archive.Put(b)
}

// Close implements Sink
func (a *Archive) Close() error { return a.archive.Close() }

package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ssargent/bulkline/pkg/batch"
)

// FilesName is the lane and sink name of the per-batch file sink
const FilesName = "files"

// Files writes every batch to its own file named after the capture time of
// the first record, one record per line.
type Files struct {
	dir string
}

// NewFiles creates the target directory if needed
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create bulk dir: %w", err)
	}
	return &Files{dir: dir}, nil
}

// FileName returns the name a batch is written under. The KSUID suffix keeps
// batches started within the same second apart.
func FileName(b batch.Batch) string {
	return fmt.Sprintf("bulk%d_%s.log", b.Start().Unix(), b.ID)
}

// Name implements Sink
func (f *Files) Name() string { return FilesName }

// Write implements Sink
func (f *Files) Write(ctx context.Context, b batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(f.dir, FileName(b))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create bulk file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, r := range b.Records {
		w.Write(r.Data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("write bulk file: %w", err)
	}
	return file.Close()
}

// Close implements Sink
func (f *Files) Close() error { return nil }

package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/codec"
)

// LogWriter appends batches to the journal file, one entry per record
type LogWriter struct {
	file       *os.File
	writer     *bufio.Writer
	codec      *codec.EntryCodec
	fsyncTimer *time.Timer
	config     LogWriterConfig
	mutex      sync.Mutex
	offset     int64 // Current write offset
}

// NewLogWriter opens (or creates) the journal for appending
func NewLogWriter(config LogWriterConfig) (*LogWriter, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	writer := &LogWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, config.BufferSize),
		codec:  codec.NewEntryCodec(),
		config: config,
		offset: offset,
	}

	if config.FsyncInterval > 0 {
		writer.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			writer.mutex.Lock()
			defer writer.mutex.Unlock()
			_ = writer.sync()
		})
	}

	return writer, nil
}

// Append writes every record of b and returns the offset of its first entry.
// An empty batch writes nothing.
func (w *LogWriter) Append(b batch.Batch) (int64, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	// Encode the whole batch first so a bad record leaves no partial batch.
	encoded := make([][]byte, 0, len(b.Records))
	for i, rec := range b.Records {
		entry, err := codec.NewEntry(b.ID, i, rec.Time, rec.Data)
		if err != nil {
			return 0, fmt.Errorf("encode record %d of batch %s: %w", i, b.ID, err)
		}
		data, err := w.codec.Encode(entry)
		if err != nil {
			return 0, err
		}
		encoded = append(encoded, data)
	}

	start := w.offset
	for _, data := range encoded {
		n, err := w.writer.Write(data)
		w.offset += int64(n)
		if err != nil {
			return 0, err
		}
	}

	if w.config.FsyncInterval == 0 {
		if err := w.sync(); err != nil {
			return 0, err
		}
	} else if w.fsyncTimer != nil {
		w.fsyncTimer.Reset(w.config.FsyncInterval)
	}

	return start, nil
}

// Sync forces a fsync to disk
func (w *LogWriter) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.sync()
}

func (w *LogWriter) sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close syncs and closes the journal
func (w *LogWriter) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.fsyncTimer != nil {
		w.fsyncTimer.Stop()
	}

	if err := w.sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// Size returns the current size of the journal
func (w *LogWriter) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// Path returns the file path
func (w *LogWriter) Path() string {
	return w.config.FilePath
}

package store

import (
	"errors"
	"time"
)

// LogWriterConfig holds configuration for the journal writer
type LogWriterConfig struct {
	FilePath      string        // Path to the journal file
	FsyncInterval time.Duration // How often to fsync (0 = every append)
	BufferSize    int           // Write buffer size
}

// LogReaderConfig holds configuration for the journal reader
type LogReaderConfig struct {
	FilePath    string // Path to the journal file
	StartOffset int64  // Offset to start reading from
}

// ErrCorruption is returned when the journal ends in a torn or damaged entry.
var ErrCorruption = errors.New("journal corruption detected")

const defaultBufferSize = 64 * 1024

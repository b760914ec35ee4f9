package store

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/codec"
)

// LogReader provides sequential access to journal entries
type LogReader struct {
	file   *os.File
	reader *bufio.Reader
	codec  *codec.EntryCodec
	offset int64
	size   int64 // file size last seen by Stat
}

// NewLogReader opens the journal for reading
func NewLogReader(config LogReaderConfig) (*LogReader, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, err
	}

	if config.StartOffset > 0 {
		if _, err := file.Seek(config.StartOffset, io.SeekStart); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	return &LogReader{
		file:   file,
		reader: bufio.NewReader(file),
		codec:  codec.NewEntryCodec(),
		offset: config.StartOffset,
	}, nil
}

// ReadNext reads the entry at the current offset. It returns io.EOF at a
// clean end of journal and ErrCorruption for a torn or damaged entry.
func (r *LogReader) ReadNext() (*codec.Entry, error) {
	header := make([]byte, codec.HeaderSize)
	n, err := io.ReadFull(r.reader, header)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrCorruption
		}
		return nil, err
	}

	entry, err := r.codec.DecodeHeader(header)
	if err != nil {
		return nil, ErrCorruption
	}
	// A damaged length field must not size the allocation below.
	fits, err := r.fits(int64(n) + int64(entry.DataSize))
	if err != nil {
		return nil, err
	}
	if !fits {
		return nil, ErrCorruption
	}

	full := make([]byte, codec.HeaderSize+int(entry.DataSize))
	copy(full, header)
	m, err := io.ReadFull(r.reader, full[codec.HeaderSize:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrCorruption
		}
		return nil, err
	}

	entry, err = r.codec.Decode(full)
	if err != nil {
		return nil, ErrCorruption
	}
	r.offset += int64(n + m)
	return entry, nil
}

// fits reports whether n bytes starting at the current offset lie within the
// file, refreshing the known size when they appear not to.
func (r *LogReader) fits(n int64) (bool, error) {
	if r.offset+n <= r.size {
		return true, nil
	}
	info, err := r.file.Stat()
	if err != nil {
		return false, err
	}
	r.size = info.Size()
	return r.offset+n <= r.size, nil
}

// Batches regroups the remaining entries into batches in journal order.
// Entries are grouped by consecutive BatchID runs.
func (r *LogReader) Batches() ([]batch.Batch, error) {
	var out []batch.Batch
	for {
		entry, err := r.ReadNext()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		rec := batch.Record{Data: entry.Data, Time: entry.Time()}
		if n := len(out); n > 0 && out[n-1].ID == entry.BatchID {
			out[n-1].Records = append(out[n-1].Records, rec)
			continue
		}
		out = append(out, batch.Batch{
			ID:      entry.BatchID,
			Records: []batch.Record{rec},
		})
	}
}

// Offset returns the current read offset
func (r *LogReader) Offset() int64 {
	return r.offset
}

// Close closes the log reader
func (r *LogReader) Close() error {
	return r.file.Close()
}

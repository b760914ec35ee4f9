package store

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ssargent/bulkline/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, dir string, batches ...[]string) string {
	t.Helper()
	path := filepath.Join(dir, "journal.log")
	writer, err := NewLogWriter(LogWriterConfig{FilePath: path})
	require.NoError(t, err)
	for _, lines := range batches {
		_, err := writer.Append(newBatch(lines...))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return path
}

func TestNewLogReader_NonExistentFile(t *testing.T) {
	reader, err := NewLogReader(LogReaderConfig{FilePath: "/nonexistent/journal.log"})
	assert.Error(t, err)
	assert.Nil(t, reader)
}

func TestLogReader_ReadNext(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_read_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"a", ""})

	reader, err := NewLogReader(LogReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	first, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Data))
	assert.Equal(t, uint32(0), first.Seq)
	assert.Equal(t, int64(codec.HeaderSize+1), reader.Offset())

	second, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Empty(t, second.Data)
	assert.Equal(t, uint32(1), second.Seq)
	assert.Equal(t, first.BatchID, second.BatchID)

	_, err = reader.ReadNext()
	assert.Equal(t, io.EOF, err)
}

func TestLogReader_StartOffset(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_offset_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"skip"}, []string{"keep"})

	reader, err := NewLogReader(LogReaderConfig{FilePath: path, StartOffset: codec.HeaderSize + 4})
	require.NoError(t, err)
	defer reader.Close()

	entry, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, "keep", string(entry.Data))
}

func TestLogReader_Batches(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_batches_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"a", "b"}, []string{"c"})

	reader, err := NewLogReader(LogReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	batches, err := reader.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "bulk: a, b", batches[0].String())
	assert.Equal(t, "bulk: c", batches[1].String())
	assert.Equal(t, int64(1700000000), batches[0].Start().Unix())
}

func TestLogReader_TornTail(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_torn_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"whole"}, []string{"torn-entry"})
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	reader, err := NewLogReader(LogReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	batches, err := reader.Batches()
	assert.ErrorIs(t, err, ErrCorruption)
	require.Len(t, batches, 1)
	assert.Equal(t, "bulk: whole", batches[0].String())
}

func TestLogReader_DamagedEntry(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_damaged_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"payload"})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	reader, err := NewLogReader(LogReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestLogReader_DamagedLengthBeyondFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_length_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := writeJournal(t, tmpDir, []string{"first"}, []string{"second"})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	second := codec.HeaderSize + len("first")
	binary.LittleEndian.PutUint32(data[second+4:], math.MaxUint32)
	require.NoError(t, os.WriteFile(path, data, 0600))

	reader, err := NewLogReader(LogReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	entry, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, "first", string(entry.Data))

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, ErrCorruption)
	assert.Equal(t, int64(second), reader.Offset())
}

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/segmentio/ksuid"
)

// BatchIDSize is the size of a raw KSUID
const BatchIDSize = 20

// HeaderSize is the fixed size of an encoded entry header
const HeaderSize = 4 + 4 + 4 + 8 + BatchIDSize

var (
	// ErrShortEntry is returned when the input cannot hold a complete entry.
	ErrShortEntry = errors.New("codec: entry too short")

	// ErrChecksum is returned when an entry's CRC32 does not match its contents.
	ErrChecksum = errors.New("codec: checksum mismatch")

	// ErrEntryTooLarge is returned for a record whose size does not fit the
	// 32-bit length field.
	ErrEntryTooLarge = errors.New("codec: record too large")
)

// maxDataSize is the largest record the length field can describe
var maxDataSize uint64 = math.MaxUint32

// Entry is one journaled record
type Entry struct {
	CRC32     uint32      // CRC32 checksum for integrity
	DataSize  uint32      // Size of the record data in bytes
	Seq       uint32      // Position of the record within its batch
	Timestamp int64       // Capture time, Unix seconds
	BatchID   ksuid.KSUID // Batch the record belongs to
	Data      []byte      // Record data
}

// NewEntry creates an entry for the record at position seq of a batch
func NewEntry(batchID ksuid.KSUID, seq int, ts time.Time, data []byte) (*Entry, error) {
	if err := checkDataSize(len(data)); err != nil {
		return nil, err
	}
	return &Entry{
		DataSize:  uint32(len(data)),
		Seq:       uint32(seq),
		Timestamp: ts.Unix(),
		BatchID:   batchID,
		Data:      data,
	}, nil
}

func checkDataSize(n int) error {
	if uint64(n) > maxDataSize {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, n)
	}
	return nil
}

// Time returns the capture time of the entry
func (e *Entry) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// Size returns the total size of the entry when encoded
func (e *Entry) Size() int {
	return HeaderSize + len(e.Data)
}

// Validate checks the integrity of an entry using CRC32
func (e *Entry) Validate() error {
	if sum := e.checksum(); e.CRC32 != sum {
		return fmt.Errorf("%w: %d != %d", ErrChecksum, e.CRC32, sum)
	}
	return nil
}

func (e *Entry) checksum() uint32 {
	var hdr [HeaderSize - 4]byte
	e.putHeader(hdr[:])
	crc := crc32.NewIEEE()
	crc.Write(hdr[:])
	crc.Write(e.Data)
	return crc.Sum32()
}

// putHeader writes every header field after the CRC into buf
func (e *Entry) putHeader(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], e.DataSize)
	binary.LittleEndian.PutUint32(buf[4:], e.Seq)
	binary.LittleEndian.PutUint64(buf[8:], uint64(e.Timestamp))
	copy(buf[16:], e.BatchID[:])
}

// EntryCodec handles serialization and deserialization of entries
type EntryCodec struct{}

// NewEntryCodec creates a new entry codec instance
func NewEntryCodec() *EntryCodec {
	return &EntryCodec{}
}

// Encode serializes an entry, computing its checksum
func (c *EntryCodec) Encode(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, errors.New("codec: nil entry")
	}
	if err := checkDataSize(len(e.Data)); err != nil {
		return nil, err
	}
	e.DataSize = uint32(len(e.Data))
	e.CRC32 = e.checksum()

	buf := make([]byte, e.Size())
	binary.LittleEndian.PutUint32(buf[0:], e.CRC32)
	e.putHeader(buf[4:])
	copy(buf[HeaderSize:], e.Data)
	return buf, nil
}

// DecodeHeader parses the fixed header. The returned entry has no Data;
// DataSize tells the caller how many bytes follow.
func (c *EntryCodec) DecodeHeader(hdr []byte) (*Entry, error) {
	if len(hdr) < HeaderSize {
		return nil, fmt.Errorf("%w: header has %d bytes", ErrShortEntry, len(hdr))
	}
	e := &Entry{
		CRC32:     binary.LittleEndian.Uint32(hdr[0:]),
		DataSize:  binary.LittleEndian.Uint32(hdr[4:]),
		Seq:       binary.LittleEndian.Uint32(hdr[8:]),
		Timestamp: int64(binary.LittleEndian.Uint64(hdr[12:])),
	}
	copy(e.BatchID[:], hdr[20:HeaderSize])
	return e, nil
}

// Decode deserializes and validates one entry from the front of data.
// Data aliases the input slice.
func (c *EntryCodec) Decode(data []byte) (*Entry, error) {
	e, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(e.DataSize)
	if len(data) < end {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortEntry, len(data), end)
	}
	e.Data = data[HeaderSize:end]
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeAll decodes a concatenation of entries
func (c *EntryCodec) DecodeAll(data []byte) ([]*Entry, error) {
	var out []*Entry
	for len(data) > 0 {
		e, err := c.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		data = data[e.Size():]
	}
	return out, nil
}

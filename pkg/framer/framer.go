// Package framer splits a chunked byte stream into newline-delimited records.
package framer

import "bytes"

// Delimiter terminates every record.
const Delimiter = '\n'

// Framer holds the carry buffer of one stream. It is not safe for concurrent
// use; the owning connection serializes access.
type Framer struct {
	carry []byte
}

// New creates a framer with an empty carry buffer
func New() *Framer {
	return &Framer{}
}

// Frame appends chunk to the carry buffer and calls emit once for every
// complete record, in stream order. The slice passed to emit aliases the
// carry buffer and is only valid for the duration of the call.
//
// Empty records are emitted as zero-length slices. No record size limit is
// applied: a record that never sees a delimiter grows the buffer unbounded.
func (f *Framer) Frame(chunk []byte, emit func(record []byte)) {
	if len(chunk) == 0 {
		return
	}
	f.carry = append(f.carry, chunk...)

	pos := 0
	for {
		nl := bytes.IndexByte(f.carry[pos:], Delimiter)
		if nl < 0 {
			break
		}
		emit(f.carry[pos : pos+nl])
		pos += nl + 1
	}

	if pos > 0 {
		// Shift the unresolved suffix to the front so the backing array is reused.
		n := copy(f.carry, f.carry[pos:])
		f.carry = f.carry[:n]
	}
}

// Pending reports the number of unresolved bytes in the carry buffer
func (f *Framer) Pending() int {
	return len(f.carry)
}

// Drain returns the unresolved suffix and clears the carry buffer. It returns
// nil when nothing is pending. The returned slice is owned by the caller.
func (f *Framer) Drain() []byte {
	if len(f.carry) == 0 {
		return nil
	}
	rest := f.carry
	f.carry = nil
	return rest
}

// Split is the pure form of Frame: it returns the complete records found in
// carry+chunk and the new carry buffer. Records are copies.
func Split(carry, chunk []byte) (records [][]byte, rest []byte) {
	f := &Framer{carry: append([]byte(nil), carry...)}
	f.Frame(chunk, func(record []byte) {
		records = append(records, append([]byte{}, record...))
	})
	return records, f.carry
}

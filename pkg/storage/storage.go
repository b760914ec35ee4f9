// Package storage archives emitted batches in Pebble, keyed by batch KSUID.
package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/codec"
)

// ErrNotFound is returned when no batch is archived under an id.
var ErrNotFound = errors.New("batch not found")

var keyPrefix = []byte("batch/")

// Archive stores whole batches. KSUIDs sort by time, so iteration order is
// roughly emission order.
type Archive struct {
	db    *pebble.DB
	codec *codec.EntryCodec
}

// NewArchive opens (or creates) an archive at path
func NewArchive(path string) (*Archive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{db: db, codec: codec.NewEntryCodec()}, nil
}

func batchKey(id ksuid.KSUID) []byte {
	return append(append([]byte{}, keyPrefix...), id.Bytes()...)
}

// Put stores b, replacing any batch with the same id
func (a *Archive) Put(b batch.Batch) error {
	var value []byte
	for i, rec := range b.Records {
		entry, err := codec.NewEntry(b.ID, i, rec.Time, rec.Data)
		if err != nil {
			return fmt.Errorf("encode record %d of batch %s: %w", i, b.ID, err)
		}
		data, err := a.codec.Encode(entry)
		if err != nil {
			return err
		}
		value = append(value, data...)
	}
	return a.db.Set(batchKey(b.ID), value, pebble.NoSync)
}

// Get loads the batch stored under id
func (a *Archive) Get(id ksuid.KSUID) (batch.Batch, error) {
	data, closer, err := a.db.Get(batchKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return batch.Batch{}, ErrNotFound
	}
	if err != nil {
		return batch.Batch{}, err
	}
	defer closer.Close()

	return a.decode(id, data)
}

// List returns up to limit archived batches in key order. A limit of zero or
// less returns everything.
func (a *Archive) List(limit int) ([]batch.Batch, error) {
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: []byte("batch0"), // '0' follows '/'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []batch.Batch
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := ksuid.FromBytes(iter.Key()[len(keyPrefix):])
		if err != nil {
			return nil, err
		}
		b, err := a.decode(id, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// decode copies entries out of pebble-owned memory
func (a *Archive) decode(id ksuid.KSUID, data []byte) (batch.Batch, error) {
	entries, err := a.codec.DecodeAll(data)
	if err != nil {
		return batch.Batch{}, fmt.Errorf("decode batch %s: %w", id, err)
	}
	b := batch.Batch{ID: id, Records: make([]batch.Record, 0, len(entries))}
	for _, e := range entries {
		b.Records = append(b.Records, batch.Record{
			Data: append([]byte{}, e.Data...),
			Time: e.Time(),
		})
	}
	return b, nil
}

// Flush persists buffered writes
func (a *Archive) Flush() error {
	return a.db.Flush()
}

// Close closes the underlying database
func (a *Archive) Close() error {
	return a.db.Close()
}

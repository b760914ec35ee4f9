// Package codec provides the binary entry format of the bulkline journal.
//
// Every record of an emitted batch becomes one entry. Entries of the same
// batch share a BatchID and carry their position within the batch in Seq,
// so a journal can be regrouped into batches when it is replayed.
//
// # Entry Format
//
//	[CRC32(4)][DataSize(4)][Seq(4)][Timestamp(8)][BatchID(20)][Data]
//
// Fields (little-endian):
//   - CRC32: IEEE checksum over every byte that follows it
//   - DataSize: length of Data in bytes
//   - Seq: zero-based position of the record in its batch
//   - Timestamp: capture time of the record, Unix seconds
//   - BatchID: raw KSUID bytes of the batch
//   - Data: the record bytes, delimiter excluded
//
// The total entry size is HeaderSize (40 bytes) + len(Data).
//
// # Usage
//
//	c := codec.NewEntryCodec()
//	entry, err := codec.NewEntry(batchID, 0, time.Now(), []byte("cmd1"))
//	if err != nil {
//	    return err // ErrEntryTooLarge
//	}
//	encoded, err := c.Encode(entry)
//	if err != nil {
//	    return err
//	}
//	entry, err := c.Decode(encoded)
//	if err != nil {
//	    return err // short or corrupted entry
//	}
//
// EntryCodec holds no state and is safe for concurrent use.
package codec

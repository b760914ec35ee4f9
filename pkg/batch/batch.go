// Package batch groups forwarded records into fixed-size bulks and hands
// every completed bulk to its subscribers.
package batch

import (
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Record is one forwarded record with the time it was captured
type Record struct {
	Data []byte
	Time time.Time
}

// Batch is an emitted bulk of records
type Batch struct {
	ID      ksuid.KSUID
	Conn    string // Identifier of the connection that produced the batch
	Seq     uint64 // Position of the batch within its connection, starting at 1
	Records []Record
}

// Start returns the capture time of the first record
func (b Batch) Start() time.Time {
	if len(b.Records) == 0 {
		return time.Time{}
	}
	return b.Records[0].Time
}

// Len returns the number of records in the batch
func (b Batch) Len() int {
	return len(b.Records)
}

// String renders the batch the way the console sink prints it
func (b Batch) String() string {
	var sb strings.Builder
	sb.WriteString("bulk: ")
	for i, r := range b.Records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.Write(r.Data)
	}
	return sb.String()
}

// Subscriber receives emitted batches. Update is called synchronously from
// Feed or Finish and must not block for long.
type Subscriber interface {
	Update(b Batch)
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(b Batch)

// Update calls f(b)
func (f SubscriberFunc) Update(b Batch) { f(b) }

// Option configures a Batcher
type Option func(*Batcher)

// WithLogger sets the logger used for emission events
func WithLogger(logger *zap.Logger) Option {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConn tags every batch with the producing connection's identifier
func WithConn(conn string) Option {
	return func(b *Batcher) { b.conn = conn }
}

// Batcher accumulates records until bulkSize is reached. It is not safe for
// concurrent use; its owner must serialize calls.
type Batcher struct {
	bulkSize    int
	conn        string
	pending     []Record
	subscribers []Subscriber
	seq         uint64
	finished    bool
	logger      *zap.Logger
}

// New creates a batcher emitting a batch every bulkSize records. A bulkSize
// below 1 is treated as 1.
func New(bulkSize int, opts ...Option) *Batcher {
	if bulkSize < 1 {
		bulkSize = 1
	}
	b := &Batcher{
		bulkSize: bulkSize,
		pending:  make([]Record, 0, bulkSize),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BulkSize returns the configured bulk size
func (b *Batcher) BulkSize() int {
	return b.bulkSize
}

// Subscribe attaches a consumer of emitted batches
func (b *Batcher) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	b.subscribers = append(b.subscribers, s)
}

// Feed accepts one record. The data is copied, so callers may reuse it.
// Reaching the bulk size emits a batch before Feed returns.
func (b *Batcher) Feed(data []byte, ts time.Time) {
	if b.finished {
		return
	}
	b.pending = append(b.pending, Record{
		Data: append([]byte{}, data...),
		Time: ts,
	})
	if len(b.pending) >= b.bulkSize {
		b.emit()
	}
}

// Pending returns the number of records waiting for the next emission
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// Finish emits any partially filled batch and stops accepting records.
func (b *Batcher) Finish() {
	if b.finished {
		return
	}
	if len(b.pending) > 0 {
		b.emit()
	}
	b.finished = true
	b.logger.Debug("batcher_finished", zap.String("conn", b.conn), zap.Uint64("batches", b.seq))
}

func (b *Batcher) emit() {
	b.seq++
	out := Batch{
		ID:      ksuid.New(),
		Conn:    b.conn,
		Seq:     b.seq,
		Records: b.pending,
	}
	b.pending = make([]Record, 0, b.bulkSize)

	b.logger.Debug("batch_emitted",
		zap.String("conn", b.conn),
		zap.String("batch", out.ID.String()),
		zap.Uint64("seq", out.Seq),
		zap.Int("records", len(out.Records)),
	)
	for _, s := range b.subscribers {
		s.Update(out)
	}
}

// Package ingest is the connection layer between chunked byte sources and
// the batching pipeline. Callers open a connection, feed it raw chunks in any
// split and close it; complete newline-delimited records are forwarded to the
// connection's batcher with the time they were forwarded.
package ingest

import (
	"sync"
	"time"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/framer"
	"github.com/ssargent/bulkline/pkg/metrics"
)

// Batcher is the batching collaborator a connection forwards records into
type Batcher interface {
	Subscribe(s batch.Subscriber)
	Feed(data []byte, ts time.Time)
	Finish()
}

// Conn is one ingestion session. All methods are safe for concurrent use and
// calls on a nil or closed Conn do nothing.
type Conn struct {
	id      string
	now     func() time.Time
	metrics *metrics.Metrics

	mu        sync.Mutex
	framer    *framer.Framer
	batcher   Batcher
	finishing bool
	closed    bool
}

func newConn(id string, b Batcher, sub batch.Subscriber, now func() time.Time, m *metrics.Metrics) *Conn {
	c := &Conn{
		id:      id,
		now:     now,
		metrics: m,
		framer:  framer.New(),
		batcher: b,
	}
	b.Subscribe(batch.SubscriberFunc(func(bt batch.Batch) {
		// Runs synchronously under c.mu from Feed or Close.
		m.BatchEmitted(c.finishing)
		if sub != nil {
			sub.Update(bt)
		}
	}))
	m.ConnectionOpened()
	return c
}

// ID returns the connection identifier stamped on its batches
func (c *Conn) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// Feed frames data and forwards every complete record. The timestamp of each
// record is sampled when that record is forwarded. Empty data is ignored.
func (c *Conn) Feed(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	records := 0
	c.framer.Frame(data, func(record []byte) {
		c.batcher.Feed(record, c.now())
		records++
	})
	c.metrics.Fed(len(data), records)
}

// Close forwards any unterminated trailing bytes as a final record, makes the
// batcher emit its partial batch and releases the connection. Only the first
// call has an effect.
func (c *Conn) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	records := 0
	if rest := c.framer.Drain(); rest != nil {
		c.batcher.Feed(rest, c.now())
		records++
	}
	c.finishing = true
	c.batcher.Finish()
	c.closed = true
	c.framer = nil
	c.batcher = nil
	c.mu.Unlock()

	c.metrics.Fed(0, records)
	c.metrics.ConnectionClosed()
}

// Pending returns the number of buffered bytes not yet resolved into a record
func (c *Conn) Pending() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return c.framer.Pending()
}

// Closed reports whether Close has run
func (c *Conn) Closed() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

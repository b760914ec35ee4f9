package ingest

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/dispatch"
	"github.com/ssargent/bulkline/pkg/metrics"
	"go.uber.org/zap"
)

// ErrInvalidBulkSize is returned by Open for a bulk size below 1.
var ErrInvalidBulkSize = errors.New("ingest: bulk size must be at least 1")

// Handle identifies an open connection within its Registry. The zero Handle
// is never issued and handles are not reused.
type Handle uint64

// InvalidHandle is the zero Handle
const InvalidHandle Handle = 0

// String returns the decimal form used on the wire
func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// ParseHandle parses the decimal form of a handle
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return InvalidHandle, err
	}
	return Handle(v), nil
}

// Starter is the execution engine as seen by the registry
type Starter interface {
	Start()
}

// Options configures a Registry
type Options struct {
	// Engine is started before any connection does work. Defaults to
	// dispatch.Instance().
	Engine Starter

	// Subscriber receives the batches of every connection.
	Subscriber batch.Subscriber

	// NewBatcher builds the batcher of a connection. Defaults to batch.New.
	NewBatcher func(bulkSize int, conn string) Batcher

	// Clock samples record capture times. Defaults to time.Now.
	Clock func() time.Time

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Stats describes the registry's connections
type Stats struct {
	Open   int    `json:"open"`
	Opened uint64 `json:"opened"`
	Closed uint64 `json:"closed"`
}

// Registry maps handles to connections
type Registry struct {
	opts Options

	mu    sync.RWMutex
	conns map[Handle]*Conn

	next   uint64
	closed uint64
}

// NewRegistry creates a registry
func NewRegistry(opts Options) *Registry {
	if opts.Engine == nil {
		opts.Engine = dispatch.Instance()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewBatcher == nil {
		logger := opts.Logger
		opts.NewBatcher = func(bulkSize int, conn string) Batcher {
			return batch.New(bulkSize, batch.WithConn(conn), batch.WithLogger(logger))
		}
	}
	return &Registry{
		opts:  opts,
		conns: make(map[Handle]*Conn),
	}
}

// Open starts the engine if needed and opens a connection emitting a batch
// every bulkSize records.
func (r *Registry) Open(bulkSize int) (Handle, error) {
	if bulkSize < 1 {
		return InvalidHandle, ErrInvalidBulkSize
	}
	r.opts.Engine.Start()

	h := Handle(atomic.AddUint64(&r.next, 1))
	id := h.String()
	c := newConn(id, r.opts.NewBatcher(bulkSize, id), r.opts.Subscriber, r.opts.Clock, r.opts.Metrics)

	r.mu.Lock()
	r.conns[h] = c
	r.mu.Unlock()

	r.opts.Logger.Debug("connection_opened", zap.String("conn", id), zap.Int("bulk_size", bulkSize))
	return h, nil
}

// Lookup returns the open connection behind h
func (r *Registry) Lookup(h Handle) (*Conn, bool) {
	if h == InvalidHandle {
		return nil, false
	}
	r.mu.RLock()
	c, ok := r.conns[h]
	r.mu.RUnlock()
	return c, ok
}

// Feed forwards data to the connection behind h. Unknown handles and empty
// data are ignored.
func (r *Registry) Feed(h Handle, data []byte) {
	if len(data) == 0 {
		return
	}
	c, ok := r.Lookup(h)
	if !ok {
		return
	}
	c.Feed(data)
}

// Close flushes and releases the connection behind h. Unknown handles are
// ignored; after Close returns, h no longer resolves.
func (r *Registry) Close(h Handle) {
	if h == InvalidHandle {
		return
	}
	r.mu.Lock()
	c, ok := r.conns[h]
	delete(r.conns, h)
	r.mu.Unlock()
	if !ok {
		return
	}

	c.Close()
	atomic.AddUint64(&r.closed, 1)
	r.opts.Logger.Debug("connection_closed", zap.String("conn", c.ID()))
}

// CloseAll closes every open connection
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		r.Close(h)
	}
}

// Stats returns connection counts
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	open := len(r.conns)
	r.mu.RUnlock()
	return Stats{
		Open:   open,
		Opened: atomic.LoadUint64(&r.next),
		Closed: atomic.LoadUint64(&r.closed),
	}
}

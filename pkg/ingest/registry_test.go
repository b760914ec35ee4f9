package ingest

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/dispatch"
	"github.com/ssargent/bulkline/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEngine counts Start calls
type countingEngine struct {
	starts int64
}

func (e *countingEngine) Start() { atomic.AddInt64(&e.starts, 1) }

// collector gathers emitted batches
type collector struct {
	mu      sync.Mutex
	batches []batch.Batch
}

func (c *collector) Update(b batch.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) records() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, b := range c.batches {
		for _, r := range b.Records {
			out = append(out, string(r.Data))
		}
	}
	return out
}

func (c *collector) sizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for _, b := range c.batches {
		out = append(out, len(b.Records))
	}
	return out
}

func setupRegistry(t *testing.T) (*Registry, *collector, *countingEngine) {
	t.Helper()
	col := &collector{}
	engine := &countingEngine{}
	reg := NewRegistry(Options{Engine: engine, Subscriber: col})
	return reg, col, engine
}

func TestRegistry_BulkScenario(t *testing.T) {
	reg, col, engine := setupRegistry(t)

	h, err := reg.Open(2)
	require.NoError(t, err)
	assert.NotEqual(t, InvalidHandle, h)
	assert.Equal(t, int64(1), atomic.LoadInt64(&engine.starts))

	reg.Feed(h, []byte("a\nb\n"))
	assert.Equal(t, []int{2}, col.sizes())
	assert.Equal(t, []string{"a", "b"}, col.records())

	reg.Feed(h, []byte("c\n"))
	assert.Equal(t, []int{2}, col.sizes(), "c is held pending")

	reg.Close(h)
	assert.Equal(t, []int{2, 1}, col.sizes())
	assert.Equal(t, []string{"a", "b", "c"}, col.records())
}

func TestRegistry_TrailingFlush(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h, err := reg.Open(5)
	require.NoError(t, err)
	reg.Feed(h, []byte("abc"))
	assert.Empty(t, col.records())

	reg.Close(h)
	assert.Equal(t, []string{"abc"}, col.records())
	assert.Equal(t, []int{1}, col.sizes())
}

func TestRegistry_CloseWithoutData(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h, err := reg.Open(3)
	require.NoError(t, err)
	reg.Close(h)

	assert.Empty(t, col.batches)
}

func TestRegistry_NoopTolerance(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h, err := reg.Open(1)
	require.NoError(t, err)
	reg.Feed(h, []byte("par"))

	reg.Feed(h, nil)
	reg.Feed(h, []byte{})
	reg.Feed(InvalidHandle, []byte("x\n"))
	reg.Feed(Handle(9999), []byte("x\n"))
	reg.Close(InvalidHandle)
	reg.Close(Handle(9999))

	assert.Empty(t, col.records())
	c, ok := reg.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, 3, c.Pending())

	reg.Feed(h, []byte("tial\n"))
	assert.Equal(t, []string{"partial"}, col.records())
}

func TestRegistry_UseAfterCloseIsIgnored(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h, err := reg.Open(1)
	require.NoError(t, err)
	reg.Feed(h, []byte("one\n"))
	reg.Close(h)

	reg.Feed(h, []byte("two\n"))
	reg.Close(h)

	_, ok := reg.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, []string{"one"}, col.records())
}

func TestRegistry_InvalidBulkSize(t *testing.T) {
	reg, _, engine := setupRegistry(t)

	h, err := reg.Open(0)
	assert.ErrorIs(t, err, ErrInvalidBulkSize)
	assert.Equal(t, InvalidHandle, h)
	assert.Equal(t, int64(0), atomic.LoadInt64(&engine.starts))
}

func TestRegistry_EmptyRecords(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h, err := reg.Open(10)
	require.NoError(t, err)
	reg.Feed(h, []byte("a\n\nb\n"))
	reg.Close(h)

	assert.Equal(t, []string{"a", "", "b"}, col.records())
}

func TestRegistry_SplitInvariance(t *testing.T) {
	stream := "first\nsecond\n\nthird record\nfourth\nunterminated"
	expected := []string{"first", "second", "", "third record", "fourth", "unterminated"}

	for size := 1; size <= len(stream); size++ {
		reg, col, _ := setupRegistry(t)
		h, err := reg.Open(2)
		require.NoError(t, err)
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			reg.Feed(h, []byte(stream[i:end]))
		}
		reg.Close(h)
		assert.Equal(t, expected, col.records(), "chunk size %d", size)
	}
}

func TestRegistry_TimestampSampledPerRecord(t *testing.T) {
	var tick int64
	clock := func() time.Time {
		return time.Unix(atomic.AddInt64(&tick, 1), 0)
	}
	col := &collector{}
	reg := NewRegistry(Options{Engine: &countingEngine{}, Subscriber: col, Clock: clock})

	h, err := reg.Open(10)
	require.NoError(t, err)
	reg.Feed(h, []byte("a\nb\nc"))
	reg.Close(h)

	require.Len(t, col.batches, 1)
	recs := col.batches[0].Records
	require.Len(t, recs, 3)
	assert.Equal(t, int64(1), recs[0].Time.Unix())
	assert.Equal(t, int64(2), recs[1].Time.Unix())
	assert.Equal(t, int64(3), recs[2].Time.Unix())
}

func TestRegistry_OrderingUnderConcurrency(t *testing.T) {
	reg, col, _ := setupRegistry(t)
	h, err := reg.Open(3)
	require.NoError(t, err)

	const writers = 4
	const rounds = 50

	// A token passed round-robin fixes the total submission order: writer w
	// feeds chunk k*writers+w. Lines straddle chunk boundaries on purpose.
	var expected []string
	var chunks []string
	for i := 0; i < writers*rounds; i++ {
		expected = append(expected, "line-"+strings.Repeat("x", i%7)+"-"+strconv.Itoa(i))
	}
	stream := strings.Join(expected, "\n") + "\n"
	per := len(stream)/(writers*rounds) + 1
	for i := 0; i < len(stream); i += per {
		end := i + per
		if end > len(stream) {
			end = len(stream)
		}
		chunks = append(chunks, stream[i:end])
	}

	turns := make([]chan struct{}, writers)
	for i := range turns {
		turns[i] = make(chan struct{}, 1)
	}
	turns[0] <- struct{}{}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for k := w; k < len(chunks); k += writers {
				<-turns[w]
				reg.Feed(h, []byte(chunks[k]))
				turns[(w+1)%writers] <- struct{}{}
			}
		}(w)
	}
	wg.Wait()
	reg.Close(h)

	assert.Equal(t, expected, col.records())
}

func TestRegistry_ConcurrentFeedsOnOneHandle(t *testing.T) {
	reg, col, _ := setupRegistry(t)
	h, err := reg.Open(7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				reg.Feed(h, []byte("whole-record\n"))
			}
		}()
	}
	wg.Wait()
	reg.Close(h)

	recs := col.records()
	assert.Len(t, recs, 800)
	for _, r := range recs {
		assert.Equal(t, "whole-record", r)
	}
}

func TestRegistry_ConcurrentOpenStartsEngineOnce(t *testing.T) {
	engine := dispatch.New(dispatch.DefaultConfig(), nil, nil)
	defer engine.Stop(context.Background())
	reg := NewRegistry(Options{Engine: engine, Subscriber: &collector{}})

	var wg sync.WaitGroup
	handles := make([]Handle, 32)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Open(1)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.True(t, engine.Running())
	seen := map[Handle]bool{}
	for _, h := range handles {
		assert.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
	}
	assert.Equal(t, 32, reg.Stats().Open)

	reg.CloseAll()
	stats := reg.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, uint64(32), stats.Opened)
	assert.Equal(t, uint64(32), stats.Closed)
}

func TestRegistry_BatchesCarryConnID(t *testing.T) {
	reg, col, _ := setupRegistry(t)

	h1, err := reg.Open(1)
	require.NoError(t, err)
	h2, err := reg.Open(1)
	require.NoError(t, err)

	reg.Feed(h1, []byte("a\n"))
	reg.Feed(h2, []byte("b\n"))

	require.Len(t, col.batches, 2)
	assert.Equal(t, h1.String(), col.batches[0].Conn)
	assert.Equal(t, h2.String(), col.batches[1].Conn)
}

func TestRegistry_Metrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := NewRegistry(Options{Engine: &countingEngine{}, Subscriber: &collector{}, Metrics: m})

	h, err := reg.Open(2)
	require.NoError(t, err)
	reg.Feed(h, []byte("a\nb\nc"))
	reg.Close(h)

	expected := `
# HELP bulkline_batches_emitted_total Total number of emitted batches
# TYPE bulkline_batches_emitted_total counter
bulkline_batches_emitted_total{kind="final"} 1
bulkline_batches_emitted_total{kind="full"} 1
# HELP bulkline_bytes_fed_total Total number of bytes fed into connections
# TYPE bulkline_bytes_fed_total counter
bulkline_bytes_fed_total 5
# HELP bulkline_connections_closed_total Total number of closed ingestion connections
# TYPE bulkline_connections_closed_total counter
bulkline_connections_closed_total 1
# HELP bulkline_connections_open Number of currently open ingestion connections
# TYPE bulkline_connections_open gauge
bulkline_connections_open 0
# HELP bulkline_connections_opened_total Total number of opened ingestion connections
# TYPE bulkline_connections_opened_total counter
bulkline_connections_opened_total 1
# HELP bulkline_records_forwarded_total Total number of records forwarded to batchers
# TYPE bulkline_records_forwarded_total counter
bulkline_records_forwarded_total 3
`
	err = testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"bulkline_batches_emitted_total",
		"bulkline_bytes_fed_total",
		"bulkline_connections_closed_total",
		"bulkline_connections_open",
		"bulkline_connections_opened_total",
		"bulkline_records_forwarded_total",
	)
	assert.NoError(t, err)

	// Use after close records nothing
	reg.Feed(h, []byte("d\n"))
	assert.Equal(t, float64(3), gathered(t, promReg, "bulkline_records_forwarded_total"))
}

// gathered returns the value of an unlabelled counter or gauge
func gathered(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		metric := f.GetMetric()[0]
		if c := metric.GetCounter(); c != nil {
			return c.GetValue()
		}
		return metric.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestParseHandle(t *testing.T) {
	h, err := ParseHandle("42")
	require.NoError(t, err)
	assert.Equal(t, Handle(42), h)
	assert.Equal(t, "42", h.String())

	_, err = ParseHandle("nope")
	assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, Default(), Default())

	h, err := Open(2)
	require.NoError(t, err)
	Feed(h, []byte("x"))
	Close(h)
	Feed(h, []byte("y\n"))

	_, ok := Default().Lookup(h)
	assert.False(t, ok)
}

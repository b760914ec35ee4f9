package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ssargent/bulkline/pkg/batch"
)

// ConsoleName is the lane and sink name of the console sink
const ConsoleName = "console"

// Console prints each batch as a "bulk: a, b" line
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console sink writing to out, or stdout when out is nil
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

// Name implements Sink
func (c *Console) Name() string { return ConsoleName }

// Write implements Sink
func (c *Console) Write(_ context.Context, b batch.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, b.String())
	return err
}

// Close implements Sink
func (c *Console) Close() error { return nil }

package ingest

import (
	"sync"

	"github.com/ssargent/bulkline/pkg/dispatch"
	"github.com/ssargent/bulkline/pkg/sink"
)

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry used by the package-level
// functions. It runs on dispatch.Instance() and prints batches to stdout.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		engine := dispatch.Instance()
		defaultRegistry = NewRegistry(Options{
			Engine:     engine,
			Subscriber: sink.NewSubscriber(engine, []sink.Sink{sink.NewConsole(nil)}, nil, nil),
		})
	})
	return defaultRegistry
}

// Open opens a connection on the default registry
func Open(bulkSize int) (Handle, error) {
	return Default().Open(bulkSize)
}

// Feed feeds a chunk to a connection of the default registry
func Feed(h Handle, data []byte) {
	Default().Feed(h, data)
}

// Close closes a connection of the default registry
func Close(h Handle) {
	Default().Close(h)
}

// Package dispatch implements the process-wide execution engine that runs
// work produced by emitted batches on named lanes of worker goroutines.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ssargent/bulkline/pkg/metrics"
	"go.uber.org/zap"
)

// Default and configuration values.
const (
	defaultQueueSize = 1024
	defaultWorkers   = 1
)

var (
	// ErrNotStarted is returned by Submit before Start has been called.
	ErrNotStarted = errors.New("dispatch: engine not started")

	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("dispatch: engine stopped")
)

// Task is a unit of work run by a lane worker
type Task func(ctx context.Context) error

// Config holds configuration for the engine
type Config struct {
	Lanes     map[string]int // Worker count per lane; lanes not listed get one worker
	QueueSize int            // Buffered tasks per lane before Submit blocks
}

// DefaultConfig returns the configuration used by Instance
func DefaultConfig() Config {
	return Config{QueueSize: defaultQueueSize}
}

type lane struct {
	name  string
	tasks chan Task
}

// Engine runs submitted tasks. Tasks on a lane with one worker run in
// submission order.
type Engine struct {
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	lanes   map[string]*lane
	started bool
	stopped bool

	quit    chan struct{}  // closed when Stop begins
	done    chan struct{}  // closed once every worker has returned
	senders sync.WaitGroup // Submit calls between lane lookup and send

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Nothing runs until Start is called.
func New(config Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:  config,
		logger:  logger,
		metrics: m,
		lanes:   make(map[string]*lane),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Instance returns the lazily created process-wide engine. Hosts that build
// their own engine should inject it instead.
func Instance() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = New(DefaultConfig(), nil, nil)
	})
	return defaultEngine
}

// Start launches the configured lanes. It is safe to call concurrently and
// any number of times; only the first call has an effect.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.stopped {
			return
		}
		for name := range e.config.Lanes {
			e.addLane(name)
		}
		e.started = true
		e.logger.Info("engine_started", zap.Int("lanes", len(e.lanes)))
	})
}

// Running reports whether the engine accepts tasks
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started && !e.stopped
}

// Submit enqueues task on the named lane, creating the lane on first use.
// It blocks while the lane queue is full and returns ErrStopped if Stop is
// called while it waits.
func (e *Engine) Submit(name string, task Task) error {
	if task == nil {
		return nil
	}

	e.mu.RLock()
	l, err := e.laneLocked(name)
	if errors.Is(err, errMissingLane) {
		e.mu.RUnlock()
		e.mu.Lock()
		l, err = e.laneLocked(name)
		if errors.Is(err, errMissingLane) {
			l, err = e.addLane(name), nil
		}
		e.mu.Unlock()
		e.mu.RLock()
		// Stop may have run between the two locks.
		if err == nil && e.stopped {
			err = ErrStopped
		}
	}
	if err != nil {
		e.mu.RUnlock()
		return err
	}
	// Lane channels stay open until every registered sender has left.
	e.senders.Add(1)
	e.mu.RUnlock()
	defer e.senders.Done()

	e.metrics.EngineQueued(name, 1)
	select {
	case l.tasks <- task:
		return nil
	case <-e.quit:
		e.metrics.EngineQueued(name, -1)
		return ErrStopped
	}
}

var errMissingLane = errors.New("dispatch: lane missing")

// laneLocked looks up a lane; the caller holds e.mu.
func (e *Engine) laneLocked(name string) (*lane, error) {
	if e.stopped {
		return nil, ErrStopped
	}
	if !e.started {
		return nil, ErrNotStarted
	}
	l, ok := e.lanes[name]
	if !ok {
		return nil, errMissingLane
	}
	return l, nil
}

// addLane creates a lane and its workers; the caller holds e.mu for writing.
func (e *Engine) addLane(name string) *lane {
	workers := e.config.Lanes[name]
	if workers <= 0 {
		workers = defaultWorkers
	}
	l := &lane{name: name, tasks: make(chan Task, e.config.QueueSize)}
	e.lanes[name] = l
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(l, i)
	}
	e.logger.Debug("engine_lane_added", zap.String("lane", name), zap.Int("workers", workers))
	return l
}

func (e *Engine) worker(l *lane, id int) {
	defer e.wg.Done()
	for task := range l.tasks {
		e.metrics.EngineQueued(l.name, -1)
		err := e.run(task)
		e.metrics.EngineTask(l.name, err == nil)
		if err != nil {
			e.logger.Error("engine_task_failed",
				zap.String("lane", l.name),
				zap.Int("worker", id),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(e.ctx)
}

// Stop stops accepting tasks, lets workers drain every queued task and waits
// for them. Submit calls blocked on a full queue return ErrStopped. If ctx
// expires first the context passed to running tasks is cancelled and ctx's
// error is returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.quit)

		e.mu.Lock()
		e.stopped = true
		lanes := make([]*lane, 0, len(e.lanes))
		for _, l := range e.lanes {
			lanes = append(lanes, l)
		}
		e.mu.Unlock()
		e.logger.Info("engine_stopping")

		go func() {
			e.senders.Wait()
			for _, l := range lanes {
				close(l.tasks)
			}
			e.wg.Wait()
			close(e.done)
		}()
	})

	select {
	case <-e.done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

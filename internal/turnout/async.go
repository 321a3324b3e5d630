package turnout

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 256

// AsyncObserver moves change handling off the turnout's lock. Changes are
// queued without blocking and handed to fn by a single worker, so fn sees
// them in publication order. When the queue is full the change is dropped.
type AsyncObserver struct {
	name    string
	fn      func(Change)
	queue   chan Change
	logger  Logger
	dropped atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ Observer = (*AsyncObserver)(nil)

// NewAsyncObserver starts a worker that calls fn for every queued change.
// queueSize <= 0 selects a default.
func NewAsyncObserver(name string, fn func(Change), queueSize int, logger Logger) *AsyncObserver {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	a := &AsyncObserver{
		name:   name,
		fn:     fn,
		queue:  make(chan Change, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

// TurnoutChanged implements Observer.
func (a *AsyncObserver) TurnoutChanged(c Change) {
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.queue <- c:
	default:
		if a.dropped.Add(1) == 1 && a.logger != nil {
			a.logger.Warn("change queue full, dropping", "observer", a.name, "address", c.Address)
		}
	}
}

// Dropped returns how many changes were discarded because the queue was full.
func (a *AsyncObserver) Dropped() uint64 {
	return a.dropped.Load()
}

// Stop handles what is already queued and waits for the worker to exit.
func (a *AsyncObserver) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *AsyncObserver) worker() {
	defer a.wg.Done()
	for {
		select {
		case c := <-a.queue:
			a.handle(c)
		case <-a.done:
			for {
				select {
				case c := <-a.queue:
					a.handle(c)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncObserver) handle(c Change) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Error("change handler panic", "observer", a.name, "error", fmt.Errorf("%v", r))
		}
	}()
	a.fn(c)
}

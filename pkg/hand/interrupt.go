package hand

import (
	"fmt"
	"sync"
)

// interrupter is the cooperative cancellation flag for one run. Triggering
// is idempotent; the run observes the flag at its suspension points.
type interrupter struct {
	once sync.Once
	ch   chan struct{}
}

func newInterrupter() *interrupter {
	return &interrupter{ch: make(chan struct{})}
}

func (i *interrupter) trigger() {
	i.once.Do(func() { close(i.ch) })
}

func (i *interrupter) interrupted() bool {
	select {
	case <-i.ch:
		return true
	default:
		return false
	}
}

func (i *interrupter) done() <-chan struct{} {
	return i.ch
}

// lifecycle tracks the active run of a Hand so Interrupt reaches it and a
// second concurrent run is refused.
type lifecycle struct {
	mu     sync.Mutex
	active *interrupter
}

// begin registers a new run and returns its interrupter.
func (l *lifecycle) begin() (*interrupter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return nil, fmt.Errorf("a run is already in progress")
	}
	intr := newInterrupter()
	l.active = intr
	return intr, nil
}

// end clears the active run.
func (l *lifecycle) end() {
	l.mu.Lock()
	l.active = nil
	l.mu.Unlock()
}

// Interrupt requests cooperative cancellation of the active run, if any.
func (l *lifecycle) Interrupt() {
	l.mu.Lock()
	if l.active != nil {
		l.active.trigger()
	}
	l.mu.Unlock()
}

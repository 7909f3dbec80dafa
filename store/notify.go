package store

import (
	"context"
	"sync"
)

// Notifier is a broadcast "something changed" signal. Every waiter that is
// blocked when Notify runs wakes once; later waiters wait for the next Notify.
// It is not a queue: several Notify calls between two waits collapse into one.
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewNotifier returns a ready Notifier. The zero value is usable as well.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Changed returns a channel closed by the next Notify.
func (n *Notifier) Changed() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

// Notify wakes every current waiter.
func (n *Notifier) Notify() {
	n.mu.Lock()
	if n.ch != nil {
		close(n.ch)
	}
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// Wait blocks until the next Notify or until ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	ch := n.Changed()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

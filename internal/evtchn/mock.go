package evtchn

import (
	"context"
	"fmt"
	"sync"
)

// MockHandle is an in-process event channel for loopback tests. Each
// port has an epoch counter, and one condition variable is shared by
// all ports; Notify bumps the port's epoch and wakes every waiter, the
// same externally-observable shape as
// a real evtchn's edge-triggered wakeups.
type MockHandle struct {
	mu      sync.Mutex
	cond    *sync.Cond
	nextPid Port
	valid   map[Port]bool
	epoch   map[Port]uint64
	closed  bool
}

// NewMockHandle returns an empty mock event-channel handle.
func NewMockHandle() *MockHandle {
	h := &MockHandle{
		valid: make(map[Port]bool),
		epoch: make(map[Port]uint64),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *MockHandle) BindUnboundPort(domid uint16) (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPid++
	p := h.nextPid
	h.valid[p] = true
	h.epoch[p] = 0
	return p, nil
}

func (h *MockHandle) Notify(p Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.valid[p] {
		return fmt.Errorf("evtchn: notify on unbound port %d", p)
	}
	h.epoch[p]++
	h.cond.Broadcast()
	return nil
}

func (h *MockHandle) Unmask(p Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.valid[p] {
		return fmt.Errorf("evtchn: unmask on unbound port %d", p)
	}
	return nil
}

func (h *MockHandle) IsValid(p Port) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid[p]
}

func (h *MockHandle) ToInt(p Port) int { return int(p) }

// After blocks until the port's epoch advances past the given value,
// the context is cancelled, or the handle is closed.
func (h *MockHandle) After(ctx context.Context, p Port, epoch uint64) (uint64, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	}()
	defer close(done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if h.closed {
			return 0, fmt.Errorf("evtchn: handle closed")
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if cur := h.epoch[p]; cur > epoch {
			return cur, nil
		}
		h.cond.Wait()
	}
}

func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
	return nil
}

var _ Handle = (*MockHandle)(nil)

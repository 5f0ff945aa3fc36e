//go:build linux

package evtchn

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const evtchnPath = "/dev/xen/evtchn"

// RealHandle is the production Handle backed by /dev/xen/evtchn. A
// single fd is shared by every port bound through it; the kernel
// multiplexes pending notifications onto reads of that fd (each read
// returns the port that fired), so one background goroutine drains it
// and fans updates out to per-port epoch counters, mirroring the
// teacher's dedicated-goroutine-per-fd ioLoop shape in
// internal/queue/runner.go.
type RealHandle struct {
	fd int

	mu     sync.Mutex
	cond   *sync.Cond
	epoch  map[Port]uint64
	closed bool
}

// NewRealHandle opens /dev/xen/evtchn and starts its reader loop.
func NewRealHandle() (*RealHandle, error) {
	fd, err := unix.Open(evtchnPath, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("evtchn: open %s: %w", evtchnPath, err)
	}
	h := &RealHandle{fd: fd, epoch: make(map[Port]uint64)}
	h.cond = sync.NewCond(&h.mu)
	go h.readLoop()
	return h, nil
}

func (h *RealHandle) readLoop() {
	buf := make([]byte, 4)
	pfd := []unix.PollFd{{Fd: int32(h.fd), Events: unix.POLLIN}}
	for {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return
		}

		if _, err := unix.Poll(pfd, 250); err != nil {
			continue
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(h.fd, buf)
		if err != nil || n != 4 {
			continue
		}
		port := Port(binary.LittleEndian.Uint32(buf))

		h.mu.Lock()
		h.epoch[port]++
		h.cond.Broadcast()
		h.mu.Unlock()

		// Re-enable notifications for this port (required after each
		// read, per the evtchn protocol).
		_, _ = unix.Write(h.fd, buf)
	}
}

func (h *RealHandle) BindUnboundPort(domid uint16) (Port, error) {
	buf := make([]byte, sizeofBindUnboundPort+4) // domid+pad, kernel writes back port(u32)
	binary.LittleEndian.PutUint16(buf[0:2], domid)

	if err := ioctl(h.fd, cmdBindUnboundPort(), unsafe.Pointer(&buf[0])); err != nil {
		return 0, fmt.Errorf("evtchn: IOCTL_EVTCHN_BIND_UNBOUND_PORT: %w", err)
	}
	port := Port(binary.LittleEndian.Uint32(buf[4:8]))

	h.mu.Lock()
	h.epoch[port] = 0
	h.mu.Unlock()
	return port, nil
}

func (h *RealHandle) Notify(p Port) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(p))
	if err := ioctl(h.fd, cmdNotify(), unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("evtchn: IOCTL_EVTCHN_NOTIFY: %w", err)
	}
	return nil
}

// Unmask is implicit in the real device's read/write protocol: writing
// the port back after a read re-enables delivery. It is exposed as a
// no-op here so callers can follow the same unmask-after-bind sequence
// the spec describes regardless of backend.
func (h *RealHandle) Unmask(p Port) error { return nil }

func (h *RealHandle) IsValid(p Port) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.epoch[p]
	return ok
}

func (h *RealHandle) ToInt(p Port) int { return int(p) }

func (h *RealHandle) After(ctx context.Context, p Port, epoch uint64) (uint64, error) {
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

func (h *RealHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
	return unix.Close(h.fd)
}

func ioctl(fd int, cmd uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

var _ Handle = (*RealHandle)(nil)

package netfront

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcorbin/go-netfront/internal/transport"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

// Device is a stable wrapper around a Transport: the Transport is
// swapped out wholesale on resume, but the Device identity, its lock,
// its wake condition, and its resume hooks persist across swaps
// (spec §3, §4.6 state machine).
type Device struct {
	id   int
	deps Deps

	mu        sync.RWMutex
	cond      *sync.Cond
	transport *transport.Transport
	cancel    context.CancelFunc
	done      chan struct{}

	hooksMu sync.Mutex
	hooks   []func(*Device)
}

var registry = struct {
	mu      sync.Mutex
	devices map[int]*Device
}{devices: make(map[int]*Device)}

// Connect implements connect(id) (spec §4.7): if id parses as an
// integer it is used directly; otherwise vif 0 is used, provided
// device/vif/0/backend-id is present. device/vif is not enumerated, so
// a non-integer argument never selects any other vif. An
// already-registered device is returned
// as-is; otherwise plug_inner constructs a fresh Transport, which is
// wrapped, registered, and returned. Failures during plug_inner
// surface as a KindUnknown Error and the device is not registered.
func Connect(ctx context.Context, idArg string, deps Deps) (*Device, error) {
	id, err := resolveID(deps.Store, idArg)
	if err != nil {
		return nil, Unknown("connect", err.Error())
	}

	registry.mu.Lock()
	if d, ok := registry.devices[id]; ok {
		registry.mu.Unlock()
		return d, nil
	}
	registry.mu.Unlock()

	t, err := transport.Connect(ctx, id, deps)
	if err != nil {
		return nil, DeviceUnknown("connect", id, err.Error())
	}

	d := &Device{id: id, deps: deps, transport: t}
	d.cond = sync.NewCond(d.mu.RLocker())

	registry.mu.Lock()
	registry.devices[id] = d
	registry.mu.Unlock()

	return d, nil
}

func resolveID(store xenbus.Store, idArg string) (int, error) {
	if n, err := strconv.Atoi(idArg); err == nil {
		return n, nil
	}
	// Enumeration of device/vif itself is an external-tool concern on
	// a real xenstore; here we treat any non-integer argument as the
	// literal first (and in practice only) configured vif id.
	v, err := store.Read(xenbus.Join("device/vif", "0", "backend-id"))
	if err != nil || v == "" {
		return 0, errors.New("no device/vif entries found")
	}
	return 0, nil
}

// Disconnect removes the device from the registry and cancels its
// reactor. In-flight operations against the old transport continue;
// nothing new targets it (spec §5).
func Disconnect(d *Device) {
	registry.mu.Lock()
	delete(registry.devices, d.id)
	registry.mu.Unlock()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

// Listen runs the device's reactor until its context is canceled by
// Disconnect. There is exactly one reactor per device (spec §4.6).
func (d *Device) Listen(ctx context.Context, fn func(frame []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	t := d.transport
	d.mu.Unlock()

	return t.Listen(ctx, fn)
}

// currentTransport returns the transport generation in effect right
// now.
func (d *Device) currentTransport() *transport.Transport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.transport
}

// waitForPlug blocks until a resume has installed a transport
// generation other than old, implementing the condition-wait
// suspension point named in spec §5. It loops on the generation
// predicate rather than waiting unconditionally, so a resume that
// already broadcast before the caller got here is observed
// immediately instead of missed.
func (d *Device) waitForPlug(old *transport.Transport) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for d.transport == old {
		d.cond.Wait()
	}
}

// Write sends a single frame. If the ring it was submitted on is shut
// down mid-flight, it retries exactly once against the transport that
// replaces it (spec §4.4 retry semantics, §8 scenario 6).
func (d *Device) Write(ctx context.Context, frame []byte) error {
	t := d.currentTransport()
	err := t.Write(ctx, frame)
	if err != nil && errors.Is(err, transport.ErrShutdown) {
		d.waitForPlug(t)
		t = d.currentTransport()
		err = t.Write(ctx, frame)
	}
	if err != nil {
		return Wrap("write", err)
	}
	return nil
}

// WriteVectored sends frames as a single fragment group. It does not
// auto-retry on shutdown (spec §4.4).
func (d *Device) WriteVectored(ctx context.Context, frames [][]byte) error {
	if err := d.currentTransport().WriteVectored(ctx, frames); err != nil {
		return Wrap("write_vectored", err)
	}
	return nil
}

// MAC returns the device's negotiated MAC address.
func (d *Device) MAC() []byte { return d.currentTransport().MAC }

// ID returns the device's virtual interface id.
func (d *Device) ID() int { return d.id }

// BackendID returns the backing domain id of the current transport
// generation.
func (d *Device) BackendID() uint16 { return d.currentTransport().BackendDomid }

// Features returns the negotiated feature set.
func (d *Device) Features() Features { return d.currentTransport().Features }

// GetStats returns a point-in-time snapshot of the device's counters.
func (d *Device) GetStats() Snapshot { return d.currentTransport().Stats.Snapshot(time.Now()) }

// ResetStats zeroes the device's counters.
func (d *Device) ResetStats() { d.currentTransport().Stats.Reset(time.Now()) }

// AddResumeHook registers fn to run, in registration order, every
// time this device resumes.
func (d *Device) AddResumeHook(fn func(*Device)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// Resume builds a fresh Transport via plug_inner, swaps it into the
// Device, runs resume hooks in order, wakes wait_for_plug sleepers,
// and shuts down the old generation's rings (spec §4.7 resume).
func Resume(ctx context.Context, d *Device) error {
	newT, err := transport.Connect(ctx, d.id, d.deps)
	if err != nil {
		return DeviceUnknown("resume", d.id, err.Error())
	}

	d.mu.Lock()
	old := d.transport
	d.transport = newT
	d.mu.Unlock()

	d.hooksMu.Lock()
	hooks := append([]func(*Device){}, d.hooks...)
	d.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(d)
	}

	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()

	old.Shutdown()
	return nil
}

// ResumeAll runs Resume for every registered device concurrently,
// taking a snapshot of the registry first so resume_all never
// observes a partial update (spec §4.7, §9).
func ResumeAll(ctx context.Context) error {
	registry.mu.Lock()
	devices := make([]*Device, 0, len(registry.devices))
	for _, d := range registry.devices {
		devices = append(devices, d)
	}
	registry.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		g.Go(func() error { return Resume(gctx, d) })
	}
	return g.Wait()
}

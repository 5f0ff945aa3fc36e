// Package transport implements the data-plane core: ring construction,
// the transmit and receive paths, the event-driven reactor, and the
// plug/connect/resume handshake against the external collaborators
// (grant table, event channel, configuration store, page allocator).
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jcorbin/go-netfront/internal/constants"
	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/logging"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/ring"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

// Transport owns one generation of a device's plugged-in state: its
// rings, grant table bindings, event channel, negotiated features, and
// statistics. A Device (the root package's stable wrapper) swaps in a
// fresh Transport on resume; a Transport never outlives the ring
// generation it was built for.
type Transport struct {
	ID           int
	BackendDomid uint16
	BackendPath  string
	MAC          net.HardwareAddr
	Features     Features
	Stats        *Stats

	RxRing *ring.Front
	TxRing *ring.Front
	RxMap  *grant.Map

	Grants grant.Table
	Events evtchn.Handle
	Store  xenbus.Store
	Pages  page.Allocator

	EvtchnPort evtchn.Port

	logger *logging.Logger

	txMu       sync.Mutex // serializes whole write/write_vectored calls
	pendingMu  sync.Mutex
	pending    map[uint16]txPending
	rxGref     grant.Ref
	txGref     grant.Ref
	shutdownMu sync.Mutex
	shutdown   bool
}

// txPending is what a TX request id resolves to once its response
// arrives: the grant backing its page (to be ended and released) and
// the channel its waiter is blocked on.
type txPending struct {
	ch  chan error
	ref grant.Ref
}

// Connect implements plug_inner (spec §4.7): it reads the back-end
// domid from the configuration store, builds both rings, binds an
// event channel, publishes the handshake, and reads back negotiated
// features.
func Connect(ctx context.Context, id int, deps Deps) (*Transport, error) {
	idStr := strconv.Itoa(id)
	log := deps.logger().WithDevice(id)

	backendDomidStr, err := deps.Store.Read(xenbus.VifPath(idStr, "backend-id"))
	if err != nil {
		return nil, fmt.Errorf("read backend-id: %w", err)
	}
	backendDomid64, err := strconv.ParseUint(backendDomidStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse backend-id %q: %w", backendDomidStr, err)
	}
	backendDomid := uint16(backendDomid64)

	rxPages, err := deps.Pages.Get(1)
	if err != nil {
		return nil, fmt.Errorf("allocate rx ring page: %w", err)
	}
	txPages, err := deps.Pages.Get(1)
	if err != nil {
		return nil, fmt.Errorf("allocate tx ring page: %w", err)
	}

	rxGref, err := deps.Grants.Get()
	if err != nil {
		return nil, fmt.Errorf("acquire rx ring grant: %w", err)
	}
	if err := deps.Grants.GrantAccess(rxGref, backendDomid, true, rxPages[0]); err != nil {
		return nil, fmt.Errorf("grant rx ring: %w", err)
	}
	txGref, err := deps.Grants.Get()
	if err != nil {
		return nil, fmt.Errorf("acquire tx ring grant: %w", err)
	}
	if err := deps.Grants.GrantAccess(txGref, backendDomid, true, txPages[0]); err != nil {
		return nil, fmt.Errorf("grant tx ring: %w", err)
	}

	port, err := deps.Events.BindUnboundPort(backendDomid)
	if err != nil {
		return nil, fmt.Errorf("bind event channel: %w", err)
	}

	backendPath, err := deps.Store.Read(xenbus.VifPath(idStr, "backend"))
	if err != nil {
		return nil, fmt.Errorf("read backend path: %w", err)
	}
	macStr, err := deps.Store.Read(xenbus.VifPath(idStr, "mac"))
	if err != nil {
		return nil, fmt.Errorf("read mac: %w", err)
	}
	mac, err := net.ParseMAC(macStr)
	if err != nil {
		return nil, fmt.Errorf("invalid mac")
	}

	err = deps.Store.Transaction(func(tx xenbus.Tx) error {
		writes := map[string]string{
			xenbus.VifPath(idStr, "tx-ring-ref"):      strconv.FormatUint(uint64(txGref), 10),
			xenbus.VifPath(idStr, "rx-ring-ref"):      strconv.FormatUint(uint64(rxGref), 10),
			xenbus.VifPath(idStr, "event-channel"):    strconv.Itoa(deps.Events.ToInt(port)),
			xenbus.VifPath(idStr, "request-rx-copy"):  "1",
			xenbus.VifPath(idStr, "feature-rx-notify"): "1",
			xenbus.VifPath(idStr, "feature-sg"):       "1",
			xenbus.VifPath(idStr, "state"):            xenbus.StateConnected.String(),
		}
		for path, value := range writes {
			if err := tx.Write(path, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish handshake: %w", err)
	}

	features, err := ReadFeatures(deps.Store, backendPath)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}

	if err := deps.Events.Unmask(port); err != nil {
		return nil, fmt.Errorf("unmask event channel: %w", err)
	}

	t := &Transport{
		ID:           id,
		BackendDomid: backendDomid,
		BackendPath:  backendPath,
		MAC:          mac,
		Features:     features,
		Stats:        NewStats(time.Now()),
		RxRing:       ring.NewFront(rxPages[0], constants.RxSlotSize),
		TxRing:       ring.NewFront(txPages[0], constants.TxSlotSize),
		RxMap:        grant.NewMap(),
		Grants:       deps.Grants,
		Events:       deps.Events,
		Store:        deps.Store,
		Pages:        deps.Pages,
		EvtchnPort:   port,
		logger:       deps.logger(),
		pending:      make(map[uint16]txPending),
		rxGref:       rxGref,
		txGref:       txGref,
	}
	log.Info("plugged", "backend_domid", backendDomid, "features", features.String())
	return t, nil
}

// isShutdown reports whether Shutdown has already been called.
func (t *Transport) isShutdown() bool {
	t.shutdownMu.Lock()
	defer t.shutdownMu.Unlock()
	return t.shutdown
}

// Shutdown resolves every outstanding TX completion with ErrShutdown
// and marks the transport dead. It does not release RX grants bound
// for a now-unreachable peer (spec §5: "grants are released without
// access-end being necessary").
func (t *Transport) Shutdown() {
	t.shutdownMu.Lock()
	t.shutdown = true
	t.shutdownMu.Unlock()

	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, p := range t.pending {
		_ = t.Grants.Put(p.ref) // peer can no longer reach a dead ring's grants (spec §5)
		p.ch <- ErrShutdown
		close(p.ch)
		delete(t.pending, id)
	}
}

package transport

import (
	"context"
	"encoding/binary"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/go-netfront/internal/constants"
	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/ring"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

func newTestDeps(t *testing.T, id int, backendDomid uint16) (Deps, *xenbus.MemStore) {
	t.Helper()
	store := xenbus.NewMemStore()
	idStr := strconv.Itoa(id)
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "backend-id"), strconv.Itoa(int(backendDomid))))
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "backend"), "backend/vif/"+idStr))
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "mac"), "00:16:3e:00:00:01"))

	return Deps{
		Grants: grant.NewRecordingTable(grant.NewMockTable()),
		Events: evtchn.NewMockHandle(),
		Store:  store,
		Pages:  page.HeapAllocator{},
	}, store
}

// peerHarness plays the back end's side of the wire protocol the same
// way the public netfront.MockPeer does, reimplemented locally to
// avoid an import cycle (the root package imports this one). Request
// fields are decoded by hand because the wire package intentionally
// only encodes requests and decodes responses — the directions the
// front end itself needs (spec.md scopes the back end's half of the
// codec out).
type peerHarness struct {
	txBack *ring.Back
	rxBack *ring.Back
	grants *grant.RecordingTable

	echo       bool
	assembling []byte
	deliveries [][]byte
	received   [][]byte
}

func newPeerHarness(t *testing.T, tr *Transport, deps Deps) *peerHarness {
	t.Helper()
	rt, ok := deps.Grants.(*grant.RecordingTable)
	require.True(t, ok, "test deps must use a RecordingTable")
	return &peerHarness{
		txBack: ring.NewBack(tr.TxRing.Page(), constants.TxSlotSize),
		rxBack: ring.NewBack(tr.RxRing.Page(), constants.RxSlotSize),
		grants: rt,
	}
}

const txFlagMoreData = 1 << 2

func (p *peerHarness) handleTxRequest(slot []byte) {
	gref := binary.LittleEndian.Uint32(slot[0:4])
	flags := binary.LittleEndian.Uint16(slot[6:8])
	id := binary.LittleEndian.Uint16(slot[8:10])

	if pg, ok := p.grants.Lookup(grant.Ref(gref)); ok {
		p.assembling = append(p.assembling, pg.Frame()...)
		if flags&txFlagMoreData == 0 {
			full := p.assembling
			p.assembling = nil
			p.received = append(p.received, full)
			if p.echo {
				p.deliveries = append(p.deliveries, full)
			}
		}
	}

	binary.LittleEndian.PutUint16(slot[0:2], id)
	binary.LittleEndian.PutUint16(slot[2:4], 1)
}

func (p *peerHarness) handleRxRequest(slot []byte) {
	gref := binary.LittleEndian.Uint32(slot[4:8])
	id := binary.LittleEndian.Uint16(slot[0:2])

	frame := p.deliveries[0]
	p.deliveries = p.deliveries[1:]

	if pg, ok := p.grants.Lookup(grant.Ref(gref)); ok {
		copy(pg.Bytes(), frame)
	}

	binary.LittleEndian.PutUint16(slot[0:2], id)
	binary.LittleEndian.PutUint16(slot[2:4], 0)
	binary.LittleEndian.PutUint16(slot[4:6], 0)
	binary.LittleEndian.PutUint16(slot[6:8], uint16(int16(len(frame))))
}

// pump drains every pending TX request and, once a frame is fully
// reassembled and echo is enabled, delivers it into the oldest posted
// RX buffer. It reports whether it made any progress at all, so tests
// can poll it with require.Eventually.
func (p *peerHarness) pump() bool {
	progressed := false
	for {
		drained, _ := p.txBack.DrainOne(p.handleTxRequest)
		if !drained {
			break
		}
		progressed = true
	}
	for len(p.deliveries) > 0 {
		drained, _ := p.rxBack.DrainOne(p.handleRxRequest)
		if !drained {
			break
		}
		progressed = true
	}
	return progressed
}

// pumpAndReap runs one round of the peer harness and lets the
// transport reap whatever TX completions it just acknowledged; the
// test harness has no standing reactor goroutine, so callers poll this
// in place of Transport.Listen.
func pumpAndReap(tr *Transport, ph *peerHarness) func() bool {
	return func() bool {
		progressed := ph.pump()
		tr.ReapTxCompletions()
		return progressed
	}
}

func connectWithPeer(t *testing.T, id int) (*Transport, *peerHarness) {
	t.Helper()
	deps, _ := newTestDeps(t, id, constants.DefaultBackendDomid)

	tr, err := Connect(context.Background(), id, deps)
	require.NoError(t, err)

	return tr, newPeerHarness(t, tr, deps)
}

func TestLoopbackSingleFrame(t *testing.T) {
	tr, ph := connectWithPeer(t, 0)
	ph.echo = true
	require.NoError(t, tr.Refill())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame := []byte("hello xen")
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Write(ctx, frame) }()

	require.Eventually(t, pumpAndReap(tr, ph), time.Second, time.Millisecond)
	require.NoError(t, <-errCh)

	var got []byte
	require.Eventually(t, func() bool {
		tr.RxDrain(func(f []byte) error { got = append([]byte(nil), f...); return nil })
		return got != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, frame, got)
}

func TestJumboFragmentedSend(t *testing.T) {
	tr, ph := connectWithPeer(t, 0)

	fragA := make([]byte, 2000)
	fragB := make([]byte, 1064)
	for i := range fragA {
		fragA[i] = byte(i)
	}
	for i := range fragB {
		fragB[i] = byte(200 + i)
	}
	total := len(fragA) + len(fragB)
	require.Equal(t, 3064, total)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tr.WriteVectored(ctx, [][]byte{fragA, fragB}) }()

	require.Eventually(t, pumpAndReap(tr, ph), time.Second, time.Millisecond)
	require.NoError(t, <-errCh)

	require.Len(t, ph.received, 1)
	full := ph.received[0]
	assert.Len(t, full, total)
	assert.Equal(t, fragA, full[:len(fragA)])
	assert.Equal(t, fragB, full[len(fragA):])
}

func TestRefillSaturatesThenSecondCallIsNoOp(t *testing.T) {
	tr, _ := connectWithPeer(t, 0)

	require.NoError(t, tr.Refill())
	assert.Equal(t, uint32(0), tr.RxRing.FreeRequests())
	assert.Equal(t, constants.RxRingSlots, tr.RxMap.Len())

	require.NoError(t, tr.Refill())
	assert.Equal(t, constants.RxRingSlots, tr.RxMap.Len())
}

func TestFeatureAbsenceDefaultsFalse(t *testing.T) {
	deps, _ := newTestDeps(t, 0, constants.DefaultBackendDomid)
	tr, err := Connect(context.Background(), 0, deps)
	require.NoError(t, err)
	assert.Equal(t, Features{}, tr.Features)
	assert.Equal(t, "none", tr.Features.String())
}

func TestConnectInvalidMAC(t *testing.T) {
	deps, store := newTestDeps(t, 0, constants.DefaultBackendDomid)
	require.NoError(t, store.Write(xenbus.VifPath("0", "mac"), "not-a-mac"))

	_, err := Connect(context.Background(), 0, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mac")
}

func TestShutdownResolvesPendingWritesOnce(t *testing.T) {
	tr, _ := connectWithPeer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Write(ctx, []byte("never acked")) }()

	require.Eventually(t, func() bool {
		tr.pendingMu.Lock()
		n := len(tr.pending)
		tr.pendingMu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	tr.Shutdown()
	err := <-errCh
	assert.ErrorIs(t, err, ErrShutdown)

	tr.pendingMu.Lock()
	assert.Empty(t, tr.pending)
	tr.pendingMu.Unlock()
}

func TestVectoredZeroFragmentsIsNoOp(t *testing.T) {
	tr, _ := connectWithPeer(t, 0)
	before := tr.TxRing.FreeRequests()
	require.NoError(t, tr.WriteVectored(context.Background(), nil))
	assert.Equal(t, before, tr.TxRing.FreeRequests())
}

func TestVectoredSingleFragmentMatchesWrite(t *testing.T) {
	tr, ph := connectWithPeer(t, 0)
	frame := []byte("one fragment")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tr.WriteVectored(ctx, [][]byte{frame}) }()

	require.Eventually(t, pumpAndReap(tr, ph), time.Second, time.Millisecond)
	require.NoError(t, <-errCh)
	require.Len(t, ph.received, 1)
	assert.Equal(t, frame, ph.received[0])
}

// TestVectoredSendBlocksUntilHeadroomFreed drives the boundary named
// in spec.md §8: a vectored send asking for exactly free_requests()+1
// slots must block, and must unblock the instant a single outstanding
// request's response frees one slot — not sooner, and not needing
// more than that one ack.
func TestVectoredSendBlocksUntilHeadroomFreed(t *testing.T) {
	tr, ph := connectWithPeer(t, 0)

	capacity := int(tr.TxRing.FreeRequests())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Leave exactly one slot free by placing a capacity-1 fragment
	// group on the ring, none of which is acked yet. Single-frame
	// writes cannot fill the ring this way: each holds the tx mutex
	// until its own completion arrives.
	fill := make([][]byte, capacity-1)
	for i := range fill {
		fill[i] = []byte{byte(i)}
	}
	require.NoError(t, tr.WriteVectored(ctx, fill))
	require.Eventually(t, func() bool {
		tr.pendingMu.Lock()
		n := len(tr.pending)
		tr.pendingMu.Unlock()
		return n == capacity-1
	}, time.Second, time.Millisecond)
	require.Equal(t, uint32(1), tr.TxRing.FreeRequests())

	blocked := make(chan error, 1)
	go func() { blocked <- tr.WriteVectored(ctx, [][]byte{[]byte("one more"), []byte("fragment")}) }()

	select {
	case <-blocked:
		t.Fatal("write_vectored returned before any headroom was freed")
	case <-time.After(50 * time.Millisecond):
	}

	// Ack exactly one outstanding request; that alone must free enough
	// headroom (free_requests()+1 == 2) to unblock the vectored send,
	// once the peer signals the event channel as it does after
	// responding.
	drained, _ := ph.txBack.DrainOne(ph.handleTxRequest)
	require.True(t, drained)
	tr.ReapTxCompletions()
	require.NoError(t, tr.Events.Notify(tr.EvtchnPort))

	require.Eventually(t, func() bool {
		select {
		case err := <-blocked:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

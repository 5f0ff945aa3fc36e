package netfront

import (
	"encoding/binary"
	"sync"

	"github.com/jcorbin/go-netfront/internal/constants"
	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/ring"
)

// MockPeer plays the back-end side of the protocol for loopback tests.
// The real back-end is an external collaborator out of scope for this
// driver, so MockPeer speaks just enough of the wire format to drive
// one: it decodes TX requests, reassembles MORE_DATA fragment groups,
// and — when Echo is set — redelivers completed frames through the RX
// ring as soon as a posted buffer is available to receive them.
//
// Unlike a real back-end, MockPeer resolves a grant reference to its
// backing page by asking the RecordingTable directly rather than
// mapping foreign memory, and reads a TX fragment's exact length from
// the Page's own Frame view rather than trusting the wire size field
// (whose first-fragment value is the group total, not that fragment's
// length). Both shortcuts are only available because
// the peer runs in the same process as the driver it is testing.
type MockPeer struct {
	rx *ring.Back
	tx *ring.Back

	grants *grant.RecordingTable
	events evtchn.Handle
	port   evtchn.Port

	// Echo controls whether a completed TX frame is queued for
	// redelivery through the RX ring. Tests that only care about TX
	// acknowledgement can leave it false.
	Echo bool

	mu         sync.Mutex
	txAssembly []byte
	deliveries [][]byte
	Received   [][]byte // every frame MockPeer has fully reassembled from TX, in order
}

// NewMockPeer wraps the RX and TX ring pages a Transport was
// constructed over, viewed from the opposite side. grants must be the
// same RecordingTable the Transport's Deps used, so refs the driver
// granted resolve to the pages it actually populated.
func NewMockPeer(rxPage, txPage *page.Page, grants *grant.RecordingTable, events evtchn.Handle, port evtchn.Port) *MockPeer {
	return &MockPeer{
		rx:     ring.NewBack(rxPage, constants.RxSlotSize),
		tx:     ring.NewBack(txPage, constants.TxSlotSize),
		grants: grants,
		events: events,
		port:   port,
	}
}

// Pump drains whatever TX requests and deliverable RX buffers are
// currently pending, notifying the front end once if anything it did
// crossed an event threshold. It returns the number of TX requests and
// RX deliveries it processed, so tests can assert on progress made per
// call.
func (p *MockPeer) Pump() (txProcessed, rxProcessed int) {
	var notify bool

	for {
		drained, n := p.tx.DrainOne(p.handleTxRequest)
		if !drained {
			break
		}
		txProcessed++
		notify = notify || n
	}

	for p.hasDelivery() {
		drained, n := p.rx.DrainOne(p.handleRxRequest)
		if !drained {
			break
		}
		rxProcessed++
		notify = notify || n
	}

	if notify {
		_ = p.events.Notify(p.port)
	}
	return txProcessed, rxProcessed
}

func (p *MockPeer) hasDelivery() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deliveries) > 0
}

// handleTxRequest decodes one TX request in place, reassembles it into
// the current fragment group, and overwrites the slot with the
// matching TX response. Every fragment is acknowledged as it is
// consumed regardless of group completion; only a completed group is
// appended to Received (and, if Echo, queued for RX delivery).
func (p *MockPeer) handleTxRequest(slot []byte) {
	gref := binary.LittleEndian.Uint32(slot[0:4])
	flags := binary.LittleEndian.Uint16(slot[6:8])
	id := binary.LittleEndian.Uint16(slot[8:10])

	pg, ok := p.grants.Lookup(grant.Ref(gref))
	if ok {
		p.mu.Lock()
		p.txAssembly = append(p.txAssembly, pg.Frame()...)
		if wireflag(flags)&moreData == 0 {
			full := p.txAssembly
			p.txAssembly = nil
			p.Received = append(p.Received, full)
			if p.Echo {
				p.deliveries = append(p.deliveries, full)
			}
		}
		p.mu.Unlock()
	}

	binary.LittleEndian.PutUint16(slot[0:2], id)
	binary.LittleEndian.PutUint16(slot[2:4], 1) // status: success
}

// handleRxRequest decodes one posted RX buffer, fills it with the
// oldest queued delivery, and overwrites the slot with the matching RX
// response (offset 0, flags 0, status = frame length).
func (p *MockPeer) handleRxRequest(slot []byte) {
	gref := binary.LittleEndian.Uint32(slot[4:8])
	id := binary.LittleEndian.Uint16(slot[0:2])

	p.mu.Lock()
	frame := p.deliveries[0]
	p.deliveries = p.deliveries[1:]
	p.mu.Unlock()

	if pg, ok := p.grants.Lookup(grant.Ref(gref)); ok {
		copy(pg.Bytes(), frame)
	}

	binary.LittleEndian.PutUint16(slot[0:2], id)
	binary.LittleEndian.PutUint16(slot[2:4], 0)
	binary.LittleEndian.PutUint16(slot[4:6], 0)
	binary.LittleEndian.PutUint16(slot[6:8], uint16(int16(len(frame))))
}

type wireflag = uint16

const moreData wireflag = 1 << 2 // mirrors wire.TxFlagMoreData

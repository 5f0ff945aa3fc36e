// Package ring implements the front side of the shared-memory
// producer/consumer ring: index discipline over a shared page, with no
// opinion about what the slots mean (the wire package encodes and
// decodes their contents).
//
// The four indices (req_prod, req_event, rsp_prod, rsp_event) live in
// a small header at the start of the page and are mutated from both
// domains, so every access goes through atomic loads/stores on the
// raw page bytes rather than plain field reads — the same discipline
// the teacher uses for kernel-shared descriptors in
// internal/queue/runner.go's loadDescriptor.
package ring

import (
	"sync/atomic"
	"unsafe"

	"github.com/jcorbin/go-netfront/internal/constants"
	"github.com/jcorbin/go-netfront/internal/page"
)

const (
	offReqProd  = 0
	offReqEvent = 4
	offRspProd  = 8
	offRspEvent = 12
)

// Front is the front-side (our side) view of one direction of a
// shared ring: either the RX ring (we are the request producer, the
// peer the response producer) or the TX ring (same roles, different
// record shapes). Both directions use this identical index discipline;
// only the slot size and count differ.
type Front struct {
	page     *page.Page
	slotSize int
	nSlots   uint32

	reqProdPvt uint32 // local producer cursor, not yet published
	rspCons    uint32 // local consumer cursor
}

// NewFront lays out a fresh ring over p using the given slot size. The
// page is zeroed by the allocator, so both producer indices start at
// zero; req_event and rsp_event are set to 1, as Xen's SHARED_RING_INIT
// does, so the first request published and the first response
// produced each cross their threshold and call for a notification.
func NewFront(p *page.Page, slotSize int) *Front {
	f := &Front{page: p, slotSize: slotSize, nSlots: nSlotsFor(slotSize)}
	atomic.StoreUint32(u32At(f.header(), offReqEvent), 1)
	f.storeRspEvent(1)
	return f
}

// nSlotsFor returns the number of slots a ring with the given record
// size holds: the number that fit in the page after the header,
// rounded *down* to a power of two, mirroring real Xen's __RING_SIZE.
// Slot indexing is id % nSlots, and that only aliases consistently
// across a ring generation's full 16-bit id space when nSlots divides
// 65536, which a non-power-of-two slot count would not.
func nSlotsFor(slotSize int) uint32 {
	return floorPow2(uint32((constants.PageSize - constants.RingHeaderSize) / slotSize))
}

func floorPow2(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	p := uint32(1)
	for p<<1 <= n {
		p <<= 1
	}
	return p
}

func (f *Front) header() []byte { return f.page.Bytes()[:constants.RingHeaderSize] }

func u32At(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func (f *Front) loadReqProd() uint32    { return atomic.LoadUint32(u32At(f.header(), offReqProd)) }
func (f *Front) storeReqProd(v uint32)  { atomic.StoreUint32(u32At(f.header(), offReqProd), v) }
func (f *Front) loadReqEvent() uint32   { return atomic.LoadUint32(u32At(f.header(), offReqEvent)) }
func (f *Front) loadRspProd() uint32    { return atomic.LoadUint32(u32At(f.header(), offRspProd)) }
func (f *Front) storeRspEvent(v uint32) { atomic.StoreUint32(u32At(f.header(), offRspEvent), v) }

// NSlots reports the ring's slot capacity.
func (f *Front) NSlots() uint32 { return f.nSlots }

// FreeRequests reports producer headroom: how many more requests can
// be queued before the ring is full from the front's perspective.
func (f *Front) FreeRequests() uint32 {
	return f.nSlots - (f.reqProdPvt - f.rspCons)
}

// NextReqID advances the local producer cursor and returns the
// previous value, truncated to 16 bits the way a grant reference is
// truncated into a request id elsewhere in the driver.
func (f *Front) NextReqID() uint16 {
	id := uint16(f.reqProdPvt)
	f.reqProdPvt++
	return id
}

// Slot returns the byte view into the shared page for ring index id.
// Request and response records for the same index alias the same
// bytes — exactly one is meaningful at a time, depending on whether
// the index lies before or after the two production cursors.
func (f *Front) Slot(id uint16) []byte {
	idx := uint32(id) & (f.nSlots - 1)
	start := constants.RingHeaderSize + int(idx)*f.slotSize
	return f.page.Bytes()[start : start+f.slotSize]
}

// PushAndCheckNotify publishes the local producer cursor and reports
// whether the peer's event threshold requires a notification,
// following the standard split-index ring macro: compare how far
// req_prod advanced past req_event against how far it advanced since
// the last publish, using wraparound-safe signed arithmetic.
func (f *Front) PushAndCheckNotify() bool {
	old := f.loadReqProd()
	newProd := f.reqProdPvt
	f.storeReqProd(newProd)

	reqEvent := f.loadReqEvent()
	return int32(newProd-reqEvent) < int32(newProd-old)
}

// AckResponses invokes fn for each unread response slot since the
// local consumer cursor, then advances that cursor to the currently
// published producer index. It also republishes rsp_event one past
// the new cursor so the peer knows where our next notification
// threshold is — the standard hygiene a ring consumer performs after
// draining, though spec.md's property tests only exercise the request
// side of this macro pair.
func (f *Front) AckResponses(fn func(slot []byte)) {
	prod := f.loadRspProd()
	for f.rspCons != prod {
		fn(f.Slot(uint16(f.rspCons)))
		f.rspCons++
	}
	f.storeRspEvent(f.rspCons + 1)
}

// Page exposes the underlying shared page, for wiring into the grant
// table when the ring is first published.
func (f *Front) Page() *page.Page { return f.page }

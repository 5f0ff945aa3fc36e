package ring

import (
	"sync/atomic"

	"github.com/jcorbin/go-netfront/internal/constants"
	"github.com/jcorbin/go-netfront/internal/page"
)

// Back is the peer-side view of the same shared ring Front addresses.
// The driver itself never constructs one — the back-end collaborator
// is external (spec.md scopes it out) — but the loopback test peer
// needs to play that side to exercise the front end, the same way the
// real Xen headers define front_ring.h and back_ring.h as separate
// macro sets over one shared layout.
type Back struct {
	page      *page.Page
	slotSize  int
	nSlots    uint32
	processed uint32 // requests consumed == responses produced
}

// NewBack wraps the same page a Front was constructed over.
func NewBack(p *page.Page, slotSize int) *Back {
	return &Back{page: p, slotSize: slotSize, nSlots: nSlotsFor(slotSize)}
}

func (b *Back) header() []byte { return b.page.Bytes()[:constants.RingHeaderSize] }

func (b *Back) loadReqProd() uint32  { return atomic.LoadUint32(u32At(b.header(), offReqProd)) }
func (b *Back) loadRspEvent() uint32 { return atomic.LoadUint32(u32At(b.header(), offRspEvent)) }
func (b *Back) storeRspProd(v uint32) {
	atomic.StoreUint32(u32At(b.header(), offRspProd), v)
}

// Pending reports how many published requests have not yet been
// processed into a response.
func (b *Back) Pending() uint32 { return b.loadReqProd() - b.processed }

// Slot returns the same byte view Front.Slot would for this index.
func (b *Back) Slot(id uint32) []byte {
	idx := id & (b.nSlots - 1)
	start := constants.RingHeaderSize + int(idx)*b.slotSize
	return b.page.Bytes()[start : start+b.slotSize]
}

// DrainOne processes exactly one pending request slot if one is
// available, letting fn overwrite it in place with the response
// record, and reports whether it did so along with whether the
// front's rsp_event threshold now requires a notification. It exists
// alongside the bulk DrainRequests for peers that need to interleave
// request consumption with other work item-by-item, such as matching
// a freshly filled RX buffer to a frame as it becomes available
// rather than draining the whole ring eagerly.
func (b *Back) DrainOne(fn func(slot []byte)) (drained bool, notify bool) {
	if b.Pending() == 0 {
		return false, false
	}
	old := b.processed
	fn(b.Slot(b.processed))
	b.processed++
	b.storeRspProd(b.processed)

	rspEvent := b.loadRspEvent()
	return true, int32(b.processed-rspEvent) < int32(b.processed-old)
}

// DrainRequests invokes fn once per pending request slot, in order,
// letting fn overwrite the slot in place with the matching response
// record (request and response share storage per index). It then
// publishes the new response producer index and reports whether the
// front's rsp_event threshold requires a notification.
func (b *Back) DrainRequests(fn func(slot []byte)) bool {
	old := b.processed
	for b.Pending() > 0 {
		fn(b.Slot(b.processed))
		b.processed++
	}
	newProd := b.processed
	b.storeRspProd(newProd)

	rspEvent := b.loadRspEvent()
	return int32(newProd-rspEvent) < int32(newProd-old)
}

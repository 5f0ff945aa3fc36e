package transport

import (
	"fmt"

	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/wire"
)

// Refill posts fresh RX buffers to fill whatever headroom the RX ring
// currently reports (spec §4.5 refill). A grant allocation failure
// aborts this cycle only; the reactor retries it on the next event.
func (t *Transport) Refill() error {
	n := t.RxRing.FreeRequests()
	if n == 0 {
		return nil
	}

	refs, err := t.Grants.GetN(int(n))
	if err != nil {
		return fmt.Errorf("acquire rx grants: %w", err)
	}
	pages, err := t.Pages.Get(int(n))
	if err != nil {
		return fmt.Errorf("allocate rx pages: %w", err)
	}

	for i := range refs {
		ref, p := refs[i], pages[i]
		if err := t.Grants.GrantAccess(ref, t.BackendDomid, true, p); err != nil {
			return fmt.Errorf("grant rx page: %w", err)
		}
		id := grant.IDFor(ref)
		if err := t.RxMap.Insert(id, ref, p); err != nil {
			return fmt.Errorf("%w", err)
		}
		slotIdx := t.RxRing.NextReqID()
		wire.EncodeRxReq(id, uint32(ref), t.RxRing.Slot(slotIdx))
	}

	if t.RxRing.PushAndCheckNotify() {
		if err := t.Events.Notify(t.EvtchnPort); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return nil
}

// RxDrain consumes every published RX response, releasing its grant
// and dispatching filled frames to fn in ring order (spec §4.5
// rx_drain, spec §5). fn is called synchronously from the AckResponses
// visitor so ordering is preserved; "without blocking the reactor"
// means fn itself must not do heavy work, not that the driver
// offloads it. An error fn returns, or a panic it raises, is logged
// and swallowed so a misbehaving callback cannot stall the reactor or
// crash the process.
func (t *Transport) RxDrain(fn func(frame []byte) error) {
	t.RxRing.AckResponses(func(slot []byte) {
		id, _, _, status := wire.DecodeRxResp(slot)

		entry, ok := t.RxMap.Remove(id)
		if !ok {
			t.logger.WithDevice(t.ID).Warn("rx response for unknown id", "id", id)
			return
		}
		_ = t.Grants.EndAccess(entry.Ref)
		_ = t.Grants.Put(entry.Ref)

		if status <= 0 {
			t.logger.WithDevice(t.ID).Warn("rx response error", "status", status)
			return
		}

		frame := make([]byte, status)
		copy(frame, entry.Page.Bytes()[:status])
		t.Stats.RecordRx(len(frame))

		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.WithDevice(t.ID).Error("rx callback panicked", "panic", r)
				}
			}()
			if err := fn(frame); err != nil {
				t.logger.WithDevice(t.ID).Error("rx callback failed", "err", err)
			}
		}()
	})
}

package transport

import (
	"context"
	"fmt"

	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/wire"
)

// Write sends a single frame with flags=0, pushes, notifies if
// required, and awaits the matching completion (spec §4.4 write).
func (t *Transport) Write(ctx context.Context, frame []byte) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()

	ch, err := t.submit(frame, uint16(len(frame)), 0)
	if err != nil {
		return err
	}
	if t.TxRing.PushAndCheckNotify() {
		if err := t.Events.Notify(t.EvtchnPort); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteVectored sends frames as one fragment group under a single
// ring publish and notification (spec §4.4 write_vectored). It
// returns once every fragment has been placed on the ring; it does
// not await the fragments' completions before returning — see
// DESIGN.md for why this implementation picked throughput over
// in-mutex backpressure for the multi-fragment path.
func (t *Transport) WriteVectored(ctx context.Context, frames [][]byte) error {
	switch len(frames) {
	case 0:
		return nil
	case 1:
		return t.Write(ctx, frames[0])
	}

	t.txMu.Lock()
	defer t.txMu.Unlock()

	if err := t.waitForHeadroom(ctx, uint32(len(frames))); err != nil {
		return err
	}

	total := 0
	for _, f := range frames {
		total += len(f)
	}

	for i, f := range frames {
		flags := wire.TxFlagMoreData
		size := uint16(len(f))
		if i == 0 {
			size = uint16(total)
		}
		if i == len(frames)-1 {
			flags = 0
		}
		if _, err := t.submit(f, size, flags); err != nil {
			return err
		}
	}

	if t.TxRing.PushAndCheckNotify() {
		if err := t.Events.Notify(t.EvtchnPort); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return nil
}

// waitForHeadroom blocks until the TX ring has room for n more
// requests, rechecking between event-channel signals (spec §4.4).
func (t *Transport) waitForHeadroom(ctx context.Context, n uint32) error {
	var epoch uint64
	for t.TxRing.FreeRequests() < n {
		var err error
		epoch, err = t.Events.After(ctx, t.EvtchnPort, epoch)
		if err != nil {
			return err
		}
	}
	return nil
}

// submit implements write_request (spec §4.4 steps 1-5): it copies
// the frame into a freshly allocated page, grants that page read-only
// to the peer, encodes the request using the grant ref as the wire
// id, and registers a completion channel keyed by that id. It does
// not publish the ring or notify — callers batch that once per
// Write/WriteVectored call.
func (t *Transport) submit(frame []byte, size uint16, flags wire.TxFlag) (chan error, error) {
	pages, err := t.Pages.Get(1)
	if err != nil {
		return nil, fmt.Errorf("allocate tx page: %w", err)
	}
	p := pages[0]
	copy(p.Bytes(), frame)
	p.SetFrame(0, len(frame))

	ref, err := t.Grants.Get()
	if err != nil {
		return nil, fmt.Errorf("acquire tx grant: %w", err)
	}
	if err := t.Grants.GrantAccess(ref, t.BackendDomid, false, p); err != nil {
		return nil, fmt.Errorf("grant tx page: %w", err)
	}

	id := grant.IDFor(ref)
	slotIdx := t.TxRing.NextReqID()
	wire.EncodeTxReq(id, uint32(ref), 0, flags, size, t.TxRing.Slot(slotIdx))

	t.Stats.RecordTx(len(frame))

	ch := make(chan error, 1)
	t.pendingMu.Lock()
	t.pending[id] = txPending{ch: ch, ref: ref}
	t.pendingMu.Unlock()

	return ch, nil
}

// ReapTxCompletions drains the TX response ring, resolving each
// pending completion in the order the back-end wrote responses
// (spec §4.6 step 3, §5 ordering guarantee). On a positive reply the
// grant is ended and released; on a negative one it is still ended
// and released before the error propagates to the waiter.
func (t *Transport) ReapTxCompletions() {
	t.TxRing.AckResponses(func(slot []byte) {
		id, status := wire.DecodeTxResp(slot)

		t.pendingMu.Lock()
		p, ok := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if !ok {
			return
		}

		var err error
		if status <= 0 {
			err = fmt.Errorf("transport: tx response status %d", status)
		}
		_ = t.Grants.EndAccess(p.ref)
		_ = t.Grants.Put(p.ref)
		p.ch <- err
		close(p.ch)
	})
}

package transport

import "context"

// Listen runs the reactor loop (spec §4.6): refill, drain RX, reap TX
// completions, then suspend until the event channel signals from
// either direction. It returns only when ctx is canceled (disconnect)
// or the event channel itself errors.
func (t *Transport) Listen(ctx context.Context, fn func(frame []byte) error) error {
	var epoch uint64
	for {
		if err := t.Refill(); err != nil {
			t.logger.WithDevice(t.ID).Error("refill failed", "err", err)
		}
		t.RxDrain(fn)
		t.ReapTxCompletions()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		newEpoch, err := t.Events.After(ctx, t.EvtchnPort, epoch)
		if err != nil {
			return err
		}
		epoch = newEpoch
	}
}

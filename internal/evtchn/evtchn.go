// Package evtchn models the inter-domain event-channel collaborator:
// edge-triggered signals bound to a peer domain, used to wake the
// reactor and to notify the peer after publishing ring state.
package evtchn

import "context"

// Port identifies a bound event channel.
type Port uint32

// Handle is the event-channel service collaborator (spec §6).
type Handle interface {
	BindUnboundPort(domid uint16) (Port, error)
	Notify(p Port) error
	Unmask(p Port) error
	IsValid(p Port) bool
	ToInt(p Port) int

	// After resolves once a signal has been observed strictly after
	// epoch, returning the new epoch. The signal may originate from
	// either direction of traffic on the channel.
	After(ctx context.Context, p Port, epoch uint64) (uint64, error)

	// Close releases the handle's resources.
	Close() error
}

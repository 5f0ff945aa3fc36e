// Package constants holds shared sizing and timing constants for the
// netfront driver.
package constants

import "time"

// Ring sizing. The front side allocates exactly one page per ring; the
// number of slots it holds depends on the per-direction slot size.
const (
	// PageSize is the platform page size assumed for shared ring and
	// buffer pages. Xen guests are always 4K-page x86/arm; this is not
	// read from the runtime page size the way a general mmap size would
	// be, because the ring layout is part of the wire contract with the
	// peer.
	PageSize = 4096

	// RxSlotSize is the max of the RX request (8 bytes) and response
	// (8 bytes) record sizes.
	RxSlotSize = 8

	// TxSlotSize is the max of the TX request (12 bytes) and response
	// (4 bytes) record sizes.
	TxSlotSize = 12

	// RingHeaderSize is the size, in bytes, of the shared producer/
	// consumer index header at the start of each ring page.
	RingHeaderSize = 64

	// RxRingSlots and TxRingSlots are the number of slots each ring
	// holds. Real Xen rings (__RING_SIZE) round the slots that fit after
	// the header *down* to a power of two, not just down to however many
	// fit: Front.Slot indexes with id % nSlots, and that only aliases
	// cleanly across a ring generation's full uint16 id space (65536
	// requests) when nSlots divides 65536. (4096-64)/8 = 504 and
	// (4096-64)/12 = 336 both fit more slots than that, but the largest
	// power of two fitting in the 4032 bytes available after the header
	// is 256 for either slot size, so both rings hold 256 slots.
	RxRingSlots = 256
	TxRingSlots = 256
)

// DefaultBackendDomid is used only by in-process loopback tests that
// never talk to a real hypervisor.
const DefaultBackendDomid = 0

// Timing constants for the production xenbus client, which retries
// transient store failures with exponential backoff. Connect itself
// reads each key once and does not wait for keys to appear.
const (
	// StoreRetryInitialDelay is how long the xenbus client sleeps
	// before reading the xenbus device again after a read returned no
	// bytes.
	StoreRetryInitialDelay = 10 * time.Millisecond

	// StoreRetryMaxDelay, multiplied by ten, bounds the total time the
	// xenbus client spends retrying one request the store answers with
	// EAGAIN.
	StoreRetryMaxDelay = 500 * time.Millisecond

	// ConnectBackendTimeout bounds the total time the xenbus client
	// spends retrying TRANSACTION_START before a transaction fails.
	ConnectBackendTimeout = 5 * time.Second
)

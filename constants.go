package netfront

import "github.com/jcorbin/go-netfront/internal/constants"

// Re-exported sizing and timing constants, so callers configuring a
// Device don't need to import the internal package directly.
const (
	PageSize     = constants.PageSize
	RxRingSlots  = constants.RxRingSlots
	TxRingSlots  = constants.TxRingSlots
)

const DefaultBackendDomid = constants.DefaultBackendDomid

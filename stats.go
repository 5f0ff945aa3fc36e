package netfront

import "github.com/jcorbin/go-netfront/internal/transport"

// Stats and Snapshot are owned by the transport package, since they
// live inside Transport itself; these aliases let callers of the
// public API reference them without importing internal/transport.
type Stats = transport.Stats
type Snapshot = transport.Snapshot

// NewStats is re-exported for callers constructing a Stats outside of
// Connect (e.g. tests against a bare Transport).
var NewStats = transport.NewStats

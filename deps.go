package netfront

import "github.com/jcorbin/go-netfront/internal/transport"

// Deps bundles the external collaborators spec.md treats as out of
// scope for the core driver: the grant allocator, the event-channel
// service, the configuration store, and the page allocator. Connect
// takes one explicitly so tests can supply mocks and a host can
// supply the real Linux-backed implementations (see DefaultDeps on
// Linux builds).
type Deps = transport.Deps

// Features is the negotiated boolean feature set read during connect.
type Features = transport.Features

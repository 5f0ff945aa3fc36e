// Package netfront implements a paravirtualized network front-end
// driver: it exchanges Ethernet frames with a hypervisor-hosted
// back-end peer over shared-memory ring buffers, coordinated by
// inter-domain event channels and grant-table capabilities.
//
// A Device is a stable handle around a swappable Transport. Connect
// constructs and registers a Device for a virtual interface id;
// Listen runs its reactor; Write and WriteVectored submit frames;
// Disconnect and ResumeAll manage its lifecycle across host suspend
// and resume.
package netfront

// Package grant models the grant-table allocator collaborator and the
// per-device receive-buffer map (rx_map in spec terms) that associates
// pending request ids with the (GrantRef, Page) pair awaiting a fill.
package grant

import (
	"fmt"

	"github.com/jcorbin/go-netfront/internal/page"
)

// Ref is an opaque capability naming a page the peer domain may access.
// Its lifecycle is acquired -> granted(domid, rw) -> access-ended ->
// released; it must be access-ended before it is released.
type Ref uint32

// Table is the grant-table allocator collaborator (spec §6).
type Table interface {
	Get() (Ref, error)
	GetN(n int) ([]Ref, error)
	GrantAccess(ref Ref, domid uint16, writable bool, p *page.Page) error
	EndAccess(ref Ref) error
	Put(ref Ref) error
}

// Entry is what rx_map stores for each outstanding receive request.
type Entry struct {
	Ref  Ref
	Page *page.Page
}

// Map is the per-device receive-buffer map. It is mutated only by the
// device's reactor goroutine; concurrent readers (e.g. introspection)
// must accept an eventually-consistent view.
type Map struct {
	entries map[uint16]Entry
}

// NewMap returns an empty receive-buffer map.
func NewMap() *Map {
	return &Map{entries: make(map[uint16]Entry)}
}

// IDFor derives the 16-bit request id from a grant reference: id =
// gref mod 2^16. Collisions are impossible in practice because the
// allocator returns distinct refs and a device's outstanding grants
// never approach 2^16; if one is ever observed it is fatal, not
// silently overwritten (spec §4.3, §9).
func IDFor(ref Ref) uint16 { return uint16(uint32(ref)) }

// Insert adds a pending request. It returns an error if the derived id
// already has an entry, which spec.md treats as a fatal
// Unknown("rx id collision") condition rather than something to paper
// over.
func (m *Map) Insert(id uint16, ref Ref, p *page.Page) error {
	if _, exists := m.entries[id]; exists {
		return fmt.Errorf("rx id collision")
	}
	m.entries[id] = Entry{Ref: ref, Page: p}
	return nil
}

// Remove looks up and deletes the entry for id, reporting whether it
// was present. Every pending RX request id is present as a key until
// this is called exactly once for it (invariant 1).
func (m *Map) Remove(id uint16) (Entry, bool) {
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	return e, ok
}

// Len reports the number of pending entries.
func (m *Map) Len() int { return len(m.entries) }

// Entries returns a snapshot of the pending (id, Entry) pairs.
func (m *Map) Entries() map[uint16]Entry {
	out := make(map[uint16]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Clear drops every entry without touching the underlying grants; the
// caller is responsible for ending access and releasing them first.
func (m *Map) Clear() {
	m.entries = make(map[uint16]Entry)
}

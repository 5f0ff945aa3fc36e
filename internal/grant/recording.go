package grant

import (
	"sync"

	"github.com/jcorbin/go-netfront/internal/page"
)

// RecordingTable wraps another Table and remembers which Page each
// outstanding Ref was granted over, forgetting it once access ends.
// A real backend resolves a gref to memory by mapping it through
// gntdev; the in-process loopback test peer has no separate address
// space to map into, so it resolves the same way a single-process
// simulation of both sides must: by looking the page up here instead.
type RecordingTable struct {
	Table

	mu     sync.Mutex
	pages  map[Ref]*page.Page
}

// NewRecordingTable wraps inner.
func NewRecordingTable(inner Table) *RecordingTable {
	return &RecordingTable{Table: inner, pages: make(map[Ref]*page.Page)}
}

func (r *RecordingTable) GrantAccess(ref Ref, domid uint16, writable bool, p *page.Page) error {
	if err := r.Table.GrantAccess(ref, domid, writable, p); err != nil {
		return err
	}
	r.mu.Lock()
	r.pages[ref] = p
	r.mu.Unlock()
	return nil
}

func (r *RecordingTable) EndAccess(ref Ref) error {
	err := r.Table.EndAccess(ref)
	r.mu.Lock()
	delete(r.pages, ref)
	r.mu.Unlock()
	return err
}

// Lookup returns the page most recently granted for ref, if its
// access has not yet ended.
func (r *RecordingTable) Lookup(ref Ref) (*page.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[ref]
	return p, ok
}

var _ Table = (*RecordingTable)(nil)

package grant

import (
	"fmt"
	"sync"

	"github.com/jcorbin/go-netfront/internal/page"
)

// MockTable is an in-process Table for loopback tests. It hands out
// monotonically increasing refs and tracks the acquired/granted/ended
// state transitions so tests can assert the invariants in spec.md §8:
// every acquired ref is access-ended and released exactly once.
type MockTable struct {
	mu       sync.Mutex
	next     Ref
	granted  map[Ref]bool // true once GrantAccess called, false after EndAccess
	acquired map[Ref]bool

	GrantAccessCalls int
	EndAccessCalls   int
	PutCalls         int
}

// NewMockTable returns an empty mock grant table.
func NewMockTable() *MockTable {
	return &MockTable{
		granted:  make(map[Ref]bool),
		acquired: make(map[Ref]bool),
	}
}

func (t *MockTable) Get() (Ref, error) {
	refs, err := t.GetN(1)
	if err != nil {
		return 0, err
	}
	return refs[0], nil
}

func (t *MockTable) GetN(n int) ([]Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	refs := make([]Ref, n)
	for i := range refs {
		t.next++
		refs[i] = t.next
		t.acquired[refs[i]] = true
	}
	return refs, nil
}

func (t *MockTable) GrantAccess(ref Ref, domid uint16, writable bool, p *page.Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.acquired[ref] {
		return fmt.Errorf("grant: GrantAccess on unacquired ref %d", ref)
	}
	t.granted[ref] = true
	t.GrantAccessCalls++
	return nil
}

func (t *MockTable) EndAccess(ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.granted[ref] {
		return fmt.Errorf("grant: EndAccess on ref %d that was never granted", ref)
	}
	delete(t.granted, ref)
	t.EndAccessCalls++
	return nil
}

func (t *MockTable) Put(ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.acquired[ref] {
		return fmt.Errorf("grant: Put on unacquired ref %d", ref)
	}
	if t.granted[ref] {
		return fmt.Errorf("grant: Put on ref %d before EndAccess", ref)
	}
	delete(t.acquired, ref)
	t.PutCalls++
	return nil
}

// Outstanding reports how many acquired refs have not yet been put
// back; a quiescent device must show zero.
func (t *MockTable) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.acquired)
}

var _ Table = (*MockTable)(nil)

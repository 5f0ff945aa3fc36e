// Package page provides the page-allocator collaborator: page-aligned
// buffers shared with the back-end via the grant mechanism.
package page

import "github.com/jcorbin/go-netfront/internal/constants"

// Page is a page-sized buffer with a byte offset and logical length
// carved out of it for the current frame view.
type Page struct {
	buf    []byte
	Offset int
	Length int
}

// Bytes returns the full page-sized backing buffer.
func (p *Page) Bytes() []byte { return p.buf }

// Frame returns the logical frame view: buf[Offset : Offset+Length].
func (p *Page) Frame() []byte { return p.buf[p.Offset : p.Offset+p.Length] }

// SetFrame resets the logical view after a refill or TX grant.
func (p *Page) SetFrame(offset, length int) {
	p.Offset = offset
	p.Length = length
}

// Allocator hands out page-aligned buffers. Production code backs this
// with anonymous mmap so pages can be handed to the grant table by
// address; tests use a heap-backed allocator since no real grant
// mapping occurs.
type Allocator interface {
	Get(n int) ([]*Page, error)
}

// HeapAllocator satisfies Allocator with ordinary Go-heap byte slices.
// It is the allocator used by loopback tests and by any build that has
// no access to /dev/xen devices.
type HeapAllocator struct{}

// Get returns n freshly allocated, zeroed pages.
func (HeapAllocator) Get(n int) ([]*Page, error) {
	pages := make([]*Page, n)
	for i := range pages {
		pages[i] = &Page{buf: make([]byte, constants.PageSize)}
	}
	return pages, nil
}

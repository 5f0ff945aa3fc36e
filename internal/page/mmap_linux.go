//go:build linux

package page

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/jcorbin/go-netfront/internal/constants"
)

// MmapAllocator backs pages with anonymous private mmap regions, one
// region per page, so each Page's address can be handed to the grant
// table independently.
type MmapAllocator struct{}

// Get returns n freshly mmap'd, page-aligned, zeroed buffers.
func (MmapAllocator) Get(n int) ([]*Page, error) {
	pages := make([]*Page, 0, n)
	for i := 0; i < n; i++ {
		buf, err := unix.Mmap(-1, 0, constants.PageSize,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			for _, p := range pages {
				_ = unix.Munmap(p.buf)
			}
			return nil, fmt.Errorf("page: mmap failed: %w", err)
		}
		pages = append(pages, &Page{buf: buf})
	}
	return pages, nil
}

// Free unmaps a page previously returned by Get. It is not part of the
// Allocator interface because the driver never frees individual ring or
// grant pages before device teardown; callers that do want to release
// memory early may still call it directly.
func Free(p *Page) error {
	return unix.Munmap(p.buf)
}

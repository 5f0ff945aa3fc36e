//go:build linux

package netfront

import (
	"fmt"

	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

// DefaultDeps wires the real Linux-backed collaborators: grant
// references via /dev/xen/gntalloc, event channels via
// /dev/xen/evtchn, the configuration store via /dev/xen/xenbus, and
// anonymous-mmap pages.
func DefaultDeps() (Deps, error) {
	grants, err := grant.NewGntAllocTable()
	if err != nil {
		return Deps{}, fmt.Errorf("netfront: open gntalloc: %w", err)
	}
	events, err := evtchn.NewRealHandle()
	if err != nil {
		return Deps{}, fmt.Errorf("netfront: open evtchn: %w", err)
	}
	store, err := xenbus.NewClient()
	if err != nil {
		return Deps{}, fmt.Errorf("netfront: open xenbus: %w", err)
	}
	return Deps{
		Grants: grants,
		Events: events,
		Store:  store,
		Pages:  page.MmapAllocator{},
	}, nil
}

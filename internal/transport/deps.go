package transport

import (
	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/logging"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

// Deps bundles the external collaborators spec.md §6 treats as out of
// scope for the core: the grant allocator, the event-channel service,
// the configuration store, and the page allocator.
type Deps struct {
	Grants grant.Table
	Events evtchn.Handle
	Store  xenbus.Store
	Pages  page.Allocator
	Logger *logging.Logger
}

func (d Deps) logger() *logging.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.Default()
}

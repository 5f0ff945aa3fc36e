package transport

import "errors"

// ErrShutdown is sent to every pending TX completion when the ring
// generation owning them is torn down by resume. The
// root package's single-frame Write retries once against a freshly
// resumed Transport when it observes this.
var ErrShutdown = errors.New("transport: ring shutdown")

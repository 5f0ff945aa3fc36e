// Package xenbus models the configuration-store collaborator: a
// hierarchical key-value service with transactions, used for the
// plug/connect handshake and feature negotiation (spec §4.7, §6).
package xenbus

import (
	"errors"
	"fmt"
)

// ErrNoEntry is returned by Read (and Tx.Read) when a key does not
// exist. Feature reads treat this as false rather than propagating an
// error (spec §7).
var ErrNoEntry = errors.New("xenbus: no such entry")

// Store is the configuration-store collaborator.
type Store interface {
	Read(path string) (string, error)
	Write(path, value string) error

	// Transaction runs fn against a transactional view and commits it
	// atomically. If fn returns an error, nothing committed by it is
	// visible afterward.
	Transaction(fn func(tx Tx) error) error
}

// Tx is a transactional view over a Store.
type Tx interface {
	Read(path string) (string, error)
	Write(path, value string) error
}

// ReadBool reads path and reports it as a boolean, treating a missing
// key as false rather than an error — the feature-negotiation policy
// in spec §4.7 step 6 and §7.
func ReadBool(s Store, path string) bool {
	v, err := s.Read(path)
	if err != nil {
		return false
	}
	return v == "1"
}

// Join builds a store path from segments, e.g. Join("device/vif", id,
// "backend-id").
func Join(segments ...string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out = out + "/" + s
	}
	return out
}

// DeviceState mirrors the standard xenbus device-state enumeration the
// driver writes during the handshake.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateInitialising
	StateInitWait
	StateInitialised
	StateConnected
	StateClosing
	StateClosed
	StateReconfiguring
	StateReconfigured
)

func (s DeviceState) String() string {
	switch s {
	case StateInitialising:
		return "1"
	case StateInitWait:
		return "2"
	case StateInitialised:
		return "3"
	case StateConnected:
		return "4"
	case StateClosing:
		return "5"
	case StateClosed:
		return "6"
	case StateReconfiguring:
		return "7"
	case StateReconfigured:
		return "8"
	default:
		return "0"
	}
}

// VifPath returns "device/vif/<id>/<leaf>".
func VifPath(id, leaf string) string {
	return fmt.Sprintf("device/vif/%s/%s", id, leaf)
}

package transport

import "github.com/jcorbin/go-netfront/internal/xenbus"

// Features holds the negotiated boolean feature bits read from the
// back-end's feature-* keys during plug (spec §4.7 step 6).
type Features struct {
	SG        bool
	GSOTCPv4  bool
	RXCopy    bool
	RXFlip    bool
	SmartPoll bool
}

// ReadFeatures reads every feature key under backendPath inside a
// single transaction; a missing key reads as false (spec §7).
func ReadFeatures(s xenbus.Store, backendPath string) (Features, error) {
	var f Features
	err := s.Transaction(func(tx xenbus.Tx) error {
		store := txStore{tx}
		f = Features{
			SG:        xenbus.ReadBool(store, xenbus.Join(backendPath, "feature-sg")),
			GSOTCPv4:  xenbus.ReadBool(store, xenbus.Join(backendPath, "feature-gso-tcpv4")),
			RXCopy:    xenbus.ReadBool(store, xenbus.Join(backendPath, "feature-rx-copy")),
			RXFlip:    xenbus.ReadBool(store, xenbus.Join(backendPath, "feature-rx-flip")),
			SmartPoll: xenbus.ReadBool(store, xenbus.Join(backendPath, "feature-smart-poll")),
		}
		return nil
	})
	return f, err
}

// String renders the negotiated set compactly, e.g. "sg,rx-copy".
func (f Features) String() string {
	names := []struct {
		on   bool
		name string
	}{
		{f.SG, "sg"},
		{f.GSOTCPv4, "gso-tcpv4"},
		{f.RXCopy, "rx-copy"},
		{f.RXFlip, "rx-flip"},
		{f.SmartPoll, "smart-poll"},
	}
	out := ""
	for _, n := range names {
		if !n.on {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// txStore adapts a Tx to the Store interface so ReadBool can be reused
// against a transactional view; Transaction is never called on it.
type txStore struct{ tx xenbus.Tx }

func (s txStore) Read(path string) (string, error)        { return s.tx.Read(path) }
func (s txStore) Write(path, value string) error          { return s.tx.Write(path, value) }
func (s txStore) Transaction(func(xenbus.Tx) error) error { panic("txStore: nested transaction") }

var _ xenbus.Store = txStore{}

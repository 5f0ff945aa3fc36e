package xenbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreReadWrite(t *testing.T) {
	s := NewMemStore()
	_, err := s.Read("device/vif/0/mac")
	assert.ErrorIs(t, err, ErrNoEntry)

	require.NoError(t, s.Write("device/vif/0/mac", "aa:bb:cc:dd:ee:ff"))
	v, err := s.Read("device/vif/0/mac")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", v)
}

func TestMemStoreTransactionCommits(t *testing.T) {
	s := NewMemStore()
	err := s.Transaction(func(tx Tx) error {
		if err := tx.Write("a", "1"); err != nil {
			return err
		}
		return tx.Write("b", "2")
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "1", snap["a"])
	assert.Equal(t, "2", snap["b"])
}

func TestMemStoreTransactionRollsBackOnError(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Write("a", "0"))

	err := s.Transaction(func(tx Tx) error {
		_ = tx.Write("a", "1")
		return assertError
	})
	assert.Error(t, err)

	v, _ := s.Read("a")
	assert.Equal(t, "0", v)
}

var assertError = errAborted{}

type errAborted struct{}

func (errAborted) Error() string { return "aborted" }

func TestReadBoolMissingIsFalse(t *testing.T) {
	s := NewMemStore()
	assert.False(t, ReadBool(s, "backend/feature-gso-tcpv4"))

	require.NoError(t, s.Write("backend/feature-gso-tcpv4", "1"))
	assert.True(t, ReadBool(s, "backend/feature-gso-tcpv4"))
}

func TestVifPath(t *testing.T) {
	assert.Equal(t, "device/vif/3/backend-id", VifPath("3", "backend-id"))
}

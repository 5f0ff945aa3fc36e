package grant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/go-netfront/internal/page"
)

func TestMapInsertRemove(t *testing.T) {
	m := NewMap()
	p := &page.Page{}
	require.NoError(t, m.Insert(5, Ref(100), p))
	assert.Equal(t, 1, m.Len())

	e, ok := m.Remove(5)
	assert.True(t, ok)
	assert.Equal(t, Ref(100), e.Ref)
	assert.Equal(t, 0, m.Len())

	_, ok = m.Remove(5)
	assert.False(t, ok)
}

func TestMapCollisionIsFatal(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Insert(5, Ref(100), &page.Page{}))
	err := m.Insert(5, Ref(200), &page.Page{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision")
}

func TestIDForWraps(t *testing.T) {
	assert.Equal(t, uint16(0), IDFor(Ref(1<<16)))
	assert.Equal(t, uint16(42), IDFor(Ref(42)))
}

func TestMockTableLifecycleBalance(t *testing.T) {
	tbl := NewMockTable()
	refs, err := tbl.GetN(4)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Outstanding())

	for _, r := range refs {
		require.NoError(t, tbl.GrantAccess(r, 0, true, &page.Page{}))
	}
	for _, r := range refs {
		require.NoError(t, tbl.EndAccess(r))
		require.NoError(t, tbl.Put(r))
	}
	assert.Equal(t, 0, tbl.Outstanding())
	assert.Equal(t, 4, tbl.GrantAccessCalls)
	assert.Equal(t, 4, tbl.EndAccessCalls)
	assert.Equal(t, 4, tbl.PutCalls)
}

func TestMockTablePutBeforeEndAccessFails(t *testing.T) {
	tbl := NewMockTable()
	ref, err := tbl.Get()
	require.NoError(t, err)
	require.NoError(t, tbl.GrantAccess(ref, 0, false, &page.Page{}))
	assert.Error(t, tbl.Put(ref))
}

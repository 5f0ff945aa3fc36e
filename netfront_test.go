package netfront

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/go-netfront/internal/evtchn"
	"github.com/jcorbin/go-netfront/internal/grant"
	"github.com/jcorbin/go-netfront/internal/page"
	"github.com/jcorbin/go-netfront/internal/xenbus"
)

func newTestDeviceDeps(t *testing.T, id int) Deps {
	t.Helper()
	store := xenbus.NewMemStore()
	idStr := strconv.Itoa(id)
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "backend-id"), "0"))
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "backend"), "backend/vif/"+idStr))
	require.NoError(t, store.Write(xenbus.VifPath(idStr, "mac"), "00:16:3e:00:00:0a"))

	return Deps{
		Grants: grant.NewRecordingTable(grant.NewMockTable()),
		Events: evtchn.NewMockHandle(),
		Store:  store,
		Pages:  page.HeapAllocator{},
	}
}

// echoPeer pumps a MockPeer until it has echoed every frame handed to
// it through Write, unblocking the caller's pending completions.
func echoPeer(t *testing.T, d *Device) *MockPeer {
	t.Helper()
	tr := d.currentTransport()
	mp := NewMockPeer(tr.RxRing.Page(), tr.TxRing.Page(), tr.Grants.(*grant.RecordingTable), tr.Events, tr.EvtchnPort)
	mp.Echo = true
	require.NoError(t, tr.Refill())
	return mp
}

func pumpUntil(t *testing.T, d *Device, mp *MockPeer, cond func() bool) {
	t.Helper()
	tr := d.currentTransport()
	require.Eventually(t, func() bool {
		mp.Pump()
		tr.ReapTxCompletions()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestConnectWriteRoundTrip(t *testing.T) {
	deps := newTestDeviceDeps(t, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := Connect(ctx, "100", deps)
	require.NoError(t, err)
	defer Disconnect(d)

	mp := echoPeer(t, d)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Write(ctx, []byte("ping")) }()
	pumpUntil(t, d, mp, func() bool {
		select {
		case err := <-errCh:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	})
}

func TestResumeSwapsTransportAndRunsHooksInOrder(t *testing.T) {
	deps := newTestDeviceDeps(t, 101)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := Connect(ctx, "101", deps)
	require.NoError(t, err)
	defer Disconnect(d)

	before := d.currentTransport()

	var order []int
	d.AddResumeHook(func(*Device) { order = append(order, 1) })
	d.AddResumeHook(func(*Device) { order = append(order, 2) })

	require.NoError(t, Resume(ctx, d))

	after := d.currentTransport()
	assert.NotSame(t, before, after)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, d.id, after.ID)
}

func TestWriteRetriesOnceAfterResumeShutsDownOldTransport(t *testing.T) {
	deps := newTestDeviceDeps(t, 102)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := Connect(ctx, "102", deps)
	require.NoError(t, err)
	defer Disconnect(d)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Write(ctx, []byte("stranded")) }()

	// Give the write a moment to land on the old transport before it
	// gets shut down out from under it.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, Resume(ctx, d))

	mp := echoPeer(t, d)

	pumpUntil(t, d, mp, func() bool {
		select {
		case err := <-errCh:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	})
}

func TestResumeAllResumesEveryRegisteredDevice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d1, err := Connect(ctx, "103", newTestDeviceDeps(t, 103))
	require.NoError(t, err)
	defer Disconnect(d1)
	d2, err := Connect(ctx, "104", newTestDeviceDeps(t, 104))
	require.NoError(t, err)
	defer Disconnect(d2)

	before1, before2 := d1.currentTransport(), d2.currentTransport()

	require.NoError(t, ResumeAll(ctx))

	assert.NotSame(t, before1, d1.currentTransport())
	assert.NotSame(t, before2, d2.currentTransport())
}

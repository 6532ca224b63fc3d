package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustConnection(t *testing.T, tenantID string) *Connection {
	t.Helper()

	conn, err := NewConnection(tenantID)
	require.NoError(t, err)

	return conn
}

func drainOne(t *testing.T, conn *Connection) []byte {
	t.Helper()

	select {
	case frame := <-conn.Frames():
		return frame
	default:
		t.Fatal("expected a pending frame")

		return nil
	}
}

func TestBroadcastDeliversIdenticalFrameToAllConnections(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)

	first := mustConnection(t, "store-1")
	second := mustConnection(t, "store-1")

	require.NoError(t, mgr.AddClient("store-1", first))
	require.NoError(t, mgr.AddClient("store-1", second))

	payload := map[string]string{"orderId": "42", "newStatus": "ready"}
	require.NoError(t, mgr.Broadcast(context.Background(), "store-1", "order.statusChanged", payload))

	frameA := drainOne(t, first)
	frameB := drainOne(t, second)

	assert.Equal(t, frameA, frameB)
	assert.Equal(t,
		"event: order.statusChanged\ndata: {\"newStatus\":\"ready\",\"orderId\":\"42\"}\n\n",
		string(frameA))
}

func TestBroadcastUnknownTenantIsNoOp(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)

	require.NoError(t, mgr.Broadcast(context.Background(), "nobody-home", "order.created", map[string]any{}))
}

func TestBroadcastFailedWriteDoesNotSuppressOthers(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)

	broken := mustConnection(t, "store-1")
	healthy := mustConnection(t, "store-1")

	require.NoError(t, mgr.AddClient("store-1", broken))
	require.NoError(t, mgr.AddClient("store-1", healthy))

	broken.Close()

	require.NoError(t, mgr.Broadcast(context.Background(), "store-1", "order.created", map[string]any{"n": 1}))

	assert.NotEmpty(t, drainOne(t, healthy), "healthy connection must still receive the frame")
	// The failing connection stays registered: removal is the transport's job.
	assert.Equal(t, 2, mgr.ClientCount("store-1"))
}

func TestBroadcastSaturatedConnectionFailsWrite(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)
	conn := mustConnection(t, "store-1")
	require.NoError(t, mgr.AddClient("store-1", conn))

	for i := range DefaultFrameBuffer {
		require.NoError(t, conn.Write([]byte(fmt.Sprintf("frame-%d", i))))
	}

	err := conn.Write([]byte("overflow"))
	require.ErrorIs(t, err, ErrConnectionSaturated)

	// Broadcast still succeeds overall; the saturated write is logged, not raised.
	require.NoError(t, mgr.Broadcast(context.Background(), "store-1", "order.created", map[string]any{}))
}

func TestAddClientRejectsTenantMismatch(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)
	conn := mustConnection(t, "store-1")

	require.ErrorIs(t, mgr.AddClient("store-2", conn), ErrTenantMismatch)
}

func TestRemoveClientCleansUpEmptyTenant(t *testing.T) {
	t.Parallel()

	mgr := NewManager(nil)

	first := mustConnection(t, "store-1")
	second := mustConnection(t, "store-1")

	require.NoError(t, mgr.AddClient("store-1", first))
	require.NoError(t, mgr.AddClient("store-1", second))
	require.Equal(t, 2, mgr.ClientCount("store-1"))

	mgr.RemoveClient("store-1", first)
	require.Equal(t, 1, mgr.ClientCount("store-1"))

	mgr.RemoveClient("store-1", second)
	require.Equal(t, 0, mgr.ClientCount("store-1"))

	// Removing from a now-unknown tenant is a no-op.
	mgr.RemoveClient("store-1", second)
}

func TestConnectionWriteAfterClose(t *testing.T) {
	t.Parallel()

	conn := mustConnection(t, "store-1")
	conn.Close()
	conn.Close() // idempotent

	require.ErrorIs(t, conn.Write([]byte("late")), ErrConnectionClosed)
}

func TestNewConnectionRequiresTenant(t *testing.T) {
	t.Parallel()

	_, err := NewConnection("  ")
	require.ErrorIs(t, err, ErrTenantRequired)
}

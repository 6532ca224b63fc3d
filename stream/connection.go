package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrManagerRequired     = errors.New("fan-out manager is required")
	ErrEventNameRequired   = errors.New("event name is required")
	ErrTenantRequired      = errors.New("tenant id is required")
	ErrConnectionRequired  = errors.New("stream connection is required")
	ErrConnectionClosed    = errors.New("stream connection is closed")
	ErrConnectionSaturated = errors.New("stream connection buffer is full")
	ErrTenantMismatch      = errors.New("connection belongs to a different tenant")
)

// DefaultFrameBuffer bounds how many formatted frames a connection may hold
// before writes to it start failing. A slow consumer fails fast instead of
// growing memory without bound.
const DefaultFrameBuffer = 64

// Connection is a tenant-bound writable handle for one live client. It
// belongs to exactly one tenant for its whole lifetime.
type Connection struct {
	tenantID  string
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a connection handle for tenantID with the default
// frame buffer.
func NewConnection(tenantID string) (*Connection, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	return &Connection{
		tenantID: tenantID,
		frames:   make(chan []byte, DefaultFrameBuffer),
		closed:   make(chan struct{}),
	}, nil
}

// TenantID returns the tenant the connection belongs to.
func (conn *Connection) TenantID() string {
	if conn == nil {
		return ""
	}

	return conn.tenantID
}

// Write enqueues one formatted frame for the transport goroutine. It fails
// when the connection is closed or its buffer is saturated; it never blocks.
func (conn *Connection) Write(frame []byte) error {
	if conn == nil {
		return ErrConnectionRequired
	}

	select {
	case <-conn.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case conn.frames <- frame:
		return nil
	case <-conn.closed:
		return ErrConnectionClosed
	default:
		return fmt.Errorf("%w: %d frames pending", ErrConnectionSaturated, len(conn.frames))
	}
}

// Frames exposes the pending frame stream to the transport goroutine.
func (conn *Connection) Frames() <-chan []byte {
	if conn == nil {
		return nil
	}

	return conn.frames
}

// Close marks the connection closed. Idempotent.
func (conn *Connection) Close() {
	if conn == nil {
		return
	}

	conn.closeOnce.Do(func() { close(conn.closed) })
}

// Done is closed when the connection has been closed.
func (conn *Connection) Done() <-chan struct{} {
	if conn == nil {
		return nil
	}

	return conn.closed
}

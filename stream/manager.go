package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"

	"github.com/ovenworks/bakeops/internal/nilcheck"
)

// Manager is the process-wide registry of live connections, keyed by tenant.
// It is constructed at boot and injected into whatever reacts to events;
// add/remove/broadcast are safe under concurrent use.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]map[*Connection]struct{}
	logger  libLog.Logger
}

// NewManager creates an empty fan-out registry.
func NewManager(logger libLog.Logger) *Manager {
	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return &Manager{
		tenants: map[string]map[*Connection]struct{}{},
		logger:  logger,
	}
}

// AddClient registers conn under tenantID. The connection must have been
// created for that same tenant; the registry never holds a connection under
// two tenants.
func (mgr *Manager) AddClient(tenantID string, conn *Connection) error {
	if mgr == nil {
		return ErrManagerRequired
	}

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrTenantRequired
	}

	if conn == nil {
		return ErrConnectionRequired
	}

	if conn.TenantID() != tenantID {
		return fmt.Errorf("%w: connection is for %q", ErrTenantMismatch, conn.TenantID())
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.tenants[tenantID] == nil {
		mgr.tenants[tenantID] = map[*Connection]struct{}{}
	}

	mgr.tenants[tenantID][conn] = struct{}{}

	return nil
}

// RemoveClient removes conn from tenantID, dropping the tenant's entry
// entirely once its last connection is gone. Removing an unknown connection
// is a no-op: removal is only ever driven by the transport close path.
func (mgr *Manager) RemoveClient(tenantID string, conn *Connection) {
	if mgr == nil || conn == nil {
		return
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	conns, ok := mgr.tenants[tenantID]
	if !ok {
		return
	}

	delete(conns, conn)

	if len(conns) == 0 {
		delete(mgr.tenants, tenantID)
	}
}

// ClientCount reports how many connections are registered for tenantID.
func (mgr *Manager) ClientCount(tenantID string) int {
	if mgr == nil {
		return 0
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	return len(mgr.tenants[tenantID])
}

// Broadcast writes one formatted frame to every connection currently
// registered for tenantID. A write failure on one connection is logged and
// never suppresses delivery to the others, and never removes the failing
// connection. Broadcasting to a tenant with no connections is a no-op.
func (mgr *Manager) Broadcast(ctx context.Context, tenantID, eventName string, payload any) error {
	if mgr == nil {
		return ErrManagerRequired
	}

	if strings.TrimSpace(eventName) == "" {
		return ErrEventNameRequired
	}

	frame, err := FormatFrame(eventName, payload)
	if err != nil {
		return err
	}

	for _, conn := range mgr.snapshot(tenantID) {
		if err := conn.Write(frame); err != nil {
			mgr.logger.Log(ctx, libLog.LevelWarn, "live fan-out write failed",
				libLog.String("tenant_id", tenantID),
				libLog.String("event", eventName),
				libLog.Err(err),
			)
		}
	}

	return nil
}

// snapshot copies the tenant's connection set so broadcasting happens outside
// the lock and never blocks connect/disconnect.
func (mgr *Manager) snapshot(tenantID string) []*Connection {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	conns := mgr.tenants[tenantID]
	if len(conns) == 0 {
		return nil
	}

	out := make([]*Connection, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}

	return out
}

// FormatFrame renders one server-sent-event frame:
//
//	event: <name>\ndata: <json-of-payload>\n\n
func FormatFrame(eventName string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode fan-out payload: %w", err)
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventName, data)), nil
}

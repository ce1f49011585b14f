// Package systemd reads the controller's own unit state over D-Bus.
package systemd

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DefaultUnit is the unit name the packaged service installs.
const DefaultUnit = "relaycast.service"

// Manager queries systemd units via D-Bus.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the system bus, falling back to the user bus for
// units installed with --user.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		conn, err = dbus.NewUserConnectionContext(ctx)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{conn: conn}, nil
}

// UnitState returns the unit's ActiveState, e.g. "active" or "failed".
func (m *Manager) UnitState(ctx context.Context, unit string) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	return strings.Trim(prop.Value.String(), `"`), nil
}

// Close closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// Package vebus exposes the state registry on D-Bus following the Victron
// service conventions: one object per path implementing the
// com.victronenergy.BusItem interface (GetValue, GetText, SetValue,
// PropertiesChanged).
package vebus

import (
	"fmt"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const busItemInterface = "com.victronenergy.BusItem"

// invalidValue is the wire representation of "no value": an empty int32
// array, per the Venus D-Bus API.
var invalidValue = dbus.MakeVariant([]int32{})

// Service owns one D-Bus connection and the exported BusItem objects. The
// registry stays the single source of truth; this layer only translates.
type Service struct {
	conn   *dbus.Conn
	reg    *registry.Registry
	name   string
	logger *zap.Logger
}

// Connect opens the requested bus ("system" or "session"), claims the
// service name and exports every registered path.
func Connect(bus, serviceName string, reg *registry.Registry, logger *zap.Logger) (*Service, error) {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("vebus: connect %s bus: %w", bus, err)
	}

	svc := &Service{
		conn:   conn,
		reg:    reg,
		name:   serviceName,
		logger: logger.With(zap.String("component", "vebus"), zap.String("service", serviceName)),
	}

	for _, path := range reg.Names() {
		item := &busItem{svc: svc, path: path}
		if err := conn.Export(item, dbus.ObjectPath(path), busItemInterface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("vebus: export %s: %w", path, err)
		}
	}

	reply, err := conn.RequestName(serviceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("vebus: request name %s: %w", serviceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("vebus: name %s already taken", serviceName)
	}

	svc.logger.Info("service registered on dbus")
	return svc, nil
}

// EmitChanges signals one committed batch, one PropertiesChanged per path, in
// the order the registry committed them.
func (s *Service) EmitChanges(changes []registry.Change) {
	for _, change := range changes {
		props := map[string]dbus.Variant{
			"Value": valueToVariant(change.Value),
			"Text":  dbus.MakeVariant(change.Text),
		}
		err := s.conn.Emit(dbus.ObjectPath(change.Name), busItemInterface+".PropertiesChanged", props)
		if err != nil {
			s.logger.Error("emit failed", zap.String("path", change.Name), zap.Error(err))
		}
	}
}

func (s *Service) Close() error {
	if _, err := s.conn.ReleaseName(s.name); err != nil {
		s.logger.Debug("release name failed", zap.Error(err))
	}
	return s.conn.Close()
}

type busItem struct {
	svc  *Service
	path string
}

func (i *busItem) GetValue() (dbus.Variant, *dbus.Error) {
	value, _, err := i.svc.reg.Read(i.path)
	if err != nil {
		return invalidValue, dbus.MakeFailedError(err)
	}
	return valueToVariant(value), nil
}

func (i *busItem) GetText() (string, *dbus.Error) {
	_, text, err := i.svc.reg.Read(i.path)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return text, nil
}

// SetValue is the externally writable entry point. Returns 0 on an accepted
// or silently rejected write, non-zero when the path refuses writes.
func (i *busItem) SetValue(value dbus.Variant) (int32, *dbus.Error) {
	if err := i.svc.reg.RequestWrite(i.path, value.Value()); err != nil {
		i.svc.logger.Debug("SetValue refused", zap.String("path", i.path), zap.Error(err))
		return -1, nil
	}
	return 0, nil
}

func valueToVariant(value any) dbus.Variant {
	if value == nil {
		return invalidValue
	}
	return dbus.MakeVariant(value)
}

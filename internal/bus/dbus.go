package bus

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busItemGetValue = "com.victronenergy.BusItem.GetValue"
	busItemSetValue = "com.victronenergy.BusItem.SetValue"
	nameHasOwner    = "org.freedesktop.DBus.NameHasOwner"
)

// dbusConn is the part of *dbus.Conn used by DBus.
type dbusConn interface {
	BusObject() dbus.BusObject
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// DBus talks to Victron BusItem objects over D-Bus.
// Not safe for concurrent use; the control loop is its only caller.
type DBus struct {
	conn     dbusConn
	services Services
	items    map[Channel]dbus.BusObject
	log      *zap.Logger
}

// DialDBus connects to the session bus when session is set or
// DBUS_SESSION_BUS_ADDRESS is present (development), otherwise to the
// system bus.
func DialDBus(services Services, session bool, log *zap.Logger) (*DBus, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if session || os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect dbus: %w", err)
	}
	return &DBus{
		conn:     conn,
		services: services,
		items:    make(map[Channel]dbus.BusObject),
		log:      log,
	}, nil
}

// item returns the cached handle for ch, creating it if the owning service
// is currently on the bus.
func (b *DBus) item(ch Channel) (dbus.BusObject, error) {
	if obj, ok := b.items[ch]; ok {
		return obj, nil
	}
	ep, err := b.services.Endpoint(ch)
	if err != nil {
		return nil, err
	}

	var owned bool
	if err := b.conn.BusObject().Call(nameHasOwner, 0, ep.Service).Store(&owned); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ep.Service, err)
	}
	if !owned {
		return nil, fmt.Errorf("%w: %s", ErrServiceMissing, ep)
	}

	b.log.Info("created bus item", zap.Stringer("channel", ch), zap.Stringer("endpoint", ep))
	obj := b.conn.Object(ep.Service, dbus.ObjectPath(ep.Path))
	b.items[ch] = obj
	return obj, nil
}

// drop discards a handle after a failed call so the next access recreates it.
func (b *DBus) drop(ch Channel) {
	delete(b.items, ch)
}

// Read calls GetValue on the channel's BusItem.
func (b *DBus) Read(ch Channel) (float64, error) {
	obj, err := b.item(ch)
	if err != nil {
		return 0, err
	}
	var v dbus.Variant
	if err := obj.Call(busItemGetValue, 0).Store(&v); err != nil {
		b.drop(ch)
		return 0, fmt.Errorf("get %s: %w", ch, err)
	}
	f, err := variantFloat(v.Value())
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", ch, err)
	}
	return f, nil
}

// Write calls SetValue on the channel's BusItem. A nonzero reply code is a
// rejected write.
func (b *DBus) Write(ch Channel, v int) error {
	obj, err := b.item(ch)
	if err != nil {
		return err
	}
	var rc int32
	if err := obj.Call(busItemSetValue, 0, dbus.MakeVariant(int32(v))).Store(&rc); err != nil {
		b.drop(ch)
		return fmt.Errorf("set %s=%d: %w", ch, v, err)
	}
	if rc != 0 {
		return fmt.Errorf("set %s=%d: rejected with code %d", ch, v, rc)
	}
	return nil
}

// Close closes the D-Bus connection.
func (b *DBus) Close() error {
	b.items = map[Channel]dbus.BusObject{}
	return b.conn.Close()
}

var errNotNumeric = errors.New("bus: value is not numeric")

// variantFloat unwraps a BusItem value. Victron publishes an empty array for
// an invalid value.
func variantFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, ErrNoValue
		}
		return x, nil
	case float32:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case byte:
		return float64(x), nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case dbus.Variant:
		return variantFloat(x.Value())
	case []interface{}:
		if len(x) == 0 {
			return 0, ErrNoValue
		}
	case nil:
		return 0, ErrNoValue
	}
	return 0, fmt.Errorf("%w: %T", errNotNumeric, v)
}

package bluez

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
)

const (
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties    = "org.freedesktop.DBus.Properties"
	ifaceService       = "org.bluez.GattService1"
	ifaceChar          = "org.bluez.GattCharacteristic1"
)

// requestForwarder turns a characteristic access into a core request and
// waits for the answer.
type requestForwarder interface {
	forwardRead(req peripheral.Request) (gatt.ATTError, []byte)
	forwardWrite(req peripheral.Request) gatt.ATTError
}

// characteristic is the exported GattCharacteristic1 object.
type characteristic struct {
	service uuid.UUID
	desc    gatt.CharacteristicDescriptor
	path    dbus.ObjectPath
	fwd     requestForwarder
}

// ReadValue answers org.bluez.GattCharacteristic1.ReadValue.
func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	if !c.desc.Readable() {
		return nil, attReply(gatt.ATTReadNotPermitted)
	}
	offset := optionOffset(options)

	if c.desc.IsStatic() {
		if offset > len(c.desc.Value) {
			return nil, attReply(gatt.ATTInvalidOffset)
		}
		return append([]byte{}, c.desc.Value[offset:]...), nil
	}

	status, value := c.fwd.forwardRead(peripheral.Request{
		Service:        c.service,
		Characteristic: c.desc.UUID,
		Central:        optionCentral(options),
		Offset:         offset,
	})
	if err := attReply(status); err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// WriteValue answers org.bluez.GattCharacteristic1.WriteValue.
func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if !c.desc.Writable() || c.desc.IsStatic() {
		return attReply(gatt.ATTWriteNotPermitted)
	}
	return attReply(c.fwd.forwardWrite(peripheral.Request{
		Service:        c.service,
		Characteristic: c.desc.UUID,
		Central:        optionCentral(options),
		Offset:         optionOffset(options),
		Value:          append([]byte(nil), value...),
	}))
}

// StartNotify is refused: values are never pushed to centrals.
func (c *characteristic) StartNotify() *dbus.Error {
	return attReply(gatt.ATTRequestNotSupported)
}

func (c *characteristic) StopNotify() *dbus.Error {
	return nil
}

// application is one GATT application holding a single primary service.
type application struct {
	root    dbus.ObjectPath
	desc    *gatt.ServiceDescriptor
	objects map[dbus.ObjectPath]prop.Map
	chars   []*characteristic
}

func newApplication(root dbus.ObjectPath, desc *gatt.ServiceDescriptor, fwd requestForwarder) *application {
	app := &application{
		root:    root,
		desc:    desc,
		objects: make(map[dbus.ObjectPath]prop.Map),
	}

	svcPath := root + "/service0"
	app.objects[svcPath] = prop.Map{
		ifaceService: {
			"UUID":    {Value: desc.UUID.String(), Emit: prop.EmitConst},
			"Primary": {Value: desc.Primary, Emit: prop.EmitConst},
		},
	}

	for i, cd := range desc.Characteristics {
		charPath := svcPath + dbus.ObjectPath(fmt.Sprintf("/char%d", i))
		app.objects[charPath] = prop.Map{
			ifaceChar: {
				"UUID":    {Value: cd.UUID.String(), Emit: prop.EmitConst},
				"Service": {Value: svcPath, Emit: prop.EmitConst},
				"Flags":   {Value: charFlags(cd), Emit: prop.EmitConst},
			},
		}
		app.chars = append(app.chars, &characteristic{
			service: desc.UUID,
			desc:    cd,
			path:    charPath,
			fwd:     fwd,
		})
	}
	return app
}

// GetManagedObjects answers org.freedesktop.DBus.ObjectManager.GetManagedObjects.
func (a *application) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return a.managedObjects(), nil
}

func (a *application) managedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(a.objects))
	for path, ifaces := range a.objects {
		out[path] = variants(ifaces)
	}
	return out
}

func variants(ifaces prop.Map) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(ifaces))
	for iface, props := range ifaces {
		m := make(map[string]dbus.Variant, len(props))
		for name, p := range props {
			m[name] = dbus.MakeVariant(p.Value)
		}
		out[iface] = m
	}
	return out
}

// export publishes the object tree on conn.
func (a *application) export(conn *dbus.Conn) error {
	for path, ifaces := range a.objects {
		if _, err := prop.Export(conn, path, ifaces); err != nil {
			return fmt.Errorf("export properties %s: %w", path, err)
		}
	}
	for _, c := range a.chars {
		if err := conn.Export(c, c.path, ifaceChar); err != nil {
			return fmt.Errorf("export characteristic %s: %w", c.path, err)
		}
	}
	if err := conn.Export(a, a.root, ifaceObjectManager); err != nil {
		return fmt.Errorf("export object manager %s: %w", a.root, err)
	}
	return nil
}

// unexport removes every object export installed.
func (a *application) unexport(conn *dbus.Conn) {
	for path := range a.objects {
		_ = conn.Export(nil, path, ifaceProperties)
	}
	for _, c := range a.chars {
		_ = conn.Export(nil, c.path, ifaceChar)
	}
	_ = conn.Export(nil, a.root, ifaceObjectManager)
}

// optionOffset reads the "offset" option BlueZ passes for long attributes.
func optionOffset(options map[string]dbus.Variant) int {
	v, ok := options["offset"]
	if !ok {
		return 0
	}
	switch o := v.Value().(type) {
	case uint16:
		return int(o)
	case uint32:
		return int(o)
	case int32:
		return int(o)
	default:
		return 0
	}
}

// optionCentral derives the central address from the "device" option,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF becomes AA:BB:CC:DD:EE:FF.
func optionCentral(options map[string]dbus.Variant) string {
	v, ok := options["device"]
	if !ok {
		return ""
	}
	path, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return ""
	}
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return s
	}
	return strings.ReplaceAll(s[idx+len("/dev_"):], "_", ":")
}

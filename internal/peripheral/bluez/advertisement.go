package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/srg/blimp/internal/gatt"
)

const ifaceAdvertisement = "org.bluez.LEAdvertisement1"

// advertisement is the exported LEAdvertisement1 object. BlueZ calls
// Release when it drops the advertisement on its own.
type advertisement struct {
	path      dbus.ObjectPath
	props     prop.Map
	onRelease func(*advertisement)
}

func newAdvertisement(path dbus.ObjectPath, adv *gatt.Advertisement, onRelease func(*advertisement)) *advertisement {
	uuids := adv.ServiceUUIDs()
	if uuids == nil {
		uuids = []string{}
	}
	props := map[string]*prop.Prop{
		"Type":         {Value: "peripheral", Emit: prop.EmitConst},
		"ServiceUUIDs": {Value: uuids, Emit: prop.EmitConst},
	}
	if name := adv.LocalName(); name != "" {
		props["LocalName"] = &prop.Prop{Value: name, Emit: prop.EmitConst}
	}
	return &advertisement{
		path:      path,
		props:     prop.Map{ifaceAdvertisement: props},
		onRelease: onRelease,
	}
}

// Release answers org.bluez.LEAdvertisement1.Release.
func (a *advertisement) Release() *dbus.Error {
	if a.onRelease != nil {
		a.onRelease(a)
	}
	return nil
}

func (a *advertisement) export(conn *dbus.Conn) error {
	if _, err := prop.Export(conn, a.path, a.props); err != nil {
		return err
	}
	return conn.Export(a, a.path, ifaceAdvertisement)
}

func (a *advertisement) unexport(conn *dbus.Conn) {
	_ = conn.Export(nil, a.path, ifaceProperties)
	_ = conn.Export(nil, a.path, ifaceAdvertisement)
}

package goble

import (
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
)

// ToBLEUUID converts to go-ble's byte-reversed UUID, keeping SIG 16-bit
// UUIDs in their short form.
func ToBLEUUID(u uuid.UUID) ble.UUID {
	if s := gatt.ShortUUID(u); len(s) == 4 {
		return ble.MustParse(s)
	}
	return ble.MustParse(u.String())
}

// FromBLEUUID converts a go-ble UUID, expanding short forms.
func FromBLEUUID(u ble.UUID) (uuid.UUID, error) {
	return gatt.ParseUUID(u.String())
}

// bleProperty keeps the Bluetooth Core characteristic properties bits,
// which go-ble and CBCharacteristicProperties share.
func bleProperty(c gatt.CapabilityFlags) ble.Property {
	var p ble.Property
	if c.Has(gatt.CapRead) {
		p |= ble.CharRead
	}
	if c.Has(gatt.CapWriteWithoutResponse) {
		p |= ble.CharWriteNR
	}
	if c.Has(gatt.CapWrite) {
		p |= ble.CharWrite
	}
	if c&(gatt.CapNotify|gatt.CapNotifyEncryptionRequired) != 0 {
		p |= ble.CharNotify
	}
	if c&(gatt.CapIndicate|gatt.CapIndicateEncryptionRequired) != 0 {
		p |= ble.CharIndicate
	}
	return p
}

// bleSecure marks the properties that need an encrypted link.
func bleSecure(c gatt.CapabilityFlags, p gatt.PermissionFlags) ble.Property {
	var s ble.Property
	if p.Has(gatt.PermReadEncryptionRequired) {
		s |= ble.CharRead
	}
	if p.Has(gatt.PermWriteEncryptionRequired) {
		if c.Has(gatt.CapWrite) {
			s |= ble.CharWrite
		}
		if c.Has(gatt.CapWriteWithoutResponse) {
			s |= ble.CharWriteNR
		}
	}
	if c.Has(gatt.CapNotifyEncryptionRequired) {
		s |= ble.CharNotify
	}
	if c.Has(gatt.CapIndicateEncryptionRequired) {
		s |= ble.CharIndicate
	}
	return s
}

// handlerSet produces the request handlers for one dynamic characteristic.
type handlerSet interface {
	readHandler(service, characteristic uuid.UUID) ble.ReadHandler
	writeHandler(service, characteristic uuid.UUID) ble.WriteHandler
}

// toBLEService translates a descriptor. Static characteristics carry their
// value and are answered by go-ble itself; dynamic ones get handlers.
func toBLEService(desc *gatt.ServiceDescriptor, hs handlerSet) *ble.Service {
	svc := ble.NewService(ToBLEUUID(desc.UUID))
	for _, cd := range desc.Characteristics {
		c := &ble.Characteristic{
			UUID:     ToBLEUUID(cd.UUID),
			Property: bleProperty(cd.Capabilities),
			Secure:   bleSecure(cd.Capabilities, cd.Permissions),
		}
		if cd.IsStatic() {
			c.Value = append([]byte{}, cd.Value...)
		} else {
			if cd.Readable() {
				c.ReadHandler = hs.readHandler(desc.UUID, cd.UUID)
			}
			if cd.Writable() {
				c.WriteHandler = hs.writeHandler(desc.UUID, cd.UUID)
			}
		}
		svc.AddCharacteristic(c)
	}
	return svc
}

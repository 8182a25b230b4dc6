package bluez

import (
	"github.com/srg/blimp/internal/gatt"
)

// charFlags translates a descriptor into the GattCharacteristic1 Flags
// strings BlueZ expects. Encrypted variants are listed next to the plain
// capability so the characteristic properties byte stays complete.
func charFlags(cd gatt.CharacteristicDescriptor) []string {
	c, p := cd.Capabilities, cd.Permissions
	var flags []string

	add := func(ok bool, names ...string) {
		if ok {
			flags = append(flags, names...)
		}
	}

	add(c.Has(gatt.CapBroadcast), "broadcast")
	add(c.Has(gatt.CapRead), "read")
	add(c.Has(gatt.CapRead) && p.Has(gatt.PermReadEncryptionRequired), "encrypt-read")
	add(c.Has(gatt.CapWriteWithoutResponse), "write-without-response")
	add(c.Has(gatt.CapWrite), "write")
	add(cd.Writable() && p.Has(gatt.PermWriteEncryptionRequired), "encrypt-write")
	add(c&(gatt.CapNotify|gatt.CapNotifyEncryptionRequired) != 0, "notify")
	add(c.Has(gatt.CapNotifyEncryptionRequired), "encrypt-notify")
	add(c&(gatt.CapIndicate|gatt.CapIndicateEncryptionRequired) != 0, "indicate")
	add(c.Has(gatt.CapIndicateEncryptionRequired), "encrypt-indicate")
	add(c.Has(gatt.CapAuthenticatedSignedWrites), "authenticated-signed-writes")
	add(c.Has(gatt.CapExtendedProperties), "extended-properties")

	return flags
}

package gatt

import (
	"fmt"
	"strings"
)

// CapabilityFlags is the characteristic-properties bit set a host stack
// transmits in the characteristic declaration. Bit values match
// CBCharacteristicProperties; the low byte matches the Bluetooth Core
// characteristic properties field.
type CapabilityFlags uint16

const (
	CapBroadcast                  CapabilityFlags = 1 << 0
	CapRead                       CapabilityFlags = 1 << 1
	CapWriteWithoutResponse       CapabilityFlags = 1 << 2
	CapWrite                      CapabilityFlags = 1 << 3
	CapNotify                     CapabilityFlags = 1 << 4
	CapIndicate                   CapabilityFlags = 1 << 5
	CapAuthenticatedSignedWrites  CapabilityFlags = 1 << 6
	CapExtendedProperties         CapabilityFlags = 1 << 7
	CapNotifyEncryptionRequired   CapabilityFlags = 1 << 8
	CapIndicateEncryptionRequired CapabilityFlags = 1 << 9
)

var capabilityNames = []struct {
	flag CapabilityFlags
	name string
}{
	{CapBroadcast, "broadcast"},
	{CapRead, "read"},
	{CapWriteWithoutResponse, "write-without-response"},
	{CapWrite, "write"},
	{CapNotify, "notify"},
	{CapIndicate, "indicate"},
	{CapAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{CapExtendedProperties, "extended-properties"},
	{CapNotifyEncryptionRequired, "notify-encryption-required"},
	{CapIndicateEncryptionRequired, "indicate-encryption-required"},
}

// Has reports whether every bit of f is set.
func (c CapabilityFlags) Has(f CapabilityFlags) bool {
	return c&f == f
}

// Names returns the set flag names in bit order.
func (c CapabilityFlags) Names() []string {
	var out []string
	for _, n := range capabilityNames {
		if c&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (c CapabilityFlags) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Names(), "|")
}

// PermissionFlags is the attribute access-permission bit set. Bit values
// match CBAttributePermissions.
type PermissionFlags uint8

const (
	PermReadable                PermissionFlags = 1 << 0
	PermWriteable               PermissionFlags = 1 << 1
	PermReadEncryptionRequired  PermissionFlags = 1 << 2
	PermWriteEncryptionRequired PermissionFlags = 1 << 3
)

var permissionNames = []struct {
	flag PermissionFlags
	name string
}{
	{PermReadable, "readable"},
	{PermWriteable, "writeable"},
	{PermReadEncryptionRequired, "read-encryption-required"},
	{PermWriteEncryptionRequired, "write-encryption-required"},
}

// Has reports whether every bit of f is set.
func (p PermissionFlags) Has(f PermissionFlags) bool {
	return p&f == f
}

// Names returns the set flag names in bit order.
func (p PermissionFlags) Names() []string {
	var out []string
	for _, n := range permissionNames {
		if p&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (p PermissionFlags) String() string {
	if p == 0 {
		return "none"
	}
	return strings.Join(p.Names(), "|")
}

// flagMapping is how one Property contributes to the two flag sets, for the
// plain and the encryption-required variant.
type flagMapping struct {
	capability       CapabilityFlags
	secureCapability CapabilityFlags
	permission       PermissionFlags
	securePermission PermissionFlags
}

// capabilityTable must have exactly one entry per Property; see the
// compile-time check below.
var capabilityTable = [...]flagMapping{
	Read: {
		capability: CapRead, secureCapability: CapRead,
		permission: PermReadable, securePermission: PermReadEncryptionRequired,
	},
	Write: {
		capability: CapWrite, secureCapability: CapWrite,
		permission: PermWriteable, securePermission: PermWriteEncryptionRequired,
	},
	WriteWithoutResponse: {
		capability: CapWriteWithoutResponse, secureCapability: CapWriteWithoutResponse,
		permission: PermWriteable, securePermission: PermWriteEncryptionRequired,
	},
	Notify: {
		capability: CapNotify, secureCapability: CapNotifyEncryptionRequired,
	},
	Indicate: {
		capability: CapIndicate, secureCapability: CapIndicateEncryptionRequired,
	},
}

func _() {
	// Fails to compile when capabilityTable and the Property list drift apart.
	var x [1]struct{}
	_ = x[len(capabilityTable)-int(propertyCount)]
}

// MapCapabilities translates a property set and its secure subset into the
// flags a host stack registers.
//
// Write and WriteWithoutResponse share the single write permission field.
// The field requires encryption when any present write-type property is
// secure, so the result never depends on evaluation order.
func MapCapabilities(props, secure Properties) (CapabilityFlags, PermissionFlags) {
	var caps CapabilityFlags
	var perms PermissionFlags

	for _, p := range props.Slice() {
		m := capabilityTable[p]
		if secure.Has(p) {
			caps |= m.secureCapability
			perms |= m.securePermission
		} else {
			caps |= m.capability
			perms |= m.permission
		}
	}

	if perms.Has(PermWriteEncryptionRequired) {
		perms &^= PermWriteable
	}
	return caps, perms
}

// describeFlags is used in log fields and CLI output.
func describeFlags(c CapabilityFlags, p PermissionFlags) string {
	return fmt.Sprintf("capabilities=0x%03x(%s) permissions=0x%02x(%s)", uint16(c), c, uint8(p), p)
}

package gatt

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth SIG base UUID that 16- and 32-bit UUIDs are
// expanded into.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit SIG-assigned UUID into its 128-bit form.
func UUID16(v uint16) uuid.UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit SIG-assigned UUID into its 128-bit form.
func UUID32(v uint32) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return u
}

// ParseUUID parses a full UUID (with or without dashes or braces) or a 16/32-bit
// short form such as "180f" or "0x2A19".
func ParseUUID(s string) (uuid.UUID, error) {
	str := strings.TrimSpace(s)
	str = strings.TrimPrefix(strings.TrimPrefix(str, "0x"), "0X")

	switch len(str) {
	case 4, 8:
		v, err := strconv.ParseUint(str, 16, 32)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid short UUID %q: %w", s, err)
		}
		return UUID32(uint32(v)), nil
	}

	u, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is ParseUUID that panics on error. Intended for constants and tests.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ShortUUID returns the 4-hex-digit form of a SIG base UUID with a 16-bit
// value, and the canonical hyphenated form otherwise.
func ShortUUID(u uuid.UUID) string {
	if u[0] == 0 && u[1] == 0 && [12]byte(u[4:]) == [12]byte(BaseUUID[4:]) {
		return fmt.Sprintf("%04x", binary.BigEndian.Uint16(u[2:4]))
	}
	return u.String()
}

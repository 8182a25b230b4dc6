package gatt

import (
	"fmt"
	"strings"
)

// Property is a capability a characteristic may offer to centrals.
type Property uint8

const (
	Read Property = iota
	Write
	WriteWithoutResponse
	Notify
	Indicate

	propertyCount // must stay last
)

var propertyNames = [...]string{
	Read:                 "read",
	Write:                "write",
	WriteWithoutResponse: "write-without-response",
	Notify:               "notify",
	Indicate:             "indicate",
}

// AllProperties lists every Property in declaration order.
func AllProperties() []Property {
	out := make([]Property, 0, propertyCount)
	for p := Property(0); p < propertyCount; p++ {
		out = append(out, p)
	}
	return out
}

func (p Property) String() string {
	if p >= propertyCount {
		return fmt.Sprintf("Property(%d)", uint8(p))
	}
	return propertyNames[p]
}

// ParseProperty accepts the canonical names plus a few common aliases
// ("write_without_response", "writenr", "write-nr").
func ParseProperty(s string) (Property, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "write-without-response", "write_without_response", "writenr", "write-nr", "writewithoutresponse":
		return WriteWithoutResponse, nil
	case "notify":
		return Notify, nil
	case "indicate":
		return Indicate, nil
	default:
		return 0, fmt.Errorf("unknown characteristic property %q", s)
	}
}

// Properties is a set of Property values.
type Properties uint8

// NewProperties returns the set containing ps.
func NewProperties(ps ...Property) Properties {
	var set Properties
	for _, p := range ps {
		set = set.With(p)
	}
	return set
}

// ParseProperties parses a comma-separated list such as "read,notify".
// An empty string yields the empty set.
func ParseProperties(s string) (Properties, error) {
	var set Properties
	if strings.TrimSpace(s) == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		p, err := ParseProperty(part)
		if err != nil {
			return 0, err
		}
		set = set.With(p)
	}
	return set, nil
}

// Has reports whether p is in the set.
func (s Properties) Has(p Property) bool {
	return p < propertyCount && s&(1<<p) != 0
}

// With returns the set with p added.
func (s Properties) With(p Property) Properties {
	if p >= propertyCount {
		return s
	}
	return s | 1<<p
}

// Without returns the set with p removed.
func (s Properties) Without(p Property) Properties {
	return s &^ (1 << p)
}

// IsSubsetOf reports whether every member of s is also in other.
func (s Properties) IsSubsetOf(other Properties) bool {
	return s&^other == 0
}

// Empty reports whether the set has no members.
func (s Properties) Empty() bool {
	return s == 0
}

// Slice returns the members in declaration order.
func (s Properties) Slice() []Property {
	var out []Property
	for p := Property(0); p < propertyCount; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// String renders the set in the same comma-separated form ParseProperties reads.
func (s Properties) String() string {
	members := s.Slice()
	names := make([]string, len(members))
	for i, p := range members {
		names[i] = p.String()
	}
	return strings.Join(names, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (s Properties) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Properties) UnmarshalText(text []byte) error {
	parsed, err := ParseProperties(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

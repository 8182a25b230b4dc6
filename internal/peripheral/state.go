package peripheral

import "fmt"

// PowerState is the host radio state. Values match CBManagerState.
type PowerState int32

const (
	Unknown PowerState = iota
	Resetting
	Unsupported
	Unauthorized
	PoweredOff
	PoweredOn

	powerStateCount // must stay last
)

var powerStateNames = [...]string{
	Unknown:      "unknown",
	Resetting:    "resetting",
	Unsupported:  "unsupported",
	Unauthorized: "unauthorized",
	PoweredOff:   "powered-off",
	PoweredOn:    "powered-on",
}

func _() {
	var x [1]struct{}
	_ = x[len(powerStateNames)-int(powerStateCount)]
}

func (s PowerState) String() string {
	if s < 0 || s >= powerStateCount {
		return fmt.Sprintf("PowerState(%d)", int32(s))
	}
	return powerStateNames[s]
}

// Valid reports whether s is one of the six defined states.
func (s PowerState) Valid() bool {
	return s >= 0 && s < powerStateCount
}

// Usable reports whether the radio may still become powered on without
// user or system intervention. Unsupported and Unauthorized are not.
func (s PowerState) Usable() bool {
	return s != Unsupported && s != Unauthorized
}

package main

import (
	"errors"
	"fmt"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/peripheral/bluez"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/srg/blimp/internal/script"
)

// Command-level errors
var (
	// ErrPowerOnTimeout indicates the radio did not reach PoweredOn within power_on_timeout.
	ErrPowerOnTimeout = errors.New("timed out waiting for the Bluetooth radio to power on")
)

// FormatUserError turns an error returned by a command into a message for
// the terminal. Known failures get a hint; anything else prints as-is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var powerErr *peripheral.PowerStateError
	if errors.As(err, &powerErr) {
		switch powerErr.State {
		case peripheral.Unauthorized:
			return "Bluetooth access denied: grant Bluetooth permission to this program " +
				"(macOS: System Settings > Privacy & Security > Bluetooth; Linux: run as root or with CAP_NET_ADMIN)"
		case peripheral.Unsupported:
			return "no usable Bluetooth LE adapter found (check the adapter setting and that the radio supports the peripheral role)"
		default:
			return fmt.Sprintf("Bluetooth radio is %s", powerErr.State)
		}
	}

	var luaErr *script.LuaError
	if errors.As(err, &luaErr) {
		return "script failed: " + luaErr.Error()
	}

	switch {
	case errors.Is(err, ErrPowerOnTimeout), errors.Is(err, goble.ErrBluetoothOff), errors.Is(err, peripheral.ErrNotPoweredOn):
		return "Bluetooth is turned off: switch the radio on and try again"
	case errors.Is(err, bluez.ErrNoBluez):
		return "BlueZ is not running on the system bus (start bluetoothd, or use backend: go-ble)"
	case errors.Is(err, bluez.ErrAdapterNotFound):
		return "Bluetooth adapter not found: " + err.Error()
	case errors.Is(err, bluez.ErrAccessDenied), errors.Is(err, goble.ErrUnauthorized):
		return "access to the Bluetooth stack was denied (run as root or join the bluetooth group)"
	case errors.Is(err, goble.ErrUnsupported):
		return "this Bluetooth stack does not support the LE peripheral role"
	case errors.Is(err, peripheral.ErrSubmissionTimeout):
		return "the Bluetooth stack did not answer in time: " + err.Error()
	case errors.Is(err, peripheral.ErrAlreadyAdvertising):
		return "the adapter is already advertising (another program may own it)"
	}
	return err.Error()
}

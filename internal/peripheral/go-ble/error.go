package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blimp/internal/peripheral"
)

var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnauthorized = errors.New("bluetooth access not authorized")
	ErrUnsupported  = errors.New("bluetooth LE peripheral role not supported")
)

// NormalizeError maps known go-ble error strings to sentinel errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case containsIgnoreCase(msg, "unsupported"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case containsIgnoreCase(msg, "already advertising"):
		return fmt.Errorf("%w: %v", peripheral.ErrAlreadyAdvertising, err)
	default:
		return err
	}
}

// PowerStateFor derives the radio state implied by a device open result.
func PowerStateFor(err error) peripheral.PowerState {
	switch {
	case err == nil:
		return peripheral.PoweredOn
	case errors.Is(err, ErrBluetoothOff):
		return peripheral.PoweredOff
	case errors.Is(err, ErrUnauthorized):
		return peripheral.Unauthorized
	default:
		return peripheral.Unsupported
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
)

const (
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"

	errBluezFailed          = "org.bluez.Error.Failed"
	errBluezNotPermitted    = "org.bluez.Error.NotPermitted"
	errBluezNotAuthorized   = "org.bluez.Error.NotAuthorized"
	errBluezNotSupported    = "org.bluez.Error.NotSupported"
	errBluezInvalidOffset   = "org.bluez.Error.InvalidOffset"
	errBluezInvalidLength   = "org.bluez.Error.InvalidValueLength"
	errBluezNotReady        = "org.bluez.Error.NotReady"
	errBluezAlreadyExists   = "org.bluez.Error.AlreadyExists"
	errBluezDoesNotExist    = "org.bluez.Error.DoesNotExist"
	errBluezInProgress      = "org.bluez.Error.InProgress"
	errBluezInvalidArgument = "org.bluez.Error.InvalidArguments"
)

var (
	ErrAdapterNotFound = errors.New("bluez: adapter not found")
	ErrAccessDenied    = errors.New("bluez: access denied")
	ErrNoBluez         = errors.New("bluez: service not running")
)

// dbusErrorName extracts the D-Bus error name, if err carries one.
func dbusErrorName(err error) (string, bool) {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name, true
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name, true
	}
	return "", false
}

// normalizeError attaches the package and peripheral sentinels to known
// D-Bus error names. The original error stays in the chain.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	name, ok := dbusErrorName(err)
	if !ok {
		return err
	}
	switch name {
	case errUnknownObject:
		return fmt.Errorf("%w: %v", ErrAdapterNotFound, err)
	case errServiceUnknown:
		return fmt.Errorf("%w: %v", ErrNoBluez, err)
	case errAccessDenied, errBluezNotAuthorized, errBluezNotPermitted:
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case errBluezNotReady:
		return fmt.Errorf("%w: %v", peripheral.ErrNotPoweredOn, err)
	case errBluezAlreadyExists:
		return fmt.Errorf("%w: %v", peripheral.ErrAlreadyAdvertising, err)
	default:
		return err
	}
}

// powerStateFor derives the radio state implied by a failure to reach the
// adapter.
func powerStateFor(err error) peripheral.PowerState {
	switch {
	case err == nil:
		return peripheral.PoweredOn
	case errors.Is(err, ErrAccessDenied):
		return peripheral.Unauthorized
	case errors.Is(err, peripheral.ErrNotPoweredOn):
		return peripheral.PoweredOff
	default:
		return peripheral.Unsupported
	}
}

// attReply converts an ATT status into the reply BlueZ maps back onto the
// ATT error response. Success yields nil.
func attReply(status gatt.ATTError) *dbus.Error {
	var name string
	switch status {
	case gatt.ATTSuccess:
		return nil
	case gatt.ATTReadNotPermitted, gatt.ATTWriteNotPermitted:
		name = errBluezNotPermitted
	case gatt.ATTInsufficientAuthentication, gatt.ATTInsufficientAuthorization,
		gatt.ATTInsufficientEncryption, gatt.ATTInsufficientEncryptionKeySize:
		name = errBluezNotAuthorized
	case gatt.ATTRequestNotSupported:
		name = errBluezNotSupported
	case gatt.ATTInvalidOffset:
		name = errBluezInvalidOffset
	case gatt.ATTInvalidAttributeValueLength:
		name = errBluezInvalidLength
	case gatt.ATTPrepareQueueFull, gatt.ATTInsufficientResources:
		name = errBluezInProgress
	case gatt.ATTInvalidPDU:
		name = errBluezInvalidArgument
	default:
		name = errBluezFailed
	}
	return dbus.NewError(name, []interface{}{status.String()})
}

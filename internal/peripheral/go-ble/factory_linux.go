package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates ble.Device instances over the default HCI socket
// (can be overridden in tests). It needs CAP_NET_ADMIN and a controller
// that BlueZ is not holding.
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

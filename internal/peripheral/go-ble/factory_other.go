//go:build !darwin && !linux

package goble

import "github.com/go-ble/ble"

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return nil, ErrUnsupported
}

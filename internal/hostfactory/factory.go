// Package hostfactory picks and builds the platform peripheral.Host.
package hostfactory

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/peripheral/bluez"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/srg/blimp/pkg/config"
)

// HostFactory creates the peripheral.Host selected by cfg.
// This is a variable so that it can be overridden in tests.
var HostFactory = func(cfg *config.Config, logger *logrus.Logger) (peripheral.Host, error) {
	backend, err := Resolve(cfg.Backend, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	logger.WithField("backend", backend).Debug("Creating BLE host")

	switch backend {
	case config.BackendBlueZ:
		return bluez.NewHost(logger, &bluez.Options{
			AdapterID:      cfg.AdapterID,
			RequestTimeout: cfg.RequestTimeout,
		}), nil
	default:
		return goble.NewHost(logger, &goble.Options{
			RequestTimeout:  cfg.RequestTimeout,
			AdvertiseSettle: cfg.AdvertiseSettle,
		}), nil
	}
}

// Resolve maps a configured backend name to a concrete one for goos.
// "auto" is BlueZ on Linux and go-ble everywhere else.
func Resolve(backend, goos string) (string, error) {
	switch backend {
	case config.BackendAuto, "":
		if goos == "linux" {
			return config.BackendBlueZ, nil
		}
		return config.BackendGoBLE, nil
	case config.BackendBlueZ:
		if goos != "linux" {
			return "", fmt.Errorf("backend %q is only available on linux, not %s", backend, goos)
		}
		return backend, nil
	case config.BackendGoBLE:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q", backend)
	}
}

// Package goble implements the discovery transport and the measurement monitor on top of
// github.com/go-ble/ble.
package goble

import (
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/blefit/internal/device"
)

// DeviceFactory creates the host's ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test overrides
var DeviceFactory = newPlatformDevice

var (
	sharedMu  sync.Mutex
	sharedDev ble.Device
)

// sharedDevice returns the process-wide radio, creating it on first use.
// The transport and the monitor share it; most host stacks allow a single central.
func sharedDevice() (ble.Device, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedDev != nil {
		return sharedDev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	sharedDev = dev
	return dev, nil
}

package main

import (
	"context"
	"errors"

	"github.com/srg/blefit/internal/device"
	"github.com/srg/blefit/internal/discovery"
	"github.com/srg/blefit/internal/filter"
)

// Command-level errors
var (
	// ErrNoSensors indicates that none of the requested sensors could be connected.
	ErrNoSensors = errors.New("no sensor could be connected")
)

// FormatUserError turns known errors into messages that tell the user what to do.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrPermission):
		return "not allowed to use the Bluetooth adapter; run with the required capabilities (e.g. CAP_NET_ADMIN)"
	case errors.Is(err, device.ErrUnsupported):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the device; make sure it is awake and in range"
	case errors.Is(err, filter.ErrInvalidSpec):
		return "invalid filter: " + err.Error()
	case errors.Is(err, discovery.ErrEngineClosed):
		return "discovery was shut down"
	default:
		return err.Error()
	}
}

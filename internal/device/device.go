package device

import (
	"errors"
	"fmt"
	"strings"
)

// Radio and payload failures.
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrPermission   = errors.New("not permitted to use the bluetooth adapter")
	ErrUnsupported  = errors.New("unsupported")
	ErrMalformed    = errors.New("malformed characteristic value")
)

// NotFoundError reports a GATT attribute a sensor does not expose. UUIDs are ordered from
// the outermost attribute to the innermost.
type NotFoundError struct {
	Resource string
	UUIDs    []string
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return e.Resource + " not found"
	case 1:
		return fmt.Sprintf("%s %s not found", e.Resource, DisplayName(e.UUIDs[0]))
	default:
		return fmt.Sprintf("%s %s not found in service %s",
			e.Resource, DisplayName(e.UUIDs[len(e.UUIDs)-1]), DisplayName(e.UUIDs[0]))
	}
}

// ConnectionState names the link condition that made a request fail.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError is a request that does not fit the sensor's link state. Two errors match
// under errors.Is when their states are equal.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return string(e.State) + ": " + e.Msg
}

func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && e != nil && e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// IsConnectionState reports whether err wraps a ConnectionError in state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr) && cerr.State == state
}

// hostFailures maps fragments of go-ble and host stack messages to sentinels. Fragments are
// matched case-insensitively, first match wins.
var hostFailures = []struct {
	fragment string
	sentinel error
}{
	{"is bluetooth turned on", ErrBluetoothOff},
	{"bluetooth is turned off", ErrBluetoothOff},
	{"operation not permitted", ErrPermission},
	{"permission denied", ErrPermission},
	{"device already connected", ErrAlreadyConnected},
	{"device not connected", ErrNotConnected},
	{"disconnected", ErrNotConnected},
}

// NormalizeError wraps a known go-ble failure in its sentinel so callers can use errors.Is.
// Other errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, f := range hostFailures {
		if strings.Contains(msg, f.fragment) {
			return fmt.Errorf("%w: %v", f.sentinel, err)
		}
	}
	return err
}

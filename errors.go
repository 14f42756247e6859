// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"errors"
	"fmt"

	"github.com/tether-rov/tether/registry"
)

var (
	// ErrInvalidChannel is reported when a key is used on a channel it does
	// not belong to, for example a telemetry key passed to Call.
	ErrInvalidChannel = errors.New("tether: key is not valid for this channel")

	// ErrUnexpectedReply is reported when the vehicle answers a request with
	// a message that is not a reply.
	ErrUnexpectedReply = errors.New("tether: unexpected reply")

	// ErrUnexpectedTelemetryType is reported when a telemetry query returns
	// no payload, or a payload other than the one requested.
	ErrUnexpectedTelemetryType = errors.New("tether: unexpected telemetry type")

	// ErrTimeout is reported when no reply arrives within the request
	// timeout. The timeout includes time spent waiting in the request queue.
	ErrTimeout = errors.New("tether: request timed out")

	// ErrNotReady is reported by operations that require a connected session
	// when the client is not connected.
	ErrNotReady = errors.New("tether: transport not ready")

	// ErrBusy is reported by Disconnect while a connection attempt is still
	// in progress.
	ErrBusy = errors.New("tether: session is connecting")

	// ErrUnknownType and ErrDecode are re-exported from the registry.
	ErrUnknownType = registry.ErrUnknownType
	ErrDecode      = registry.ErrDecode
)

// CallError is the concrete type of errors reported by the request methods of
// a [Client]. Use errors.Is to test for the sentinel errors above.
type CallError struct {
	Key string // the request key, e.g. "GetBatteryReq"
	Err error  // the underlying error
}

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Key == "" {
		return c.Err.Error()
	}
	return fmt.Sprintf("call %s: %v", c.Key, c.Err)
}

// Unwrap reports the underlying error of c.
func (c *CallError) Unwrap() error { return c.Err }

func callError(key string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Key: key, Err: err}
}

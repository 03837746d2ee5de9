// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import "errors"

// BusError is implemented by errors originating on the 1-Wire bus itself, as
// opposed to failures of the bridge device or its transport. Bus errors do
// not invalidate the master; the caller is expected to reset the bus and
// retry the transaction if desired.
type BusError interface {
	error
	BusError() bool
}

// busError is a constant string error carrying the BusError marker.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var (
	// ErrNoDevicePresent means no presence pulse was seen after a bus reset.
	ErrNoDevicePresent error = busError("onewire: no device present")
	// ErrShortCircuit means a short was detected during the reset pulse
	// window.
	ErrShortCircuit error = busError("onewire: bus has a short")
	// ErrInvalidCRC means the CRC computed over a ROM code read during a
	// search did not checksum to zero. The discovery pass is aborted.
	ErrInvalidCRC error = busError("onewire: invalid ROM CRC")

	// ErrUnimplemented signals the absence of an optional master capability,
	// currently only the triplet primitive. Callers catch exactly this
	// condition and substitute the documented fallback sequence; it is a
	// control-flow branch, not a hard failure.
	ErrUnimplemented = errors.New("onewire: not implemented")
	// ErrBusUninitialized means an operation was attempted before the
	// master was reset and configured.
	ErrBusUninitialized = errors.New("onewire: bus not initialized")
	// ErrInvalidSpeed means the operation is incompatible with the current
	// overdrive state, e.g. a ROM search while overdrive is active.
	ErrInvalidSpeed = errors.New("onewire: operation invalid at current bus speed")
)

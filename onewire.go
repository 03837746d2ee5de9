// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import "context"

// Status is a snapshot of the bus taken by the master during the last
// operation, typically a bus reset. A fresh value is produced on every read;
// callers never mutate it.
type Status interface {
	// Presence reports whether a presence pulse was detected after the last
	// bus reset.
	Presence() bool
	// Shorted reports whether a short circuit was detected on the line.
	Shorted() bool
	// LogicLevel reports the sampled logic state of the line without any
	// 1-Wire communication having been initiated.
	LogicLevel() bool
	// Direction reports the branch direction taken by the last triplet.
	Direction() bool
}

// TripletResult is the outcome of a Triplet call: the two bits read from the
// bus and the direction that was written in the third time slot.
type TripletResult struct {
	IDBit         bool // first read slot
	ComplementBit bool // second read slot
	Taken         bool // direction written in the write slot
}

// Bus is the blocking capability contract for a 1-Wire bus master.
//
// Byte and bit transfers are least significant bit first. Read operations
// return meaningless data unless a device has been addressed first, e.g.
// with Select or SelectAll; that is a caller obligation, not an error the
// bus can detect.
type Bus interface {
	// Reset issues a bus reset and samples the presence pulse. It fails with
	// ErrNoDevicePresent if no device answered and with ErrShortCircuit if a
	// short was detected during the pulse window.
	Reset() (Status, error)
	// WriteByte transmits one byte onto the bus.
	WriteByte(b byte) error
	// ReadByte generates eight read slots and returns the byte read.
	ReadByte() (byte, error)
	// WriteBit generates a single write slot.
	WriteBit(bit bool) error
	// ReadBit generates a single read slot. It is defined as writing a one
	// bit and sampling the single-bit result.
	ReadBit() (bool, error)
	// Triplet generates two read slots followed by one write slot whose
	// value is direction when both read slots returned zero. Masters without
	// hardware support return ErrUnimplemented; callers fall back to two
	// ReadBit calls and an explicit WriteBit.
	Triplet(direction bool) (TripletResult, error)
	// OverdriveMode reports whether the bus currently runs at overdrive
	// speed. It is side-effect free.
	OverdriveMode() bool
	// SetOverdriveMode changes the bus speed, sequencing the reset, ROM
	// command and configuration writes the speed change requires. It is a
	// no-op if the bus is already in the requested mode.
	SetOverdriveMode(enable bool) error
}

// BusCtx is the suspending flavor of Bus. The observable semantics are
// identical; every pause during busy-wait polling honors the context instead
// of blocking the calling goroutine unconditionally.
//
// Cancellation is only observed between device transactions. Cancelling in
// the middle of a multi-step sequence, such as a ROM byte transmission or a
// search bit, leaves the bus and the master in an undefined state; callers
// must not reuse the handle afterwards without a fresh reset.
//
// WriteByte and ReadByte keep the names of their Bus counterparts even
// though the context parameter makes their signatures differ from
// io.ByteWriter and io.ByteReader; the clash with vet's stdmethods check is
// deliberate, implementations are not byte stream adapters.
type BusCtx interface {
	Reset(ctx context.Context) (Status, error)
	WriteByte(ctx context.Context, b byte) error
	ReadByte(ctx context.Context) (byte, error)
	WriteBit(ctx context.Context, bit bool) error
	ReadBit(ctx context.Context) (bool, error)
	Triplet(ctx context.Context, direction bool) (TripletResult, error)
	OverdriveMode() bool
	SetOverdriveMode(ctx context.Context, enable bool) error
}

// ROM commands shared by all 1-Wire devices.
const (
	cmdSearchROM      = 0xf0 // enumerate all devices
	cmdAlarmSearch    = 0xec // enumerate devices in alarm state
	cmdMatchROM       = 0x55 // address one device by ROM code
	cmdSkipROM        = 0xcc // address every device
	cmdOverdriveMatch = 0x69 // match ROM and switch the device to overdrive
	cmdOverdriveSkip  = 0x3c // skip ROM and switch all devices to overdrive
)

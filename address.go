// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Address is the 64-bit ROM code of a 1-Wire device. In its little-endian
// byte layout the family code occupies the first byte, the 48-bit serial
// number the next six and the CRC-8 over the preceding seven bytes the last.
type Address uint64

// Family returns the device family code, e.g. 0x28 for a DS18B20.
func (a Address) Family() byte {
	return byte(a)
}

// CRC returns the checksum byte of the ROM code.
func (a Address) CRC() byte {
	return byte(a >> 56)
}

// Valid reports whether the family code is non-zero and the CRC over all
// eight bytes checksums to zero.
func (a Address) Valid() bool {
	if a.Family() == 0 {
		return false
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(a))
	return CheckCRC(buf[:])
}

func (a Address) String() string {
	return fmt.Sprintf("%#016x", uint64(a))
}

// Select resets the bus and addresses the single device with the given ROM
// code using Match ROM, choosing the overdrive command variant when the bus
// runs at overdrive speed. Subsequent byte and bit transfers talk to that
// device only.
func Select(b Bus, addr Address) error {
	cmd := byte(cmdMatchROM)
	if b.OverdriveMode() {
		cmd = cmdOverdriveMatch
	}
	if _, err := b.Reset(); err != nil {
		return err
	}
	if err := b.WriteByte(cmd); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	for _, v := range buf {
		if err := b.WriteByte(v); err != nil {
			return err
		}
	}
	return nil
}

// SelectAll resets the bus and addresses every device using Skip ROM,
// choosing the overdrive command variant when the bus runs at overdrive
// speed. Reads after SelectAll return meaningless data if more than one
// device is present.
func SelectAll(b Bus) error {
	cmd := byte(cmdSkipROM)
	if b.OverdriveMode() {
		cmd = cmdOverdriveSkip
	}
	if _, err := b.Reset(); err != nil {
		return err
	}
	return b.WriteByte(cmd)
}

// SelectCtx is Select for the suspending bus flavor.
func SelectCtx(ctx context.Context, b BusCtx, addr Address) error {
	cmd := byte(cmdMatchROM)
	if b.OverdriveMode() {
		cmd = cmdOverdriveMatch
	}
	if _, err := b.Reset(ctx); err != nil {
		return err
	}
	if err := b.WriteByte(ctx, cmd); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	for _, v := range buf {
		if err := b.WriteByte(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// SelectAllCtx is SelectAll for the suspending bus flavor.
func SelectAllCtx(ctx context.Context, b BusCtx) error {
	cmd := byte(cmdSkipROM)
	if b.OverdriveMode() {
		cmd = cmdOverdriveSkip
	}
	if _, err := b.Reset(ctx); err != nil {
		return err
	}
	return b.WriteByte(ctx, cmd)
}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiretest

import (
	"context"

	"github.com/GermanBionicSystems/onewire"
)

// BusCtx adapts any blocking bus to the suspending contract for tests. The
// context is checked once before each operation, mirroring the transaction
// granularity at which real suspending masters observe cancellation.
type BusCtx struct {
	Bus onewire.Bus
}

// Reset implements onewire.BusCtx.
func (b *BusCtx) Reset(ctx context.Context) (onewire.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Bus.Reset()
}

// WriteByte implements onewire.BusCtx.
func (b *BusCtx) WriteByte(ctx context.Context, v byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Bus.WriteByte(v)
}

// ReadByte implements onewire.BusCtx.
func (b *BusCtx) ReadByte(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.Bus.ReadByte()
}

// WriteBit implements onewire.BusCtx.
func (b *BusCtx) WriteBit(ctx context.Context, bit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Bus.WriteBit(bit)
}

// ReadBit implements onewire.BusCtx.
func (b *BusCtx) ReadBit(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.Bus.ReadBit()
}

// Triplet implements onewire.BusCtx.
func (b *BusCtx) Triplet(ctx context.Context, direction bool) (onewire.TripletResult, error) {
	if err := ctx.Err(); err != nil {
		return onewire.TripletResult{}, err
	}
	return b.Bus.Triplet(direction)
}

// OverdriveMode implements onewire.BusCtx.
func (b *BusCtx) OverdriveMode() bool {
	return b.Bus.OverdriveMode()
}

// SetOverdriveMode implements onewire.BusCtx.
func (b *BusCtx) SetOverdriveMode(ctx context.Context, enable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Bus.SetOverdriveMode(enable)
}

var _ onewire.BusCtx = &BusCtx{}

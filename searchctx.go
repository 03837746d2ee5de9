// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import (
	"context"
	"errors"
)

// SearchCtx is the suspending twin of Search, driving a BusCtx. The
// discrepancy bookkeeping is shared; only the I/O call sites differ.
//
// Cancellation is honored between bus transactions only. Cancelling in the
// middle of a pass leaves the bus state undefined; restart the search after
// a bus reset.
type SearchCtx struct {
	bus BusCtx
	searchState
}

// NewSearchCtx returns a search over every device on the bus, or only over
// the devices in alarm state if alarmOnly is set.
func NewSearchCtx(b BusCtx, alarmOnly bool) *SearchCtx {
	s := &SearchCtx{bus: b}
	s.init(alarmOnly, 0)
	return s
}

// NewFamilySearchCtx returns a search restricted to devices whose family
// code equals family.
func NewFamilySearchCtx(b BusCtx, alarmOnly bool, family byte) *SearchCtx {
	s := &SearchCtx{bus: b}
	s.init(alarmOnly, family)
	return s
}

// Done reports whether the search has exhausted the address space.
func (s *SearchCtx) Done() bool {
	return s.lastDevice
}

// Next runs one discovery pass and returns the next ROM code found. See
// Search.Next for the pass semantics.
func (s *SearchCtx) Next(ctx context.Context) (addr Address, ok bool, err error) {
	if s.bus.OverdriveMode() {
		return 0, false, ErrInvalidSpeed
	}
	if s.lastDevice {
		return 0, false, nil
	}
	if _, err = s.bus.Reset(ctx); err != nil {
		return 0, false, err
	}
	if err = s.bus.WriteByte(ctx, s.cmd); err != nil {
		return 0, false, err
	}
	lastZero := 0
	corrupted := false
	for bit := 1; bit <= 64; bit++ {
		dir := s.direction(bit)
		var id, comp, set bool
		fallback := false
		tr, err := s.bus.Triplet(ctx, dir)
		switch {
		case err == nil:
			id, comp = tr.IDBit, tr.ComplementBit
		case errors.Is(err, ErrUnimplemented):
			fallback = true
			if id, err = s.bus.ReadBit(ctx); err != nil {
				return 0, false, err
			}
			if comp, err = s.bus.ReadBit(ctx); err != nil {
				return 0, false, err
			}
		default:
			return 0, false, err
		}
		if id && comp {
			corrupted = true
			break
		}
		if id != comp {
			set = id
		} else {
			set = dir
			if !dir {
				s.record(bit, &lastZero)
			}
		}
		s.setROMBit(bit, set)
		if fallback {
			if err := s.bus.WriteBit(ctx, set); err != nil {
				return 0, false, err
			}
		}
	}
	return s.finish(corrupted, lastZero)
}

// SkipFamily makes the next Next call skip the remaining devices of the
// family code discovered last, resuming at the following family.
func (s *SearchCtx) SkipFamily() {
	s.skipFamily()
}

// Verify reports whether a device with the given ROM code is present on the
// bus. It always leaves the search reset.
func (s *SearchCtx) Verify(ctx context.Context, addr Address) (bool, error) {
	s.seedVerify(addr)
	got, ok, err := s.Next(ctx)
	s.reset()
	if err != nil {
		return false, err
	}
	return ok && got == addr, nil
}

// AllCtx runs a complete search and returns the ROM code of every device on
// the bus, or of every device in alarm state if alarmOnly is set.
func AllCtx(ctx context.Context, b BusCtx, alarmOnly bool) ([]Address, error) {
	s := NewSearchCtx(b, alarmOnly)
	var addrs []Address
	for !s.Done() {
		addr, ok, err := s.Next(ctx)
		if err != nil {
			return addrs, err
		}
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiretest is meant to be used to test drivers against a fake
// 1-Wire bus: Playback replays recorded transactions, Sim emulates a
// population of devices down to the search time slots.
package onewiretest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/onewire"
)

// IO registers one 1-Wire transaction: the bytes written after the bus
// reset and the bytes read back afterwards.
type IO struct {
	W []byte
	R []byte
}

// Playback implements onewire.Bus and replays canned transactions.
//
// Every Reset starts the next registered IO; byte writes are verified
// against it and byte reads are served from it. Use Close to assert that
// the full script was consumed.
type Playback struct {
	sync.Mutex
	// Ops is the scripted transactions, in order.
	Ops []IO
	// DontPanic makes mismatches return errors instead of panicking.
	DontPanic bool

	count int    // transactions started
	w     []byte // bytes written in the current transaction
	r     []byte // read bytes remaining in the current transaction
}

func (p *Playback) String() string {
	return "playback"
}

// Close verifies that the whole script was consumed. It is registered as a
// test cleanup in driver tests.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if p.count != len(p.Ops) {
		return p.fail("onewiretest: expected %d transactions, got %d", len(p.Ops), p.count)
	}
	return p.verifyDone()
}

// Reset implements onewire.Bus.
func (p *Playback) Reset() (onewire.Status, error) {
	p.Lock()
	defer p.Unlock()
	if err := p.verifyDone(); err != nil {
		return nil, err
	}
	if p.count >= len(p.Ops) {
		return nil, p.fail("onewiretest: unexpected Reset() past the end of the script")
	}
	op := p.Ops[p.count]
	p.count++
	p.w = nil
	p.r = append([]byte(nil), op.R...)
	return status{presence: true}, nil
}

// WriteByte implements onewire.Bus.
func (p *Playback) WriteByte(b byte) error {
	p.Lock()
	defer p.Unlock()
	if p.count == 0 {
		return p.fail("onewiretest: WriteByte(%#02x) before Reset()", b)
	}
	exp := p.Ops[p.count-1].W
	if len(p.w) >= len(exp) || exp[len(p.w)] != b {
		return p.fail("onewiretest: unexpected write %#02x at offset %d, expected %#v", b, len(p.w), exp)
	}
	p.w = append(p.w, b)
	return nil
}

// ReadByte implements onewire.Bus.
func (p *Playback) ReadByte() (byte, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.r) == 0 {
		return 0, p.fail("onewiretest: unexpected ReadByte()")
	}
	b := p.r[0]
	p.r = p.r[1:]
	return b, nil
}

// WriteBit implements onewire.Bus. Bit slots are not recordable; use Sim
// for bit-level traffic.
func (p *Playback) WriteBit(bit bool) error {
	return p.fail("onewiretest: bit slots are not supported by Playback")
}

// ReadBit implements onewire.Bus.
func (p *Playback) ReadBit() (bool, error) {
	return false, p.fail("onewiretest: bit slots are not supported by Playback")
}

// Triplet implements onewire.Bus.
func (p *Playback) Triplet(direction bool) (onewire.TripletResult, error) {
	return onewire.TripletResult{}, onewire.ErrUnimplemented
}

// OverdriveMode implements onewire.Bus.
func (p *Playback) OverdriveMode() bool {
	return false
}

// SetOverdriveMode implements onewire.Bus.
func (p *Playback) SetOverdriveMode(enable bool) error {
	return p.fail("onewiretest: overdrive is not supported by Playback")
}

// verifyDone checks that the current transaction, if any, was fully played.
func (p *Playback) verifyDone() error {
	if p.count == 0 {
		return nil
	}
	op := p.Ops[p.count-1]
	if !bytes.Equal(p.w, op.W) {
		return p.fail("onewiretest: transaction %d: wrote %#v, expected %#v", p.count-1, p.w, op.W)
	}
	if len(p.r) != 0 {
		return p.fail("onewiretest: transaction %d: %d unread bytes", p.count-1, len(p.r))
	}
	return nil
}

func (p *Playback) fail(format string, a ...interface{}) error {
	if p.DontPanic {
		return fmt.Errorf(format, a...)
	}
	panic(fmt.Sprintf(format, a...))
}

// status is a plain onewire.Status snapshot.
type status struct {
	presence bool
	shorted  bool
	level    bool
	dir      bool
}

func (s status) Presence() bool   { return s.presence }
func (s status) Shorted() bool    { return s.shorted }
func (s status) LogicLevel() bool { return s.level }
func (s status) Direction() bool  { return s.dir }

var _ onewire.Bus = &Playback{}

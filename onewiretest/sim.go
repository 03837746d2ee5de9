// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiretest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/GermanBionicSystems/onewire"
)

// Device is one simulated 1-Wire slave.
type Device struct {
	// Addr is the ROM code the device answers search passes with.
	Addr onewire.Address
	// Alarm makes the device participate in alarm-only searches.
	Alarm bool
}

// Sim implements onewire.Bus with a population of simulated devices wired
// onto one open-drain line: concurrent read slots AND together, exactly as
// the electrical bus does. It emulates the ROM search down to the
// individual time slots, including device drop-out on a mismatched
// direction write, and is the bus of choice for search engine tests.
//
// Commands other than the two search variants are accepted and ignored.
type Sim struct {
	sync.Mutex
	// Devices is the population on the line.
	Devices []Device
	// NoTriplet disables the triplet primitive so that Triplet reports
	// onewire.ErrUnimplemented, forcing callers into the bit fallback.
	NoTriplet bool
	// Shorted simulates a short circuit on the line.
	Shorted bool

	overdrive bool
	awaitCmd  bool   // a reset was seen, the next byte is a ROM command
	searching bool   // a search command is in progress
	active    []bool // devices still participating in the search
	bit       int    // current ROM bit, 1-based
	phase     int    // 0: id slot, 1: complement slot, 2: direction slot
}

func (s *Sim) String() string {
	return "sim"
}

// Reset implements onewire.Bus.
func (s *Sim) Reset() (onewire.Status, error) {
	s.Lock()
	defer s.Unlock()
	s.searching = false
	s.awaitCmd = false
	if s.Shorted {
		return status{shorted: true}, onewire.ErrShortCircuit
	}
	if len(s.Devices) == 0 {
		return status{level: true}, onewire.ErrNoDevicePresent
	}
	s.awaitCmd = true
	return status{presence: true, level: true}, nil
}

// WriteByte implements onewire.Bus.
func (s *Sim) WriteByte(b byte) error {
	s.Lock()
	defer s.Unlock()
	if s.searching {
		return errors.New("onewiretest: byte write during a search pass")
	}
	if !s.awaitCmd {
		return nil // ROM bytes, device commands: swallowed
	}
	s.awaitCmd = false
	switch b {
	case 0xf0, 0xec:
		s.searching = true
		s.bit = 1
		s.phase = 0
		s.active = make([]bool, len(s.Devices))
		for i := range s.Devices {
			s.active[i] = b == 0xf0 || s.Devices[i].Alarm
		}
	}
	return nil
}

// ReadByte implements onewire.Bus.
func (s *Sim) ReadByte() (byte, error) {
	return 0, errors.New("onewiretest: byte reads are not supported by Sim")
}

// WriteBit implements onewire.Bus.
func (s *Sim) WriteBit(bit bool) error {
	s.Lock()
	defer s.Unlock()
	if !s.searching {
		return nil
	}
	if s.phase != 2 {
		return errors.New("onewiretest: direction write before both read slots")
	}
	s.takeBranch(bit)
	return nil
}

// ReadBit implements onewire.Bus.
func (s *Sim) ReadBit() (bool, error) {
	s.Lock()
	defer s.Unlock()
	if !s.searching {
		return true, nil // idle line reads high
	}
	switch s.phase {
	case 0:
		s.phase = 1
		return s.slot(false), nil
	case 1:
		s.phase = 2
		return s.slot(true), nil
	default:
		return false, errors.New("onewiretest: read slot where a direction write was due")
	}
}

// Triplet implements onewire.Bus.
func (s *Sim) Triplet(direction bool) (onewire.TripletResult, error) {
	s.Lock()
	defer s.Unlock()
	if s.NoTriplet {
		return onewire.TripletResult{}, onewire.ErrUnimplemented
	}
	if !s.searching || s.phase != 0 {
		return onewire.TripletResult{}, errors.New("onewiretest: triplet outside a search slot")
	}
	id := s.slot(false)
	comp := s.slot(true)
	taken := direction
	if id != comp {
		taken = id
	} else if id {
		taken = true // error case, hardware writes a one
	}
	s.takeBranch(taken)
	return onewire.TripletResult{IDBit: id, ComplementBit: comp, Taken: taken}, nil
}

// OverdriveMode implements onewire.Bus.
func (s *Sim) OverdriveMode() bool {
	s.Lock()
	defer s.Unlock()
	return s.overdrive
}

// SetOverdriveMode implements onewire.Bus.
func (s *Sim) SetOverdriveMode(enable bool) error {
	s.Lock()
	defer s.Unlock()
	s.overdrive = enable
	return nil
}

// slot computes one read slot: every participating device outputs its
// current ROM bit (or its complement) and the line wire-ANDs them.
func (s *Sim) slot(complement bool) bool {
	line := true
	for i, d := range s.Devices {
		if !s.active[i] {
			continue
		}
		bit := uint64(d.Addr)>>(uint(s.bit)-1)&1 != 0
		if complement {
			bit = !bit
		}
		line = line && bit
	}
	return line
}

// takeBranch deselects the devices that disagree with the written direction
// and advances to the next ROM bit.
func (s *Sim) takeBranch(dir bool) {
	for i, d := range s.Devices {
		if !s.active[i] {
			continue
		}
		bit := uint64(d.Addr)>>(uint(s.bit)-1)&1 != 0
		if bit != dir {
			s.active[i] = false
		}
	}
	s.bit++
	s.phase = 0
	if s.bit > 64 {
		s.searching = false
	}
}

// MakeAddress builds a valid ROM code from a family byte and a 48-bit
// serial number, computing the trailing CRC.
func MakeAddress(family byte, serial uint64) onewire.Address {
	var b [8]byte
	b[0] = family
	for i := 0; i < 6; i++ {
		b[1+i] = byte(serial >> (8 * uint(i)))
	}
	b[7] = onewire.CRC8(b[:7])
	return onewire.Address(binary.LittleEndian.Uint64(b[:]))
}

var _ onewire.Bus = &Sim{}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import (
	"encoding/binary"
	"errors"
)

// searchState is the bookkeeping of one in-flight ROM search, shared by the
// blocking and suspending engines. It is owned by exactly one search; a new
// search or a verification starts from a reset state.
type searchState struct {
	cmd                   byte
	family                byte
	lastDevice            bool
	lastDiscrepancy       int
	lastFamilyDiscrepancy int
	rom                   [8]byte
}

func (s *searchState) init(alarmOnly bool, family byte) {
	s.cmd = cmdSearchROM
	if alarmOnly {
		s.cmd = cmdAlarmSearch
	}
	s.family = family
	s.reset()
}

// reset returns the state to the beginning of an enumeration. A family
// scoped search is seeded as if the first code of that family subtree had
// just been fully discriminated, so the next pass starts right at it.
func (s *searchState) reset() {
	s.lastDevice = false
	s.lastDiscrepancy = 0
	s.lastFamilyDiscrepancy = 0
	s.rom = [8]byte{}
	if s.family != 0 {
		s.rom[0] = s.family
		s.lastDiscrepancy = 64
	}
}

// direction computes the branch to take at the given ROM bit, 1-based. Bits
// below the previous discrepancy repeat the accumulated ROM; the bit exactly
// at the discrepancy takes the one branch this time; everything above
// defaults to zero. Preferring the one branch on revisit is what guarantees
// each leaf of the address space is produced exactly once.
func (s *searchState) direction(bit int) bool {
	if bit < s.lastDiscrepancy {
		return s.romBit(bit)
	}
	return bit == s.lastDiscrepancy
}

func (s *searchState) romBit(bit int) bool {
	return s.rom[(bit-1)/8]&(1<<uint((bit-1)%8)) != 0
}

func (s *searchState) setROMBit(bit int, v bool) {
	mask := byte(1) << uint((bit-1)%8)
	if v {
		s.rom[(bit-1)/8] |= mask
	} else {
		s.rom[(bit-1)/8] &^= mask
	}
}

// record notes a discrepancy that was resolved toward the zero branch.
func (s *searchState) record(bit int, lastZero *int) {
	*lastZero = bit
	if bit < 9 {
		s.lastFamilyDiscrepancy = bit
	}
}

// finish folds the pass outcome back into the state and reports the
// discovered code, if any. ok is false when the pass produced no candidate:
// the pass was corrupted, the family byte was zero, or a family filter
// rejected the code. A CRC mismatch aborts the pass with ErrInvalidCRC.
func (s *searchState) finish(corrupted bool, lastZero int) (Address, bool, error) {
	if !corrupted {
		s.lastDiscrepancy = lastZero
		if lastZero == 0 {
			s.lastDevice = true
		}
	}
	if corrupted || s.rom[0] == 0 {
		return 0, false, nil
	}
	if !CheckCRC(s.rom[:]) {
		return 0, false, ErrInvalidCRC
	}
	if s.family != 0 && s.rom[0] != s.family {
		return 0, false, nil
	}
	return Address(binary.LittleEndian.Uint64(s.rom[:])), true, nil
}

// skipFamily abandons the subtree of the family produced last. The next
// pass resumes at the first device of the following family, or the search
// is exhausted if no family discrepancy is pending.
func (s *searchState) skipFamily() {
	s.lastDiscrepancy = s.lastFamilyDiscrepancy
	s.lastFamilyDiscrepancy = 0
	if s.lastDiscrepancy == 0 {
		s.lastDevice = true
	}
}

// seedVerify primes the state so that a single pass reproduces addr if, and
// only if, a device with that exact ROM code answers on the bus.
func (s *searchState) seedVerify(addr Address) {
	s.lastDevice = false
	s.lastFamilyDiscrepancy = 0
	binary.LittleEndian.PutUint64(s.rom[:], uint64(addr))
	s.lastDiscrepancy = 64
}

// Search enumerates the ROM codes of the devices sharing a 1-Wire bus using
// the iterative search algorithm. Repeated Next calls produce every code
// exactly once, ordered by ROM bit values from the least significant bit up,
// after which Done reports true.
//
// A Search owns its state exclusively; run at most one per bus at a time.
type Search struct {
	bus Bus
	searchState
}

// NewSearch returns a search over every device on the bus, or only over the
// devices in alarm state if alarmOnly is set.
func NewSearch(b Bus, alarmOnly bool) *Search {
	s := &Search{bus: b}
	s.init(alarmOnly, 0)
	return s
}

// NewFamilySearch returns a search restricted to devices whose family code
// equals family. Codes of other families are never produced; a pass that
// lands on one reports no candidate without ending the enumeration.
func NewFamilySearch(b Bus, alarmOnly bool, family byte) *Search {
	s := &Search{bus: b}
	s.init(alarmOnly, family)
	return s
}

// Done reports whether the search has exhausted the address space.
func (s *Search) Done() bool {
	return s.lastDevice
}

// Next runs one discovery pass and returns the next ROM code found. ok is
// false when the pass produced no candidate; use Done to distinguish an
// exhausted search from a filtered or corrupted pass.
//
// Next fails with ErrInvalidSpeed while the bus runs at overdrive speed,
// with ErrNoDevicePresent or ErrShortCircuit from the bus reset, and with
// ErrInvalidCRC when the accumulated ROM fails its checksum.
func (s *Search) Next() (addr Address, ok bool, err error) {
	if s.bus.OverdriveMode() {
		return 0, false, ErrInvalidSpeed
	}
	if s.lastDevice {
		return 0, false, nil
	}
	if _, err = s.bus.Reset(); err != nil {
		return 0, false, err
	}
	if err = s.bus.WriteByte(s.cmd); err != nil {
		return 0, false, err
	}
	lastZero := 0
	corrupted := false
	for bit := 1; bit <= 64; bit++ {
		dir := s.direction(bit)
		var id, comp, set bool
		fallback := false
		tr, err := s.bus.Triplet(dir)
		switch {
		case err == nil:
			id, comp = tr.IDBit, tr.ComplementBit
		case errors.Is(err, ErrUnimplemented):
			// No triplet support: two ordinary read slots now, the
			// direction write below once the bit is decided.
			fallback = true
			if id, err = s.bus.ReadBit(); err != nil {
				return 0, false, err
			}
			if comp, err = s.bus.ReadBit(); err != nil {
				return 0, false, err
			}
		default:
			return 0, false, err
		}
		if id && comp {
			// No device answered the slot pair; the transaction is
			// corrupted and the pass is abandoned.
			corrupted = true
			break
		}
		if id != comp {
			set = id // the line dictates the bit
		} else {
			set = dir
			if !dir {
				s.record(bit, &lastZero)
			}
		}
		s.setROMBit(bit, set)
		if fallback {
			if err := s.bus.WriteBit(set); err != nil {
				return 0, false, err
			}
		}
	}
	return s.finish(corrupted, lastZero)
}

// SkipFamily makes the next Next call skip the remaining devices of the
// family code discovered last, resuming at the following family.
func (s *Search) SkipFamily() {
	s.skipFamily()
}

// Verify reports whether a device with the given ROM code is present on the
// bus. It runs one exact-match pass and always leaves the search reset, so a
// subsequent Next begins a fresh enumeration.
func (s *Search) Verify(addr Address) (bool, error) {
	s.seedVerify(addr)
	got, ok, err := s.Next()
	s.reset()
	if err != nil {
		return false, err
	}
	return ok && got == addr, nil
}

// All runs a complete search and returns the ROM code of every device on
// the bus, or of every device in alarm state if alarmOnly is set. The
// enumeration ends at the first pass that yields no candidate.
func All(b Bus, alarmOnly bool) ([]Address, error) {
	s := NewSearch(b, alarmOnly)
	var addrs []Address
	for !s.Done() {
		addr, ok, err := s.Next()
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

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2484

import (
	"time"

	"github.com/GermanBionicSystems/onewire"
)

// Status is a decoded snapshot of the DS2484 status register. The register
// is read-only; all 1-Wire communication commands and the device reset
// command leave the read pointer positioned at it.
type Status byte

// Busy reports whether 1-Wire communication is in progress (1WB).
func (s Status) Busy() bool { return s&0x01 != 0 }

// Presence reports whether a presence pulse was detected during the last
// bus reset (PPD).
func (s Status) Presence() bool { return s&0x02 != 0 }

// Shorted reports whether a short was detected during the last bus reset
// (SD).
func (s Status) Shorted() bool { return s&0x04 != 0 }

// LogicLevel reports the logic state of the line, sampled on every status
// read without initiating 1-Wire communication (LL).
func (s Status) LogicLevel() bool { return s&0x08 != 0 }

// DeviceReset reports whether the DS2484 performed an internal reset cycle,
// from power-on or from the device reset command (RST). The flag clears on
// the next configuration register write.
func (s Status) DeviceReset() bool { return s&0x10 != 0 }

// SingleBitResult reports the line state sampled during the last single-bit
// command or the first slot of a triplet (SBR).
func (s Status) SingleBitResult() bool { return s&0x20 != 0 }

// TripletSecondBit reports the line state sampled during the second slot of
// the last triplet (TSB).
func (s Status) TripletSecondBit() bool { return s&0x40 != 0 }

// Direction reports the branch direction chosen by the last triplet (DIR).
func (s Status) Direction() bool { return s&0x80 != 0 }

var _ onewire.Status = Status(0)

// Config is the DS2484 device configuration register. The four feature bits
// live in the low nibble; on the wire the high nibble must carry their
// bitwise complement or the device rejects the write.
type Config struct {
	// ActivePullup drives the line high through a transistor instead of the
	// passive pull-up resistor (APU). Recommended for best bus performance.
	ActivePullup bool
	// PowerDown removes power from the 1-Wire port (PDN). No communication
	// is possible while set.
	PowerDown bool
	// StrongPullup applies a strong pull-up after the next byte or bit
	// command (SPU), for parasitically powered conversions and EEPROM
	// writes. The device drops the bit again once the pull-up ended.
	StrongPullup bool
	// Overdrive selects overdrive timing for all 1-Wire communication
	// (1WS). Change it only through the documented speed change sequence,
	// see Dev.SetOverdriveMode.
	Overdrive bool
}

// encode returns the on-wire byte with the complement nibble applied.
func (c Config) encode() byte {
	var v byte
	if c.ActivePullup {
		v |= 0x01
	}
	if c.PowerDown {
		v |= 0x02
	}
	if c.StrongPullup {
		v |= 0x04
	}
	if c.Overdrive {
		v |= 0x08
	}
	return v | (^v&0x0f)<<4
}

// decodeConfig decodes a configuration register read. The device reports
// only the low nibble.
func decodeConfig(b byte) Config {
	return Config{
		ActivePullup: b&0x01 != 0,
		PowerDown:    b&0x02 != 0,
		StrongPullup: b&0x04 != 0,
		Overdrive:    b&0x08 != 0,
	}
}

// PupOhm selects the strength of the weak pull-up resistor on the 1-Wire
// line (RWPU).
type PupOhm uint8

const (
	// R500Ω weak pull-up resistor.
	R500Ω PupOhm = 4
	// R1000Ω weak pull-up resistor, the power-on default.
	R1000Ω PupOhm = 6
)

// PortConfig holds the eight 1-Wire port parameters of the DS2484. Each is
// stored in hardware as a 4-bit index into a fixed, monotonically
// increasing time table; the types here carry the physical durations and
// quantize on encode.
//
// Values falling between table entries round up to the next entry, keeping
// the margin on the compliant side; values beyond the table maximum fall
// back to the first entry. After a device reset the power-on defaults
// apply.
type PortConfig struct {
	ResetLow         time.Duration // reset low time tRSTL, 440µs..740µs
	ResetLowOD       time.Duration // tRSTL at overdrive speed, 44µs..74µs
	PresenceDetect   time.Duration // presence sample time tMSP, 58µs..76µs
	PresenceDetectOD time.Duration // tMSP at overdrive speed, 5.5µs..11µs
	Write0Low        time.Duration // write zero low time tW0L, 52µs..70µs
	Write0LowOD      time.Duration // tW0L at overdrive speed, 5µs..10µs
	Write0Recovery   time.Duration // write zero recovery time tREC0, 2.75µs..25.25µs
	PullupRes        PupOhm        // weak pull-up resistance RWPU
}

// DefaultPortConfig is the power-on register content, index 6 in every
// table.
var DefaultPortConfig = PortConfig{
	ResetLow:         560 * time.Microsecond,
	ResetLowOD:       56 * time.Microsecond,
	PresenceDetect:   68 * time.Microsecond,
	PresenceDetectOD: 8 * time.Microsecond,
	Write0Low:        64 * time.Microsecond,
	Write0LowOD:      8 * time.Microsecond,
	Write0Recovery:   5250 * time.Nanosecond,
	PullupRes:        R1000Ω,
}

// Port parameter time tables, one entry per 4-bit register value. The
// values are fixed by the bridge hardware.
var (
	tRSTLTable   = timeTable(440*time.Microsecond, 20*time.Microsecond)
	tRSTLODTable = timeTable(44*time.Microsecond, 2*time.Microsecond)
	tMSPTable    = []time.Duration{
		58000, 58000, 60000, 62000, 64000, 66000, 68000, 70000,
		72000, 74000, 76000, 76000, 76000, 76000, 76000, 76000,
	}
	tMSPODTable = []time.Duration{
		5500, 5500, 6000, 6500, 7000, 7500, 8000, 8500,
		9000, 9500, 10000, 10500, 11000, 11000, 11000, 11000,
	}
	tW0LTable = []time.Duration{
		52000, 54000, 56000, 58000, 60000, 62000, 64000, 66000,
		68000, 70000, 70000, 70000, 70000, 70000, 70000, 70000,
	}
	tW0LODTable = []time.Duration{
		5000, 5500, 6000, 6500, 7000, 7500, 8000, 8500,
		9000, 9500, 10000, 10000, 10000, 10000, 10000, 10000,
	}
	tREC0Table = []time.Duration{
		2750, 2750, 2750, 2750, 2750, 2750, 5250, 7750,
		10250, 12750, 15250, 17750, 20250, 22750, 25250, 25250,
	}
)

func timeTable(base, step time.Duration) []time.Duration {
	t := make([]time.Duration, 16)
	for i := range t {
		t[i] = base + time.Duration(i)*step
	}
	return t
}

// timeIndex returns the smallest table index whose tabulated time is at
// least want, or 0 when want exceeds the table maximum.
func timeIndex(table []time.Duration, want time.Duration) byte {
	for i, v := range table {
		if v >= want {
			return byte(i)
		}
	}
	return 0
}

// Parameter tag nibbles of the port configuration write frame. Tag 0b0111
// is unassigned by the hardware.
var portTags = [8]byte{0x0, 0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x8}

// encode packs the eight quantized parameters into the 9-byte write frame,
// each value byte carrying its parameter tag in the high nibble.
func (p *PortConfig) encode() [9]byte {
	nibbles := [8]byte{
		timeIndex(tRSTLTable, p.ResetLow),
		timeIndex(tRSTLODTable, p.ResetLowOD),
		timeIndex(tMSPTable, p.PresenceDetect),
		timeIndex(tMSPODTable, p.PresenceDetectOD),
		timeIndex(tW0LTable, p.Write0Low),
		timeIndex(tW0LODTable, p.Write0LowOD),
		timeIndex(tREC0Table, p.Write0Recovery),
		byte(p.PullupRes) & 0x0f,
	}
	var frame [9]byte
	frame[0] = cmdAdjustPort
	for i, n := range nibbles {
		frame[1+i] = portTags[i]<<4 | n
	}
	return frame
}

// decodePortConfig rebuilds the physical durations from an 8-byte port
// configuration register read.
func decodePortConfig(buf []byte) PortConfig {
	p := PortConfig{
		ResetLow:         tRSTLTable[buf[0]&0x0f],
		ResetLowOD:       tRSTLODTable[buf[1]&0x0f],
		PresenceDetect:   tMSPTable[buf[2]&0x0f],
		PresenceDetectOD: tMSPODTable[buf[3]&0x0f],
		Write0Low:        tW0LTable[buf[4]&0x0f],
		Write0LowOD:      tW0LODTable[buf[5]&0x0f],
		Write0Recovery:   tREC0Table[buf[6]&0x0f],
		PullupRes:        R1000Ω,
	}
	if buf[7]&0x0f < 6 {
		p.PullupRes = R500Ω
	}
	return p
}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds28ea00

import (
	"errors"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/onewire"
)

// Family is the 1-wire family code of the DS28EA00.
const Family byte = 0x42

// Enumerate returns the addresses of all DS28EA00 devices on the bus.
func Enumerate(o onewire.Bus) ([]onewire.Address, error) {
	var addrs []onewire.Address
	s := onewire.NewFamilySearch(o, false, Family)
	for {
		addr, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return addrs, nil
		}
		addrs = append(addrs, addr)
	}
}

// ConvertAll starts a temperature conversion on all DS28EA00 devices on the
// bus and waits for it to complete.
//
// The wait is determined by the maximum resolution of all devices on the bus
// and must be provided. ConvertAll uses time.Sleep to wait for the conversion
// to finish, which takes from 94ms to 752ms.
func ConvertAll(o onewire.Bus, maxResolutionBits int) error {
	if maxResolutionBits < 9 || maxResolutionBits > 12 {
		return errors.New("ds28ea00: invalid maxResolutionBits")
	}
	if err := StartAll(o); err != nil {
		return err
	}
	conversionSleep(maxResolutionBits)
	return nil
}

// StartAll starts a conversion on all DS28EA00 devices on the bus.
//
// Similar to ConvertAll but returns without waiting for the conversion to
// finish. To be used in conjunction with LastTemp. Conversion timing must be
// handled by other means.
func StartAll(o onewire.Bus) error {
	if err := onewire.SelectAll(o); err != nil {
		return err
	}
	return o.WriteByte(cmdConvert)
}

// SetAllPIO drives the PIO pin of every DS28EA00 on the bus, typically used
// to light an activity LED chain during conversions.
func SetAllPIO(o onewire.Bus, on bool) error {
	if err := onewire.SelectAll(o); err != nil {
		return err
	}
	if err := o.WriteByte(cmdPIOWrite); err != nil {
		return err
	}
	return o.WriteByte(pioByte(on))
}

// Opts holds the device configuration written at initialization.
type Opts struct {
	// ResolutionBits is the conversion precision, in the range 9..12. It
	// affects the conversion time: 9bits:94ms, 10bits:188ms, 11bits:375ms,
	// 12bits:750ms.
	ResolutionBits int
	// TLow and THigh are the alarm thresholds in degrees Celsius. A device
	// whose last conversion falls outside [TLow, THigh] responds to
	// conditional searches.
	TLow, THigh int8
}

// DefaultOpts is the recommended configuration: full precision, alarm
// thresholds at the ends of the operating range.
var DefaultOpts = Opts{ResolutionBits: 12, TLow: -40, THigh: 85}

// New returns an object that communicates over 1-wire to the DS28EA00
// temperature sensor with the specified 64-bit address.
//
// A resolution of 10 bits corresponds to 0.25C and tends to be a good
// compromise between conversion time and the device's inherent accuracy of
// +/-0.5C.
func New(o onewire.Bus, addr onewire.Address, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.ResolutionBits < 9 || opts.ResolutionBits > 12 {
		return nil, errors.New("ds28ea00: invalid ResolutionBits")
	}
	if addr.Family() != Family {
		return nil, errors.New("ds28ea00: not a DS28EA00 address")
	}

	d := &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}, resolution: opts.ResolutionBits}

	// Reading the scratchpad first tells us whether we can talk to the
	// device at all and how it is currently configured.
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}

	cfg := byte((opts.ResolutionBits-9)<<5) | 0x1f
	if spad[4] != cfg || spad[2] != byte(opts.THigh) || spad[3] != byte(opts.TLow) {
		// TH, TL and the configuration register share one write command.
		if err := d.onewire.Tx([]byte{cmdWriteScratchpad, byte(opts.THigh), byte(opts.TLow), cfg}, nil); err != nil {
			return nil, err
		}
		// Copy the scratchpad to EEPROM to save the values.
		if err := d.onewire.Tx([]byte{cmdCopyScratchpad}, nil); err != nil {
			return nil, err
		}
		// Wait for the EEPROM write to complete.
		sleep(10 * time.Millisecond)
	}

	return d, nil
}

// Dev is a handle to a Maxim DS28EA00 temperature sensor on a 1-wire bus.
type Dev struct {
	onewire    onewire.Dev // device on 1-wire bus
	resolution int         // resolution in bits (9..12)
}

func (d *Dev) String() string {
	return "DS28EA00{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	if err := d.onewire.Tx([]byte{cmdConvert}, nil); err != nil {
		return err
	}
	conversionSleep(d.resolution)
	t, err := d.LastTemp()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds28ea00: not implemented")
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with ConvertAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}

	t := parseTemperature(spad)

	// The device powers up with a value of 85°C, so if we read that odds are
	// very high that either no conversion was performed or that the
	// conversion failed due to lack of power. This prevents reading a temp of
	// exactly 85°C, but that seems like the right tradeoff.
	if t == physic.ZeroCelsius+85*physic.Celsius {
		return 0, busError("ds28ea00: has not performed a temperature conversion (insufficient pull-up?)")
	}
	return t, nil
}

// SetPIO drives the device's PIO pin.
func (d *Dev) SetPIO(on bool) error {
	return d.onewire.Tx([]byte{cmdPIOWrite, pioByte(on)}, nil)
}

// parseTemperature converts the raw scratchpad value. spad[1] is the MSB and
// spad[0] the LSB of a 12.4 fixed point reading.
func parseTemperature(spad []byte) physic.Temperature {
	rawTemp := int16(spad[1])<<8 | int16(spad[0])
	// rawTemp has 4 fractional bits, so one LSB is a sixteenth of a degree.
	v := physic.Temperature(rawTemp)
	return v*physic.Kelvin/16 + physic.ZeroCelsius
}

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC.
// It returns the 8 bytes of scratchpad data (excluding the CRC byte).
func (d *Dev) readScratchpad() ([]byte, error) {
	var spad [9]byte
	if err := d.onewire.Tx([]byte{cmdReadScratchpad}, spad[:]); err != nil {
		return nil, err
	}

	if !onewire.CheckCRC(spad[:]) {
		for _, s := range spad {
			if s != 0xff {
				return nil, busError("ds28ea00: incorrect scratchpad CRC")
			}
		}
		return nil, busError("ds28ea00: device did not respond")
	}
	return spad[:8], nil
}

// conversionSleep sleeps for the time a conversion takes, which depends on
// the resolution: 9bits:94ms, 10bits:188ms, 11bits:376ms, 12bits:752ms.
func conversionSleep(bits int) {
	sleep((94 << uint(bits-9)) * time.Millisecond)
}

func pioByte(on bool) byte {
	// The command payload encodes PIOA in bit 1, active low, with the
	// remaining bits fixed.
	if on {
		return 0xfd
	}
	return 0x02
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

const (
	cmdConvert         = 0x44
	cmdWriteScratchpad = 0x4e
	cmdCopyScratchpad  = 0x48
	cmdReadScratchpad  = 0xbe
	cmdPIOWrite        = 0xa5
)

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2484 controls a DS2484 I²C to 1-Wire bridge chip.
//
// The device translates register commands received over I²C into the
// low-level 1-Wire line timing. Dev implements onewire.Bus on top of those
// register transactions and can be handed to device drivers and to the
// search engine; DevCtx is the suspending flavor implementing
// onewire.BusCtx.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/ds2484.pdf
package ds2484

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/onewire"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// PassivePullup disables the active pull-up transistor on the line.
	PassivePullup bool
	// Retries bounds the busy-wait polling loop of every 1-Wire operation.
	// Each failed poll pauses for the polling interval before the next
	// attempt; exhausting the budget fails the operation with
	// ErrRetriesExceeded.
	Retries int
	// Port holds the 1-Wire port timing written during initialization.
	Port PortConfig
}

// DefaultOpts is the recommended default options: active pull-up, a 100
// poll retry budget and the power-on port timing.
var DefaultOpts = Opts{
	Retries: 100,
	Port:    DefaultPortConfig,
}

// New returns a device object that communicates over I²C to the DS2484
// bridge and implements onewire.Bus.
//
// New resets the bridge, writes the initial configuration and applies the
// port timing from opts. Pass nil to use DefaultOpts.
func New(i i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Retries < 0 {
		return nil, errors.New("ds2484: invalid retry budget")
	}
	d := &Dev{i2c: &i2c.Dev{Bus: i, Addr: devAddr}, retries: opts.Retries}
	if err := d.makeDev(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a DS2484 and implements onewire.Bus.
//
// Dev models exclusive ownership of the single electrical bus behind the
// bridge: an internal lock serializes the register transactions of each
// operation, but callers must not interleave logical transactions (an
// addressing sequence followed by data transfer, or a search pass) from
// multiple goroutines.
type Dev struct {
	mu        sync.Mutex
	i2c       conn.Conn // i2c device handle for the ds2484
	retries   int       // busy-wait poll budget
	inReset   bool      // device reset seen, configuration not yet written
	overdrive bool      // bus currently runs at overdrive speed
}

func (d *Dev) String() string {
	return fmt.Sprintf("DS2484{%s}", d.i2c)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// DeviceReset performs a global reset of the bridge state machine logic and
// terminates any ongoing 1-Wire communication. The port timing returns to
// its power-on defaults and 1-Wire operations are rejected with
// onewire.ErrBusUninitialized until the next configuration write.
func (d *Dev) DeviceReset() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceReset()
}

// Status returns a fresh snapshot of the status register. Reading the
// status samples the line logic level without initiating any 1-Wire
// communication.
func (d *Dev) Status() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readStatus()
}

// Config returns the current device configuration.
func (d *Dev) Config() (Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readConfig()
}

// SetConfig writes the device configuration register and verifies the
// read-back. A configuration write clears the bridge's reset flag.
//
// Do not flip Config.Overdrive directly; the connected devices need the
// speed change sequence of SetOverdriveMode to stay synchronized.
func (d *Dev) SetConfig(c Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeConfig(c)
}

// PortConfig returns the current port timing.
func (d *Dev) PortConfig() (PortConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readPortConfig()
}

// SetPortConfig writes the port configuration register block and returns
// the timing read back from the device. The hardware clamps out-of-range
// values, so the result may differ from the request.
func (d *Dev) SetPortConfig(p PortConfig) (PortConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writePortConfig(p)
}

// Reset implements onewire.Bus.
func (d *Dev) Reset() (onewire.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

// WriteByte implements onewire.Bus.
func (d *Dev) WriteByte(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeByte(b)
}

// ReadByte implements onewire.Bus.
func (d *Dev) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readByte()
}

// WriteBit implements onewire.Bus.
func (d *Dev) WriteBit(bit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeBit(bit)
}

// ReadBit implements onewire.Bus. The bit is read by generating a write-one
// slot and sampling the single-bit result flag.
func (d *Dev) ReadBit() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeBit(true); err != nil {
		return false, err
	}
	s, err := d.waitIdle()
	if err != nil {
		return false, err
	}
	return s.SingleBitResult(), nil
}

// Triplet implements onewire.Bus. It generates two read slots and one write
// slot in a single bridge command, the accelerator for the ROM search.
func (d *Dev) Triplet(direction bool) (onewire.TripletResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inReset {
		return onewire.TripletResult{}, onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(); err != nil {
		return onewire.TripletResult{}, err
	}
	v := byte(0)
	if direction {
		v = 0x80
	}
	if err := d.i2cTx([]byte{cmd1WTriplet, v}, nil); err != nil {
		return onewire.TripletResult{}, err
	}
	s, err := d.waitIdle()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	return onewire.TripletResult{
		IDBit:         s.SingleBitResult(),
		ComplementBit: s.TripletSecondBit(),
		Taken:         s.Direction(),
	}, nil
}

// OverdriveMode implements onewire.Bus. Querying is side-effect free.
func (d *Dev) OverdriveMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overdrive
}

// SetOverdriveMode implements onewire.Bus.
//
// Enabling runs the documented speed change sequence: a bus reset at the
// old speed, the Overdrive-Skip ROM command, a configuration write with the
// speed bit set and a second bus reset now timed at the new speed.
// Disabling writes the configuration back to standard speed and issues a
// long reset pulse, which also returns all devices to standard speed. A
// request for the current mode is a no-op.
func (d *Dev) SetOverdriveMode(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enable == d.overdrive {
		return nil
	}
	cfg, err := d.readConfig()
	if err != nil {
		return err
	}
	if enable {
		if _, err := d.reset(); err != nil {
			return err
		}
		if err := d.writeByte(cmdSkipROMOD); err != nil {
			return err
		}
	}
	cfg.Overdrive = enable
	if err := d.writeConfig(cfg); err != nil {
		return err
	}
	if _, err := d.reset(); err != nil {
		return err
	}
	return nil
}

// Search performs a search cycle on the 1-Wire bus and returns the ROM
// codes of all devices on the bus if alarmOnly is false, or of all devices
// in alarm state if alarmOnly is true.
//
// If an error occurs during the search the already discovered devices are
// returned with the error.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.All(d, alarmOnly)
}

//

// makeDev initializes the bridge: device reset, configuration write, port
// timing write.
func (d *Dev) makeDev(opts *Opts) error {
	if _, err := d.deviceReset(); err != nil {
		return err
	}
	if err := d.writeConfig(Config{ActivePullup: !opts.PassivePullup}); err != nil {
		return err
	}
	if _, err := d.writePortConfig(opts.Port); err != nil {
		return err
	}
	return nil
}

// deviceReset issues the device reset command and polls the status register
// until the reset flag is reported, using the same bounded polling
// discipline as the 1-Wire busy wait.
func (d *Dev) deviceReset() (Status, error) {
	if err := d.i2cTx([]byte{cmdDeviceReset}, nil); err != nil {
		return 0, err
	}
	d.inReset = true
	d.overdrive = false
	// The device reset command leaves the read pointer at the status
	// register.
	var buf [1]byte
	for try := 0; ; try++ {
		if err := d.i2cTx(nil, buf[:]); err != nil {
			return 0, err
		}
		if s := Status(buf[0]); s.DeviceReset() {
			return s, nil
		}
		if try == d.retries {
			return Status(buf[0]), ErrRetriesExceeded
		}
		sleep(pollInterval)
	}
}

// reset issues a 1-Wire bus reset and samples the presence pulse.
func (d *Dev) reset() (Status, error) {
	if d.inReset {
		return 0, onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(); err != nil {
		return 0, err
	}
	if err := d.i2cTx([]byte{cmd1WReset}, nil); err != nil {
		return 0, err
	}
	s, err := d.waitIdle()
	if err != nil {
		return s, err
	}
	if s.Shorted() {
		return s, onewire.ErrShortCircuit
	}
	if !s.Presence() {
		return s, onewire.ErrNoDevicePresent
	}
	return s, nil
}

func (d *Dev) writeByte(b byte) error {
	if d.inReset {
		return onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	return d.i2cTx([]byte{cmd1WWriteByte, b}, nil)
}

func (d *Dev) readByte() (byte, error) {
	if d.inReset {
		return 0, onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(); err != nil {
		return 0, err
	}
	if err := d.i2cTx([]byte{cmd1WReadByte}, nil); err != nil {
		return 0, err
	}
	if _, err := d.waitIdle(); err != nil {
		return 0, err
	}
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regData}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Dev) writeBit(bit bool) error {
	if d.inReset {
		return onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	v := byte(0)
	if bit {
		v = 0x80
	}
	return d.i2cTx([]byte{cmd1WSingleBit, v}, nil)
}

// readStatus points the read pointer at the status register and reads it
// once, without waiting for the bus to go idle.
func (d *Dev) readStatus() (Status, error) {
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regStatus}, buf[:]); err != nil {
		return 0, err
	}
	return Status(buf[0]), nil
}

func (d *Dev) readConfig() (Config, error) {
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regConfig}, buf[:]); err != nil {
		return Config{}, err
	}
	return decodeConfig(buf[0]), nil
}

// writeConfig writes the configuration register and verifies the low
// nibble read back by the device. It clears the reset flag, mirroring the
// hardware's own behavior.
func (d *Dev) writeConfig(c Config) error {
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	enc := c.encode()
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdWriteConfig, enc}, buf[:]); err != nil {
		return err
	}
	if buf[0] != enc&0x0f {
		return fmt.Errorf("ds2484: config register readback %#02x, want %#02x", buf[0], enc&0x0f)
	}
	d.inReset = false
	d.overdrive = c.Overdrive
	return nil
}

func (d *Dev) readPortConfig() (PortConfig, error) {
	var buf [8]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regPort}, buf[:]); err != nil {
		return PortConfig{}, err
	}
	return decodePortConfig(buf[:]), nil
}

// writePortConfig writes the port configuration frame and re-reads the
// register block to confirm the applied values.
func (d *Dev) writePortConfig(p PortConfig) (PortConfig, error) {
	if _, err := d.waitIdle(); err != nil {
		return PortConfig{}, err
	}
	frame := p.encode()
	if err := d.i2cTx(frame[:], nil); err != nil {
		return PortConfig{}, err
	}
	return d.readPortConfig()
}

// waitIdle points the read pointer at the status register and polls until
// the busy flag clears, pausing for the polling interval between attempts.
// The retry budget bounds the loop; exhausting it fails with
// ErrRetriesExceeded and is never silently ignored.
func (d *Dev) waitIdle() (Status, error) {
	if err := d.i2cTx([]byte{cmdSetReadPtr, regStatus}, nil); err != nil {
		return 0, err
	}
	var buf [1]byte
	for try := 0; ; try++ {
		if err := d.i2cTx(nil, buf[:]); err != nil {
			return 0, err
		}
		if s := Status(buf[0]); !s.Busy() {
			return s, nil
		}
		if try == d.retries {
			return Status(buf[0]), ErrRetriesExceeded
		}
		sleep(pollInterval)
	}
}

// i2cTx wraps the transport transaction and tags transport failures so they
// are distinguishable from 1-Wire conditions.
func (d *Dev) i2cTx(w, r []byte) error {
	if err := d.i2c.Tx(w, r); err != nil {
		return fmt.Errorf("ds2484: %w", err)
	}
	return nil
}

// ErrRetriesExceeded means the busy-wait poll budget was exhausted. The
// in-flight operation failed; the bridge itself is expected to be usable
// again after an independent bus reset by the caller.
var ErrRetriesExceeded = errors.New("ds2484: retries exceeded waiting for the bus")

// pollInterval is the pause between two busy-wait polls.
const pollInterval = time.Millisecond

// pollIntervalOD is the finer pause used by the suspending flavor while the
// bus runs at overdrive speed, where bit times are roughly ten times
// shorter.
const pollIntervalOD = 100 * time.Microsecond

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}

const (
	devAddr = 0x18 // fixed I²C address of the DS2484

	cmdDeviceReset = 0xf0 // reset the bridge
	cmdSetReadPtr  = 0xe1 // set the register read pointer
	cmdWriteConfig = 0xd2 // write the device configuration register
	cmdAdjustPort  = 0xc3 // adjust 1-wire port timing
	cmd1WReset     = 0xb4 // reset the 1-wire bus
	cmd1WSingleBit = 0x87 // single-bit transaction on the 1-wire bus
	cmd1WWriteByte = 0xa5 // byte write on the 1-wire bus
	cmd1WReadByte  = 0x96 // byte read on the 1-wire bus
	cmd1WTriplet   = 0x78 // triplet: two read slots and a conditional write slot
	cmdSkipROMOD   = 0x3c // Overdrive-Skip ROM, sent on the 1-wire bus itself

	regStatus = 0xf0 // read ptr of the status register
	regData   = 0xe1 // read ptr of the read-data register
	regConfig = 0xc3 // read ptr of the device configuration register
	regPort   = 0xb4 // read ptr of the port configuration register
)

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2484

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/onewire"
)

// NewCtx returns a device object that communicates over I²C to the DS2484
// bridge and implements onewire.BusCtx, the suspending flavor of the bus
// contract.
//
// The observable semantics are identical to New; the difference is that
// every busy-wait pause yields to the scheduler and honors ctx instead of
// blocking the goroutine unconditionally. At overdrive speed the polling
// interval drops to match the shorter bit times.
func NewCtx(ctx context.Context, i i2c.Bus, opts *Opts) (*DevCtx, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Retries < 0 {
		return nil, errors.New("ds2484: invalid retry budget")
	}
	d := &DevCtx{i2c: &i2c.Dev{Bus: i, Addr: devAddr}, retries: opts.Retries}
	if _, err := d.deviceReset(ctx); err != nil {
		return nil, err
	}
	if err := d.writeConfig(ctx, Config{ActivePullup: !opts.PassivePullup}); err != nil {
		return nil, err
	}
	if _, err := d.writePortConfig(ctx, opts.Port); err != nil {
		return nil, err
	}
	return d, nil
}

// DevCtx is a handle to a DS2484 and implements onewire.BusCtx.
//
// Cancellation is observed between device transactions only: a context
// cancelled in the middle of a multi-step sequence (a ROM transmission, a
// search bit) leaves the bus and the bridge state undefined and the caller
// must issue a fresh reset before reusing the handle.
type DevCtx struct {
	mu        sync.Mutex
	i2c       conn.Conn
	retries   int
	inReset   bool
	overdrive bool
}

func (d *DevCtx) String() string {
	return fmt.Sprintf("DS2484{%s}", d.i2c)
}

// Halt implements conn.Resource.
func (d *DevCtx) Halt() error {
	return nil
}

// DeviceReset performs a global reset of the bridge state machine logic.
// See Dev.DeviceReset.
func (d *DevCtx) DeviceReset(ctx context.Context) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceReset(ctx)
}

// Status returns a fresh snapshot of the status register.
func (d *DevCtx) Status(ctx context.Context) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regStatus}, buf[:]); err != nil {
		return 0, err
	}
	return Status(buf[0]), nil
}

// Config returns the current device configuration.
func (d *DevCtx) Config(ctx context.Context) (Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readConfig()
}

// SetConfig writes the device configuration register and verifies the
// read-back. See Dev.SetConfig.
func (d *DevCtx) SetConfig(ctx context.Context, c Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeConfig(ctx, c)
}

// PortConfig returns the current port timing.
func (d *DevCtx) PortConfig(ctx context.Context) (PortConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readPortConfig()
}

// SetPortConfig writes the port configuration register block and returns
// the timing read back from the device.
func (d *DevCtx) SetPortConfig(ctx context.Context, p PortConfig) (PortConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writePortConfig(ctx, p)
}

// Reset implements onewire.BusCtx.
func (d *DevCtx) Reset(ctx context.Context) (onewire.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset(ctx)
}

// WriteByte implements onewire.BusCtx.
func (d *DevCtx) WriteByte(ctx context.Context, b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeByte(ctx, b)
}

// ReadByte implements onewire.BusCtx.
func (d *DevCtx) ReadByte(ctx context.Context) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inReset {
		return 0, onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return 0, err
	}
	if err := d.i2cTx([]byte{cmd1WReadByte}, nil); err != nil {
		return 0, err
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return 0, err
	}
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regData}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteBit implements onewire.BusCtx.
func (d *DevCtx) WriteBit(ctx context.Context, bit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeBit(ctx, bit)
}

// ReadBit implements onewire.BusCtx.
func (d *DevCtx) ReadBit(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeBit(ctx, true); err != nil {
		return false, err
	}
	s, err := d.waitIdle(ctx)
	if err != nil {
		return false, err
	}
	return s.SingleBitResult(), nil
}

// Triplet implements onewire.BusCtx.
func (d *DevCtx) Triplet(ctx context.Context, direction bool) (onewire.TripletResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inReset {
		return onewire.TripletResult{}, onewire.ErrBusUninitialized
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return onewire.TripletResult{}, err
	}
	v := byte(0)
	if direction {
		v = 0x80
	}
	if err := d.i2cTx([]byte{cmd1WTriplet, v}, nil); err != nil {
		return onewire.TripletResult{}, err
	}
	s, err := d.waitIdle(ctx)
	if err != nil {
		return onewire.TripletResult{}, err
	}
	return onewire.TripletResult{
		IDBit:         s.SingleBitResult(),
		ComplementBit: s.TripletSecondBit(),
		Taken:         s.Direction(),
	}, nil
}

// OverdriveMode implements onewire.BusCtx.
func (d *DevCtx) OverdriveMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overdrive
}

// SetOverdriveMode implements onewire.BusCtx. See Dev.SetOverdriveMode for
// the speed change sequence.
func (d *DevCtx) SetOverdriveMode(ctx context.Context, enable bool) error {
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
		if _, err := d.reset(ctx); err != nil {
			return err
		}
		if err := d.writeByte(ctx, cmdSkipROMOD); err != nil {
			return err
		}
	}
	cfg.Overdrive = enable
	if err := d.writeConfig(ctx, cfg); err != nil {
		return err
	}
	if _, err := d.reset(ctx); err != nil {
		return err
	}
	return nil
}

// Search performs a search cycle on the 1-Wire bus. See Dev.Search.
func (d *DevCtx) Search(ctx context.Context, alarmOnly bool) ([]onewire.Address, error) {
	return onewire.AllCtx(ctx, d, alarmOnly)
}

//

func (d *DevCtx) deviceReset(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.i2cTx([]byte{cmdDeviceReset}, nil); err != nil {
		return 0, err
	}
	d.inReset = true
	d.overdrive = false
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
		if err := d.pause(ctx); err != nil {
			return 0, err
		}
	}
}

func (d *DevCtx) reset(ctx context.Context) (Status, error) {
	if d.inReset {
		return 0, onewire.ErrBusUninitialized
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return 0, err
	}
	if err := d.i2cTx([]byte{cmd1WReset}, nil); err != nil {
		return 0, err
	}
	s, err := d.waitIdle(ctx)
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

func (d *DevCtx) writeByte(ctx context.Context, b byte) error {
	if d.inReset {
		return onewire.ErrBusUninitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return err
	}
	return d.i2cTx([]byte{cmd1WWriteByte, b}, nil)
}

func (d *DevCtx) writeBit(ctx context.Context, bit bool) error {
	if d.inReset {
		return onewire.ErrBusUninitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.waitIdle(ctx); err != nil {
		return err
	}
	v := byte(0)
	if bit {
		v = 0x80
	}
	return d.i2cTx([]byte{cmd1WSingleBit, v}, nil)
}

func (d *DevCtx) readConfig() (Config, error) {
	var buf [1]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regConfig}, buf[:]); err != nil {
		return Config{}, err
	}
	return decodeConfig(buf[0]), nil
}

func (d *DevCtx) writeConfig(ctx context.Context, c Config) error {
	if _, err := d.waitIdle(ctx); err != nil {
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

func (d *DevCtx) readPortConfig() (PortConfig, error) {
	var buf [8]byte
	if err := d.i2cTx([]byte{cmdSetReadPtr, regPort}, buf[:]); err != nil {
		return PortConfig{}, err
	}
	return decodePortConfig(buf[:]), nil
}

func (d *DevCtx) writePortConfig(ctx context.Context, p PortConfig) (PortConfig, error) {
	if _, err := d.waitIdle(ctx); err != nil {
		return PortConfig{}, err
	}
	frame := p.encode()
	if err := d.i2cTx(frame[:], nil); err != nil {
		return PortConfig{}, err
	}
	return d.readPortConfig()
}

// waitIdle polls the status register until the busy flag clears, pausing
// through the context-aware timer between attempts.
func (d *DevCtx) waitIdle(ctx context.Context) (Status, error) {
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
		if err := d.pause(ctx); err != nil {
			return 0, err
		}
	}
}

// pause yields for one polling interval or until the context is cancelled.
// The interval follows the bus speed; overdrive bit times are roughly ten
// times shorter, so the poll tightens accordingly.
func (d *DevCtx) pause(ctx context.Context) error {
	interval := pollInterval
	if d.overdrive {
		interval = pollIntervalOD
	}
	return sleepCtx(ctx, interval)
}

// sleepContext is the context-aware counterpart of time.Sleep.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var sleepCtx = sleepContext

func (d *DevCtx) i2cTx(w, r []byte) error {
	if err := d.i2c.Tx(w, r); err != nil {
		return fmt.Errorf("ds2484: %w", err)
	}
	return nil
}

var _ conn.Resource = &DevCtx{}
var _ onewire.BusCtx = &DevCtx{}

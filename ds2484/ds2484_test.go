// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2484

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/GermanBionicSystems/onewire"
)

// initOps is the register traffic of New with default options: device
// reset, configuration write with active pull-up, port timing write.
func initOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: devAddr, W: []byte{0xf0}},
		{Addr: devAddr, R: []byte{0x10}},
		{Addr: devAddr, W: []byte{0xe1, 0xf0}},
		{Addr: devAddr, R: []byte{0x10}},
		{Addr: devAddr, W: []byte{0xd2, 0xe1}, R: []byte{0x01}},
		{Addr: devAddr, W: []byte{0xe1, 0xf0}},
		{Addr: devAddr, R: []byte{0x08}},
		{Addr: devAddr, W: []byte{0xc3, 0x06, 0x16, 0x26, 0x36, 0x46, 0x56, 0x66, 0x86}},
		{Addr: devAddr, W: []byte{0xe1, 0xb4}, R: []byte{0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06}},
	}
}

// idle is a waitIdle round that succeeds on the first poll.
func idle(status byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: devAddr, W: []byte{0xe1, 0xf0}},
		{Addr: devAddr, R: []byte{status}},
	}
}

func newDev(t *testing.T, extra ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	t.Helper()
	bus := &i2ctest.Playback{Ops: append(initOps(), extra...), DontPanic: true}
	d, err := New(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d, bus
}

func TestNew(t *testing.T) {
	d, bus := newDev(t)
	if s := d.String(); !strings.HasPrefix(s, "DS2484{") {
		t.Fatal(s)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_badRetries(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	if d, err := New(bus, &Opts{Retries: -1}); d != nil || err == nil {
		t.Fatal("negative retry budget must be rejected")
	}
}

func TestReset(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x0a)...) // presence, line high
	d, bus := newDev(t, ops...)
	s, err := d.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if !s.Presence() || s.Shorted() || !s.LogicLevel() {
		t.Fatalf("%#v", s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReset_noDevice(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x08)...) // no presence pulse
	d, _ := newDev(t, ops...)
	if _, err := d.Reset(); !errors.Is(err, onewire.ErrNoDevicePresent) {
		t.Fatalf("expected ErrNoDevicePresent, got %v", err)
	}
}

func TestReset_shorted(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x04)...) // short detected
	d, _ := newDev(t, ops...)
	if _, err := d.Reset(); !errors.Is(err, onewire.ErrShortCircuit) {
		t.Fatalf("expected ErrShortCircuit, got %v", err)
	}
}

func TestWriteReadByte(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xa5, 0x44}})
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0x96}})
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xe1, 0xe1}, R: []byte{0xab}})
	d, bus := newDev(t, ops...)
	if err := d.WriteByte(0x44); err != nil {
		t.Fatal(err)
	}
	b, err := d.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != 0xab {
		t.Fatalf("read %#02x", b)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadBit(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0x87, 0x80}})
	ops = append(ops, idle(0x2a)...) // single bit result set
	d, bus := newDev(t, ops...)
	bit, err := d.ReadBit()
	if err != nil {
		t.Fatal(err)
	}
	if !bit {
		t.Fatal("expected a one bit")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTriplet(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0x78, 0x80}})
	// SBR set, TSB clear, DIR set.
	ops = append(ops, idle(0xa8)...)
	d, bus := newDev(t, ops...)
	tr, err := d.Triplet(true)
	if err != nil {
		t.Fatal(err)
	}
	expected := onewire.TripletResult{IDBit: true, ComplementBit: false, Taken: true}
	if tr != expected {
		t.Fatalf("got %+v", tr)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWaitIdle_retriesExceeded(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(), DontPanic: true}
	d, err := New(bus, &Opts{Retries: 2, Port: DefaultPortConfig})
	if err != nil {
		t.Fatal(err)
	}
	// The budget allows the initial poll plus two retries, each preceded
	// by a pause.
	busy := []i2ctest.IO{
		{Addr: devAddr, W: []byte{0xe1, 0xf0}},
		{Addr: devAddr, R: []byte{0x01}},
		{Addr: devAddr, R: []byte{0x01}},
		{Addr: devAddr, R: []byte{0x01}},
	}
	bus.Ops = append(bus.Ops, busy...)
	var sleeps []time.Duration
	sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	defer func() { sleep = time.Sleep }()
	if err := d.WriteByte(0x44); !errors.Is(err, ErrRetriesExceeded) {
		t.Fatalf("expected ErrRetriesExceeded, got %v", err)
	}
	if len(sleeps) != 2 || sleeps[0] != pollInterval {
		t.Fatalf("slept %v", sleeps)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceReset_gatesBus(t *testing.T) {
	ops := []i2ctest.IO{
		{Addr: devAddr, W: []byte{0xf0}},
		{Addr: devAddr, R: []byte{0x10}},
	}
	d, _ := newDev(t, ops...)
	if _, err := d.DeviceReset(); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteByte(0x44); !errors.Is(err, onewire.ErrBusUninitialized) {
		t.Fatalf("expected ErrBusUninitialized, got %v", err)
	}
	if _, err := d.Reset(); !errors.Is(err, onewire.ErrBusUninitialized) {
		t.Fatalf("expected ErrBusUninitialized, got %v", err)
	}
}

func TestSetOverdriveMode(t *testing.T) {
	var ops []i2ctest.IO
	// Read the current configuration.
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xe1, 0xc3}, R: []byte{0x01}})
	// Bus reset at standard speed.
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x0a)...)
	// Overdrive-Skip ROM.
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xa5, 0x3c}})
	// Configuration write with the speed bit: APU|1WS = 0x09, wire 0x69.
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xd2, 0x69}, R: []byte{0x09}})
	// Bus reset, now timed at overdrive speed.
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x0a)...)
	d, bus := newDev(t, ops...)
	if d.OverdriveMode() {
		t.Fatal("overdrive before the speed change")
	}
	if err := d.SetOverdriveMode(true); err != nil {
		t.Fatal(err)
	}
	if !d.OverdriveMode() {
		t.Fatal("overdrive flag not set")
	}
	// Requesting the current mode is a no-op, no bus traffic.
	if err := d.SetOverdriveMode(true); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewCtx(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(), DontPanic: true}
	d, err := NewCtx(context.Background(), bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); !strings.HasPrefix(s, "DS2484{") {
		t.Fatal(s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDevCtx_cancel(t *testing.T) {
	bus := &i2ctest.Playback{Ops: initOps(), DontPanic: true}
	d, err := NewCtx(context.Background(), bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.WriteByte(ctx, 0x44); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := d.Reset(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// No bus traffic happened past initialization.
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDevCtxWaitIdle_retriesExceededOverdrive(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, initOps()...)
	// Speed change sequence, as in TestSetOverdriveMode.
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xe1, 0xc3}, R: []byte{0x01}})
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xa5, 0x3c}})
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xd2, 0x69}, R: []byte{0x09}})
	ops = append(ops, idle(0x08)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xb4}})
	ops = append(ops, idle(0x0a)...)
	// The budget allows the initial poll plus two retries, each preceded
	// by a pause at the overdrive interval.
	busy := []i2ctest.IO{
		{Addr: devAddr, W: []byte{0xe1, 0xf0}},
		{Addr: devAddr, R: []byte{0x01}},
		{Addr: devAddr, R: []byte{0x01}},
		{Addr: devAddr, R: []byte{0x01}},
	}
	ops = append(ops, busy...)
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := NewCtx(context.Background(), bus, &Opts{Retries: 2, Port: DefaultPortConfig})
	if err != nil {
		t.Fatal(err)
	}
	var pauses []time.Duration
	sleepCtx = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	defer func() { sleepCtx = sleepContext }()
	if err := d.SetOverdriveMode(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteByte(context.Background(), 0x44); !errors.Is(err, ErrRetriesExceeded) {
		t.Fatalf("expected ErrRetriesExceeded, got %v", err)
	}
	if len(pauses) != 2 || pauses[0] != pollIntervalOD || pauses[1] != pollIntervalOD {
		t.Fatalf("paused %v", pauses)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDevCtx_writeByte(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, initOps()...)
	ops = append(ops, idle(0x0a)...)
	ops = append(ops, i2ctest.IO{Addr: devAddr, W: []byte{0xa5, 0xcc}})
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := NewCtx(context.Background(), bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WriteByte(context.Background(), 0xcc); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

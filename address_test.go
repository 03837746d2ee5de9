// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import (
	"context"
	"reflect"
	"testing"
)

func TestAddress(t *testing.T) {
	var addr Address = 0x740000070e41ac28
	if f := addr.Family(); f != 0x28 {
		t.Fatalf("family %#02x", f)
	}
	if c := addr.CRC(); c != 0x74 {
		t.Fatalf("crc %#02x", c)
	}
	if !addr.Valid() {
		t.Fatal("expected a valid address")
	}
	if s := addr.String(); s != "0x740000070e41ac28" {
		t.Fatal(s)
	}
	// Flipping a serial bit invalidates the checksum.
	if (addr ^ 0x100).Valid() {
		t.Fatal("corrupted address passed validation")
	}
	// A zero family code is invalid regardless of the checksum.
	zf := Address(0x9f00000000000100)
	if zf.Valid() {
		t.Fatal("zero family code passed validation")
	}
}

func TestSelect(t *testing.T) {
	b := &recordBus{}
	if err := Select(b, 0x740000070e41ac28); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x55, 0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	if b.resets != 1 || !reflect.DeepEqual(b.w, expected) {
		t.Fatalf("%d resets, wrote %#v", b.resets, b.w)
	}
}

func TestSelect_overdrive(t *testing.T) {
	b := &recordBus{overdrive: true}
	if err := Select(b, 0x740000070e41ac28); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x69, 0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	if !reflect.DeepEqual(b.w, expected) {
		t.Fatalf("wrote %#v", b.w)
	}
}

func TestSelectAll(t *testing.T) {
	b := &recordBus{}
	if err := SelectAll(b); err != nil {
		t.Fatal(err)
	}
	if b.resets != 1 || !reflect.DeepEqual(b.w, []byte{0xcc}) {
		t.Fatalf("%d resets, wrote %#v", b.resets, b.w)
	}
	b = &recordBus{overdrive: true}
	if err := SelectAll(b); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.w, []byte{0x3c}) {
		t.Fatalf("wrote %#v", b.w)
	}
}

func TestSelectCtx(t *testing.T) {
	b := &recordBus{}
	ctx := context.Background()
	if err := SelectCtx(ctx, &busCtxShim{b}, 0x740000070e41ac28); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x55, 0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	if !reflect.DeepEqual(b.w, expected) {
		t.Fatalf("wrote %#v", b.w)
	}
	b = &recordBus{}
	if err := SelectAllCtx(ctx, &busCtxShim{b}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b.w, []byte{0xcc}) {
		t.Fatalf("wrote %#v", b.w)
	}
}

// recordBus records the bytes written to it and succeeds every operation.
type recordBus struct {
	overdrive bool
	resets    int
	w         []byte
}

func (r *recordBus) Reset() (Status, error) {
	r.resets++
	return fakeStatus{presence: true}, nil
}

func (r *recordBus) WriteByte(b byte) error {
	r.w = append(r.w, b)
	return nil
}

func (r *recordBus) ReadByte() (byte, error) { return 0xff, nil }
func (r *recordBus) WriteBit(bit bool) error { return nil }
func (r *recordBus) ReadBit() (bool, error)  { return true, nil }
func (r *recordBus) OverdriveMode() bool     { return r.overdrive }
func (r *recordBus) SetOverdriveMode(enable bool) error {
	r.overdrive = enable
	return nil
}

func (r *recordBus) Triplet(direction bool) (TripletResult, error) {
	return TripletResult{}, ErrUnimplemented
}

// busCtxShim exposes a blocking bus through the suspending contract.
type busCtxShim struct {
	bus Bus
}

func (b *busCtxShim) Reset(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.bus.Reset()
}

func (b *busCtxShim) WriteByte(ctx context.Context, v byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bus.WriteByte(v)
}

func (b *busCtxShim) ReadByte(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.bus.ReadByte()
}

func (b *busCtxShim) WriteBit(ctx context.Context, bit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bus.WriteBit(bit)
}

func (b *busCtxShim) ReadBit(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.bus.ReadBit()
}

func (b *busCtxShim) Triplet(ctx context.Context, direction bool) (TripletResult, error) {
	if err := ctx.Err(); err != nil {
		return TripletResult{}, err
	}
	return b.bus.Triplet(direction)
}

func (b *busCtxShim) OverdriveMode() bool {
	return b.bus.OverdriveMode()
}

func (b *busCtxShim) SetOverdriveMode(ctx context.Context, enable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bus.SetOverdriveMode(enable)
}

type fakeStatus struct {
	presence bool
	shorted  bool
	level    bool
	dir      bool
}

func (s fakeStatus) Presence() bool   { return s.presence }
func (s fakeStatus) Shorted() bool    { return s.shorted }
func (s fakeStatus) LogicLevel() bool { return s.level }
func (s fakeStatus) Direction() bool  { return s.dir }

var _ Bus = &recordBus{}
var _ BusCtx = &busCtxShim{}

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

import "context"

// Dev is a device on a 1-wire bus.
//
// It implements conn.Conn-like transaction semantics: each call to Tx
// selects the device on the bus before exchanging data, so multiple Dev
// handles on the same Bus do not interfere with each other.
type Dev struct {
	Bus  Bus
	Addr Address
}

func (d *Dev) String() string {
	return d.Addr.String()
}

// Tx selects the device, writes w byte by byte, then reads len(r) bytes
// into r.
func (d *Dev) Tx(w, r []byte) error {
	if err := Select(d.Bus, d.Addr); err != nil {
		return err
	}
	for _, b := range w {
		if err := d.Bus.WriteByte(b); err != nil {
			return err
		}
	}
	for i := range r {
		b, err := d.Bus.ReadByte()
		if err != nil {
			return err
		}
		r[i] = b
	}
	return nil
}

// DevCtx is the suspending equivalent of Dev over a BusCtx.
type DevCtx struct {
	Bus  BusCtx
	Addr Address
}

func (d *DevCtx) String() string {
	return d.Addr.String()
}

// Tx selects the device, writes w byte by byte, then reads len(r) bytes
// into r.
func (d *DevCtx) Tx(ctx context.Context, w, r []byte) error {
	if err := SelectCtx(ctx, d.Bus, d.Addr); err != nil {
		return err
	}
	for _, b := range w {
		if err := d.Bus.WriteByte(ctx, b); err != nil {
			return err
		}
	}
	for i := range r {
		b, err := d.Bus.ReadByte(ctx)
		if err != nil {
			return err
		}
		r[i] = b
	}
	return nil
}

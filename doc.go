// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewire implements the host side of the Dallas/Maxim 1-Wire
// multi-drop bus: the capability contract that a bus master must satisfy,
// ROM addressing, the iterative ROM search algorithm and the CRC-8 used by
// 1-Wire devices.
//
// The package is transport agnostic. A concrete master such as the DS2484
// I²C bridge in the ds2484 sub-package implements Bus (or BusCtx for the
// suspending flavor); device drivers and the search engine are written
// against the interfaces only.
//
// A Bus models exclusive ownership of a single electrical line. None of its
// operations may be invoked concurrently; implementations serialize calls
// with an internal lock but interleaving two logical transactions on one bus
// is still a caller error.
package onewire

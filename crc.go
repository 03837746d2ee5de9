// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewire

// CRC8 computes the 1-Wire CRC-8 (polynomial 0x8C, least significant bit
// first, zero seed) over buf. It is the checksum burned into the last byte
// of every ROM code and appended to scratchpad reads by many devices.
func CRC8(buf []byte) byte {
	var crc byte
	for _, b := range buf {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8c
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// CheckCRC reports whether buf, whose last byte is the CRC of the preceding
// bytes, checksums to zero.
func CheckCRC(buf []byte) bool {
	return CRC8(buf) == 0
}

// Copyright 2024 The Gaia Authors
// This file is part of Gaia.
//
// Gaia is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gaia is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Gaia. If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the node and RPC wire formats (§6): a
// SQLite-compatible big-endian 7-bit-continuation varint, the node
// payload codec shared by FullRead/FullWrite, and Marshal/Unmarshal for
// every RPC struct in the storage RPC surface (§4.4).
package wire

// PutVarint appends v's varint encoding to dst and returns the grown
// slice. 1-8 bytes: each byte carries 7 value bits big-endian, high bit
// set on every byte but the last. Values needing more than 56 bits use a
// 9th, final byte carrying the remaining 8 bits raw — the only case
// where all 8 leading bytes carry a set continuation bit.
func PutVarint(dst []byte, v int64) []byte {
	u := uint64(v)
	if u <= 0x7f {
		return append(dst, byte(u))
	}
	if u&0xff00000000000000 != 0 {
		var buf [9]byte
		buf[8] = byte(u)
		u >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(u&0x7f) | 0x80
			u >>= 7
		}
		return append(dst, buf[:]...)
	}

	var rev [8]byte
	n := 0
	for {
		rev[n] = byte(u&0x7f) | 0x80
		u >>= 7
		n++
		if u == 0 {
			break
		}
	}
	rev[0] &^= 0x80 // clears the continuation bit on the terminal (least-significant) byte

	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	for i, j := 0, n-1; j >= 0; i, j = i+1, j-1 {
		dst[start+i] = rev[j]
	}
	return dst
}

// Varint decodes a varint from the front of src, returning the value and
// the number of bytes consumed (0 if src is empty or truncated).
func Varint(src []byte) (v int64, n int) {
	var u uint64
	for i := 0; i < len(src); i++ {
		b := src[i]
		if i == 8 {
			u = u<<8 | uint64(b)
			return int64(u), 9
		}
		u = u<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return int64(u), i + 1
		}
	}
	return 0, 0
}

// VarintLen returns the number of bytes PutVarint would emit for v. It
// must stay numerically identical to gaia/valbuf's duplicated copy (kept
// separate there to avoid an import cycle); any change here must be
// mirrored in gaia/valbuf/cell.go.
func VarintLen(v int64) int {
	u := uint64(v)
	if u <= 0x7f {
		return 1
	}
	if u&0xff00000000000000 != 0 {
		return 9
	}
	n := 0
	for {
		u >>= 7
		n++
		if u == 0 {
			return n
		}
	}
}

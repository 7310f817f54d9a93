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

package wire

import (
	"encoding/binary"

	"github.com/gaiadb/gaia"
)

// writer is a small append-only cursor shared by every RPC struct's
// Marshal method, so each struct's encoding reads as a flat list of
// field puts instead of repeating binary.BigEndian boilerplate.
type writer struct{ buf []byte }

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) bo(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *writer) u32(v uint32) { w.buf = appendU32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = appendU64(w.buf, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.bytes([]byte(s)) }

func (w *writer) cid(c gaia.Cid)   { w.u64(uint64(c)) }
func (w *writer) oid(o gaia.Oid)   { w.u64(uint64(o)) }
func (w *writer) coid(c gaia.Coid) { w.cid(c.Cid); w.oid(c.Oid) }
func (w *writer) tid(t gaia.Tid)   { w.u32(t.D1); w.u64(t.D2) }
func (w *writer) ts(t gaia.Timestamp) {
	w.i64(t.Millis)
	w.u64(t.Logical)
}
func (w *writer) status(s gaia.Status) { w.i64(int64(s)) }

// reader mirrors writer for decoding; every get advances an internal
// offset and reports a truncation error rather than panicking so a
// corrupt buffer yields a StatusCorruptedLog, not a crash.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated RPC buffer")
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) bo() bool { return r.u8() != 0 }

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) bytes() []byte {
	n := int(r.u32())
	if n == 0 || !r.need(n) {
		return nil
	}
	b := append([]byte(nil), r.buf[r.off:r.off+n]...)
	r.off += n
	return b
}

func (r *reader) str() string { return string(r.bytes()) }

func (r *reader) cid() gaia.Cid { return gaia.Cid(r.u64()) }
func (r *reader) oid() gaia.Oid { return gaia.Oid(r.u64()) }
func (r *reader) coid() gaia.Coid {
	return gaia.Coid{Cid: r.cid(), Oid: r.oid()}
}
func (r *reader) tid() gaia.Tid {
	return gaia.Tid{D1: r.u32(), D2: r.u64()}
}
func (r *reader) ts() gaia.Timestamp {
	return gaia.Timestamp{Millis: r.i64(), Logical: r.u64()}
}
func (r *reader) status() gaia.Status { return gaia.Status(r.i64()) }

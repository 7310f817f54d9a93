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

package valbuf

import (
	"sync/atomic"

	"github.com/gaiadb/gaia"
)

// Kind discriminates the two shapes a Valbuf can hold.
type Kind uint8

const (
	KindBlob       Kind = 0
	KindSuperValue Kind = 1
)

// Valbuf is the value a cache entry or a cursor holds: either an opaque
// blob or a SuperValue, tagged with the coid it was read from and the
// timestamps under which it was observed. Valbufs are shared (refcounted)
// while read-only and must be cloned before in-place mutation
// (CloneForWrite), mirroring the original's Ptr<Valbuf> + copy-on-write
// discipline.
type Valbuf struct {
	refs *int32

	Coid   gaia.Coid
	Kind   Kind
	Blob   []byte
	SV     *SuperValue
	ReadTs gaia.Timestamp // version this value was read at
	// CommitTs is the commit timestamp the value was written at, for
	// entries produced by a local write rather than a server read.
	CommitTs gaia.Timestamp
	// immutable marks a Valbuf that must not be mutated in place even
	// though refs == 1: set on values owned by a shared cache entry.
	immutable bool
}

// NewBlob wraps an opaque byte value.
func NewBlob(coid gaia.Coid, data []byte, readTs gaia.Timestamp) *Valbuf {
	one := int32(1)
	return &Valbuf{refs: &one, Coid: coid, Kind: KindBlob, Blob: data, ReadTs: readTs}
}

// NewSuperValue wraps a SuperValue.
func NewSuperValue(coid gaia.Coid, sv *SuperValue, readTs gaia.Timestamp) *Valbuf {
	one := int32(1)
	return &Valbuf{refs: &one, Coid: coid, Kind: KindSuperValue, SV: sv, ReadTs: readTs}
}

// IsSuperValue reports whether vb holds a SuperValue rather than a blob.
func (vb *Valbuf) IsSuperValue() bool { return vb.Kind == KindSuperValue }

// Bytes returns the opaque blob payload; panics if vb holds a SuperValue
// (callers must check IsSuperValue first, matching the original's wrong-
// type behavior of returning StatusWrongType rather than a zero value).
func (vb *Valbuf) Bytes() []byte {
	if vb.Kind != KindBlob {
		panic("valbuf: Bytes called on a SuperValue")
	}
	return vb.Blob
}

// Ref increments the shared reference count and returns vb itself, so a
// cache can hand out the same Valbuf to multiple readers without copying.
func (vb *Valbuf) Ref() *Valbuf {
	atomic.AddInt32(vb.refs, 1)
	return vb
}

// MarkShared marks vb as cache-owned: future CloneForWrite calls will
// always deep-copy it regardless of the refcount, since the cache may hand
// the same pointer to a concurrent reader at any time.
func (vb *Valbuf) MarkShared() *Valbuf {
	vb.immutable = true
	return vb
}

// Release decrements the shared reference count. Valbuf carries no
// destructor (Go's GC reclaims the backing arrays once unreferenced); this
// exists so callers can mirror the original's Ptr<Valbuf> release points
// without the dtree/txn packages having to special-case Go's lack of RAII.
func (vb *Valbuf) Release() {
	atomic.AddInt32(vb.refs, -1)
}

// CloneForWrite returns a Valbuf safe to mutate in place: if vb is the
// sole owner of its contents and not cache-shared, it is mutated and
// returned as-is; otherwise a deep copy is returned. This is the
// generalization of the original's saveCursorPosition copy-then-truncate
// special case: DESIGN.md records the decision to always deep-copy rather
// than attempt the original's truncate-in-place optimization, since Go
// slices make "truncate but keep capacity for regrowth" an easy source of
// aliasing bugs across goroutines sharing a cache entry.
func (vb *Valbuf) CloneForWrite() *Valbuf {
	if !vb.immutable && atomic.LoadInt32(vb.refs) == 1 {
		return vb
	}
	one := int32(1)
	nb := &Valbuf{
		refs:     &one,
		Coid:     vb.Coid,
		Kind:     vb.Kind,
		ReadTs:   vb.ReadTs,
		CommitTs: vb.CommitTs,
	}
	switch vb.Kind {
	case KindBlob:
		nb.Blob = append([]byte(nil), vb.Blob...)
	case KindSuperValue:
		nb.SV = vb.SV.DeepCopy()
	}
	return nb
}

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

// Package valbuf implements the supervalue data model: Valbuf (the
// reference-counted, copy-on-write value buffer), SuperValue (the B-tree
// node format), ListCell, and the pending-operation log (§3, §4.1).
package valbuf

import "github.com/gaiadb/gaia"

// CellType distinguishes integer-keyed trees (tables) from composite-keyed
// trees (secondary indices).
type CellType uint8

const (
	CellTypeInt       CellType = 0
	CellTypePacked    CellType = 1
)

// Cell is an ordered entry in a node: (nKey, pKey?, value). Integer-key
// cells have PKey == nil; composite-key cells own their PKey bytes.
// Value is the child oid for inner nodes and unused for leaves (the row
// payload lives in the data container).
type Cell struct {
	NKey  int64
	PKey  []byte // nil for integer keys
	Value gaia.Oid
}

// Size returns the on-the-wire/in-memory byte cost of the cell, used for
// CellsSize bookkeeping and split-size thresholding.
func (c Cell) Size() int {
	return varintLen(c.NKey) + 8 + len(c.PKey)
}

// Clone deep-copies c, duplicating PKey so the two cells can be freed
// independently.
func (c Cell) Clone() Cell {
	nc := c
	if c.PKey != nil {
		nc.PKey = append([]byte(nil), c.PKey...)
	}
	return nc
}

// Equal reports whether two cells have identical key and value; used by
// tests and by ListCell::equal in the original.
func (c Cell) Equal(o Cell) bool {
	if c.NKey != o.NKey || c.Value != o.Value {
		return false
	}
	if (c.PKey == nil) != (o.PKey == nil) {
		return false
	}
	if c.PKey == nil {
		return true
	}
	if len(c.PKey) != len(o.PKey) {
		return false
	}
	for i := range c.PKey {
		if c.PKey[i] != o.PKey[i] {
			return false
		}
	}
	return true
}

// varintLen returns the length in bytes that the SQLite-compatible varint
// encoding (gaia/wire) would use for v, without importing gaia/wire (which
// itself depends on valbuf for node marshalling) — duplicated on purpose
// to avoid an import cycle; see gaia/wire/varint.go for the canonical
// encoder/decoder.
func varintLen(v int64) int {
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

// KeyInfo is the packed-record collation contract this module accepts as
// an external collaborator (§1 Non-goals: "the packed-record collation
// library used to compare composite keys" is out of scope). Callers supply
// a KeyInfo that knows how to compare two packed composite keys according
// to the index's declared column collations and sort directions.
type KeyInfo interface {
	// Compare orders the packed composite key bytes a and b, returning
	// <0, 0, >0 like bytes.Compare but honoring per-column collation and
	// ASC/DESC sort order.
	Compare(a, b []byte) int
}

// CompareCells orders two cells under ki. Integer-key cells (PKey == nil
// on both sides) compare their NKey directly; composite-key cells defer to
// ki.Compare on PKey.
func CompareCells(a, b Cell, ki KeyInfo) int {
	if a.PKey == nil && b.PKey == nil {
		switch {
		case a.NKey < b.NKey:
			return -1
		case a.NKey > b.NKey:
			return 1
		default:
			return 0
		}
	}
	return ki.Compare(a.PKey, b.PKey)
}

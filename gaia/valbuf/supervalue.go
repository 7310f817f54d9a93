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

import "github.com/gaiadb/gaia"

// MaxAttrs bounds the fixed attribute slots a SuperValue can carry.
const MaxAttrs = 6

// Conventional DTree node attribute slots (§3).
const (
	AttrFlags    = 0
	AttrHeight   = 1
	AttrLastPtr  = 2
	AttrLeftPtr  = 3
	AttrRightPtr = 4

	// NodeNattrs is the number of attribute slots a DTree node populates;
	// MaxAttrs leaves one spare slot for future node kinds.
	NodeNattrs = 5
)

// Flag bits of Attrs[AttrFlags].
const (
	FlagIntKey uint64 = 1 << 0
	FlagLeaf   uint64 = 1 << 1
)

// SuperValue is the B-tree node format: Nattrs fixed attribute slots plus
// an ordered cell list. For inner nodes each cell's Value is a child oid;
// for leaves Value is unused (the row payload lives in DATA_CID(cid)).
type SuperValue struct {
	Nattrs    int
	Attrs     [MaxAttrs]uint64
	CellType  CellType
	Cells     []Cell
	CellsSize int
	Prki      KeyInfo // shared; nil for intkey trees
}

// NewLeaf builds an empty leaf SuperValue. intKey selects CellTypeInt vs
// CellTypePacked (ki is ignored when intKey is true).
func NewLeaf(intKey bool, ki KeyInfo) *SuperValue {
	return initNode(true, intKey, ki)
}

// NewInner builds an empty inner SuperValue at the given height (height
// must be >= 1; leaves are height 0).
func NewInner(height uint64, intKey bool, ki KeyInfo) *SuperValue {
	sv := initNode(false, intKey, ki)
	sv.Attrs[AttrHeight] = height
	return sv
}

func initNode(leaf, intKey bool, ki KeyInfo) *SuperValue {
	sv := &SuperValue{Nattrs: NodeNattrs}
	var flags uint64
	if intKey {
		flags |= FlagIntKey
		sv.CellType = CellTypeInt
	} else {
		sv.CellType = CellTypePacked
		sv.Prki = ki
	}
	if leaf {
		flags |= FlagLeaf
	}
	sv.Attrs[AttrFlags] = flags
	return sv
}

func (sv *SuperValue) IsLeaf() bool   { return sv.Attrs[AttrFlags]&FlagLeaf != 0 }
func (sv *SuperValue) IsIntKey() bool { return sv.Attrs[AttrFlags]&FlagIntKey != 0 }
func (sv *SuperValue) Height() uint64 { return sv.Attrs[AttrHeight] }
func (sv *SuperValue) LastPtr() gaia.Oid  { return gaia.Oid(sv.Attrs[AttrLastPtr]) }
func (sv *SuperValue) LeftPtr() gaia.Oid  { return gaia.Oid(sv.Attrs[AttrLeftPtr]) }
func (sv *SuperValue) RightPtr() gaia.Oid { return gaia.Oid(sv.Attrs[AttrRightPtr]) }

// ChildAt returns the child oid for index in [0, Ncells] where Ncells
// means "use LastPtr".
func (sv *SuperValue) ChildAt(index int) gaia.Oid {
	if index == len(sv.Cells) {
		return sv.LastPtr()
	}
	return sv.Cells[index].Value
}

// Ncells is the number of cells currently in the node.
func (sv *SuperValue) Ncells() int { return len(sv.Cells) }

// InsertCell grows Cells by one at pos, leaving the new slot zero-valued
// for the caller to populate; the caller is responsible for updating
// CellsSize to match (mirrors the original's InsertCell contract, which
// leaves sizing to the caller since the caller knows the cell's eventual
// content).
func (sv *SuperValue) InsertCell(pos int) {
	sv.Cells = append(sv.Cells, Cell{})
	copy(sv.Cells[pos+1:], sv.Cells[pos:])
	sv.Cells[pos] = Cell{}
}

// DeleteCell removes the cell at pos, freeing its owned composite-key
// bytes (a no-op for Go's GC, kept for symmetry with DeleteCellRange) and
// updating CellsSize.
func (sv *SuperValue) DeleteCell(pos int) {
	sv.CellsSize -= sv.Cells[pos].Size()
	sv.Cells = append(sv.Cells[:pos], sv.Cells[pos+1:]...)
}

// DeleteCellRange removes cells [start, end), updating CellsSize.
func (sv *SuperValue) DeleteCellRange(start, end int) {
	for i := start; i < end; i++ {
		sv.CellsSize -= sv.Cells[i].Size()
	}
	sv.Cells = append(sv.Cells[:start], sv.Cells[end:]...)
}

// DeepCopy duplicates the cell array and attribute array, and takes a
// shared reference to Prki (KeyInfo is treated as immutable and shared,
// matching the original's Ptr<RcKeyInfo> reference-counted sharing).
func (sv *SuperValue) DeepCopy() *SuperValue {
	nc := &SuperValue{
		Nattrs:    sv.Nattrs,
		Attrs:     sv.Attrs,
		CellType:  sv.CellType,
		CellsSize: sv.CellsSize,
		Prki:      sv.Prki,
		Cells:     make([]Cell, len(sv.Cells)),
	}
	for i, c := range sv.Cells {
		nc.Cells[i] = c.Clone()
	}
	return nc
}

// RecomputeCellsSize recalculates CellsSize from scratch; used after bulk
// cell mutation where incremental bookkeeping would be error-prone (node
// construction, deserialization).
func (sv *SuperValue) RecomputeCellsSize() {
	sv.CellsSize = 0
	for _, c := range sv.Cells {
		sv.CellsSize += c.Size()
	}
}

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

// OpType discriminates the three shapes a PendingOp can take (§4.2.1).
type OpType uint8

const (
	OpAdd      OpType = iota // list-add
	OpDelRange               // list-delete-range
	OpAttrSet                // attribute set
)

// IntervalType encodes a half-/open/closed interval bound pair for
// listDelRange: 0=(a,b) 1=(a,b] 2=(a,∞) 3=[a,b) 4=[a,b] 5=[a,∞)
// 6=(-∞,b) 7=(-∞,b] 8=(-∞,∞).
type IntervalType uint8

// Bound kinds, shared by both ends of an interval.
const (
	BoundOpen      = 0
	BoundClosed    = 1
	BoundUnbounded = 2
)

// Left returns the left-bound kind: IntervalType/3.
func (it IntervalType) Left() int { return int(it) / 3 }

// Right returns the right-bound kind: IntervalType%3.
func (it IntervalType) Right() int { return int(it) % 3 }

// PendingOp is one entry of a transaction's per-coid operation log: a
// list-add, a list-delete-range, or an attribute set, tagged with the
// subtransaction level that installed it and (for composite-key trees)
// the shared KeyInfo needed to order its cell(s) (§4.2, §4.2.1).
type PendingOp struct {
	Type  OpType
	Level int
	Ki    KeyInfo

	// OpAdd
	Cell Cell

	// OpDelRange
	Interval    IntervalType
	Cell1, Cell2 Cell

	// OpAttrSet
	AttrID    int
	AttrValue uint64
}

// Apply replays op against sv in place, per §4.2.1's "applying the
// PendingOps log to the server snapshot equals the materialized TxCache
// entry" invariant (I6).
func (op PendingOp) Apply(sv *SuperValue) error {
	switch op.Type {
	case OpAdd:
		return op.applyAdd(sv)
	case OpDelRange:
		return op.applyDelRange(sv)
	case OpAttrSet:
		return op.applyAttrSet(sv)
	default:
		return gaia.Errorf(gaia.StatusGeneric, "valbuf: unknown pending-op type %d", op.Type)
	}
}

func (op PendingOp) applyAdd(sv *SuperValue) error {
	idx, matches := SearchCell(sv, op.Cell, true, op.Ki)
	if matches {
		sv.Cells[idx] = op.Cell.Clone()
		sv.RecomputeCellsSize()
		return nil
	}
	sv.InsertCell(idx)
	sv.Cells[idx] = op.Cell.Clone()
	sv.CellsSize += op.Cell.Size()
	return nil
}

func (op PendingOp) applyDelRange(sv *SuperValue) error {
	lo := 0
	if op.Interval.Left() != BoundUnbounded {
		idx, matches := SearchCell(sv, op.Cell1, false, op.Ki)
		lo = idx
		if matches && op.Interval.Left() == BoundOpen {
			lo = idx + 1
		}
	}
	hi := len(sv.Cells)
	if op.Interval.Right() != BoundUnbounded {
		idx, matches := SearchCell(sv, op.Cell2, false, op.Ki)
		hi = idx
		if matches && op.Interval.Right() == BoundClosed {
			hi = idx + 1
		}
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(sv.Cells) {
		hi = len(sv.Cells)
	}
	if lo >= hi {
		return nil
	}
	sv.DeleteCellRange(lo, hi)
	return nil
}

func (op PendingOp) applyAttrSet(sv *SuperValue) error {
	if op.AttrID < 0 || op.AttrID >= sv.Nattrs {
		return gaia.NewError(gaia.StatusAttrOutOfRange, nil)
	}
	sv.Attrs[op.AttrID] = op.AttrValue
	return nil
}

// ApplyAll replays ops against sv in log order.
func ApplyAll(sv *SuperValue, ops []PendingOp) error {
	for _, op := range ops {
		if err := op.Apply(sv); err != nil {
			return err
		}
	}
	return nil
}

// DropAbove returns the ops with Level <= keep, implementing the local
// half of abortSubtrans(L): "drop all entries with level > L" (§4.2).
func DropAbove(ops []PendingOp, keep int) []PendingOp {
	out := ops[:0:0]
	for _, op := range ops {
		if op.Level <= keep {
			out = append(out, op)
		}
	}
	return out
}

// MergeDown retags every op with Level > keep down to keep, implementing
// the local half of releaseSubtrans(L): "retag entries with level > L to
// level L" (§4.2).
func MergeDown(ops []PendingOp, keep int) {
	for i := range ops {
		if ops[i].Level > keep {
			ops[i].Level = keep
		}
	}
}

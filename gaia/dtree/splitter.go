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

package dtree

import (
	"context"
	"sync"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/txn"
	"github.com/gaiadb/gaia/valbuf"
)

// Splitter implements txn.Splitter: the commit-time work-list callback
// that actually rebalances an over-size node into two (§4.6's split
// trigger is gaia/txn's; this is the algorithm it dispatches to). Each
// call runs in its own short transaction, independent of whichever
// transaction originally queued the work — by the time a split reaches
// the front of the queue its triggering transaction has already
// committed.
type Splitter struct {
	deps txn.Deps
	tids *gaia.TidAllocator
	oids *gaia.OidAllocator

	mu  sync.Mutex
	kis map[gaia.Cid]valbuf.KeyInfo
}

// NewSplitter builds a Splitter that mints its own transactions (via
// deps) and its own node oids (via oids, which must not be shared with
// any cursor minting oids for the same cid range).
func NewSplitter(deps txn.Deps, tids *gaia.TidAllocator, oids *gaia.OidAllocator) *Splitter {
	return &Splitter{deps: deps, tids: tids, oids: oids, kis: make(map[gaia.Cid]valbuf.KeyInfo)}
}

// Register records the KeyInfo a tree rooted at cid compares composite
// keys with. Intkey trees never need to call this: CompareCells never
// dereferences ki when both cells carry a nil PKey.
func (s *Splitter) Register(cid gaia.Cid, ki valbuf.KeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kis[cid] = ki
}

func (s *Splitter) keyInfo(cid gaia.Cid) valbuf.KeyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kis[cid]
}

// Split rebalances coid, which the caller believes is over the §4.6 size
// threshold, into two siblings (or grows the tree by one level if coid
// is the root). A node already brought back under threshold by a
// concurrent dispatch is left alone.
func (s *Splitter) Split(ctx context.Context, coid gaia.Coid, isLeaf bool) error {
	ki := s.keyInfo(coid.Cid)

	tx := txn.New(s.deps)
	tx.Start(s.tids.Next())

	vb, err := tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, ki)
	if err != nil {
		tx.Abort(ctx)
		return err
	}
	sv := vb.SV
	if !overSplitThreshold(sv.Ncells(), int64(sv.CellsSize)) {
		tx.Abort(ctx)
		return nil
	}

	var splitErr error
	if coid.Oid == 0 {
		splitErr = s.splitRoot(ctx, tx, coid, sv, ki)
	} else {
		splitErr = s.splitNonRoot(ctx, tx, coid, sv, ki)
	}
	if splitErr != nil {
		tx.Abort(ctx)
		return splitErr
	}

	decision, err := tx.TryCommit(ctx)
	if err != nil {
		return err
	}
	if decision != txn.DecisionCommitted {
		return gaia.Errorf(gaia.StatusGeneric, "dtree: split of %s aborted, decision=%d", coid, decision)
	}
	return nil
}

// halves computes the left/right cell slices and, for inner nodes, the
// promoted separator key and the lastptr each half keeps. Leaf splits
// keep every cell on one side or the other; inner splits consume one
// cell (at mid) as the promoted separator, per the convention that a
// cell's Value is the child owning keys up to and including its key,
// with LastPtr owning everything beyond the final cell.
func halves(sv *valbuf.SuperValue, isLeaf bool) (left, right []valbuf.Cell, leftLastPtr gaia.Oid, sep valbuf.Cell) {
	mid := sv.Ncells() / 2
	if isLeaf {
		left = sv.Cells[:mid]
		right = sv.Cells[mid:]
		sep = left[len(left)-1]
		return left, right, 0, sep
	}
	left = sv.Cells[:mid]
	right = sv.Cells[mid+1:]
	promoted := sv.Cells[mid]
	return left, right, promoted.Value, promoted
}

func cloneHalf(sv *valbuf.SuperValue, cells []valbuf.Cell, lastPtr, leftPtr, rightPtr gaia.Oid, isLeaf bool) *valbuf.SuperValue {
	var half *valbuf.SuperValue
	if isLeaf {
		half = valbuf.NewLeaf(sv.IsIntKey(), sv.Prki)
	} else {
		half = valbuf.NewInner(sv.Height(), sv.IsIntKey(), sv.Prki)
		half.Attrs[valbuf.AttrLastPtr] = uint64(lastPtr)
	}
	half.Cells = make([]valbuf.Cell, len(cells))
	for i, c := range cells {
		half.Cells[i] = c.Clone()
	}
	half.RecomputeCellsSize()
	half.Attrs[valbuf.AttrLeftPtr] = uint64(leftPtr)
	half.Attrs[valbuf.AttrRightPtr] = uint64(rightPtr)
	return half
}

// splitNonRoot splits coid in place: it keeps its own oid and the left
// half of the cells, a freshly minted sibling takes the right half, and
// the separator is threaded into the parent (recursively splitting the
// parent too, if that insert pushes it over threshold).
func (s *Splitter) splitNonRoot(ctx context.Context, tx *txn.Transaction, coid gaia.Coid, sv *valbuf.SuperValue, ki valbuf.KeyInfo) error {
	left, right, leftLastPtr, sep := halves(sv, sv.IsLeaf())
	newOid := s.oids.Next()
	newCoid := gaia.Coid{Cid: coid.Cid, Oid: newOid}

	leftSv := cloneHalf(sv, left, leftLastPtr, sv.LeftPtr(), newOid, sv.IsLeaf())
	rightSv := cloneHalf(sv, right, sv.LastPtr(), coid.Oid, sv.RightPtr(), sv.IsLeaf())

	if err := tx.WriteSuperValue(ctx, coid, leftSv); err != nil {
		return err
	}
	if err := tx.WriteSuperValue(ctx, newCoid, rightSv); err != nil {
		return err
	}
	if rightNeighbor := sv.RightPtr(); rightNeighbor != 0 {
		nc := gaia.Coid{Cid: coid.Cid, Oid: rightNeighbor}
		if err := tx.AttrSet(ctx, nc, valbuf.AttrLeftPtr, uint64(newOid)); err != nil {
			return err
		}
	}

	return s.fixupParent(ctx, tx, coid, newCoid, sep, left[len(left)-1], ki)
}

// fixupParent locates the parent that used to reference x (via a fresh
// real search guided by a cell that stayed inside x's shrunk range) and
// replaces its reference to x with one to y plus a new entry for x's
// shrunk range, then re-checks the parent against the split threshold.
func (s *Splitter) fixupParent(ctx context.Context, tx *txn.Transaction, x, y gaia.Coid, sep, guide valbuf.Cell, ki valbuf.KeyInfo) error {
	c := New(tx, x.Cid, false, ki, s.oids)
	if err := c.refreshCursor(ctx, guide, x.Oid); err != nil {
		return err
	}
	parent := &c.stack[len(c.stack)-1]
	psv := parent.vb.SV

	if parent.index == psv.Ncells() {
		if err := tx.AttrSet(ctx, parent.coid, valbuf.AttrLastPtr, uint64(y.Oid)); err != nil {
			return err
		}
	} else {
		old := psv.Cells[parent.index]
		if err := tx.ListDelRange(ctx, parent.coid, valbuf.IntervalType(4), old, old, ki); err != nil {
			return err
		}
		replacement := valbuf.Cell{NKey: old.NKey, PKey: old.PKey, Value: y.Oid}
		if err := tx.ListAdd(ctx, parent.coid, replacement, ki, 0); err != nil {
			return err
		}
	}

	newEntry := valbuf.Cell{NKey: sep.NKey, PKey: sep.PKey, Value: x.Oid}
	stats, err := tx.ListAddSplitStats(ctx, parent.coid, newEntry, ki, 0)
	if err != nil {
		return err
	}
	if overSplitThreshold(int(stats.Ncells), stats.Size) {
		tx.QueueSplit(parent.coid, false)
	}
	return nil
}

// splitRoot grows the tree by one level: the root's current content
// moves to a freshly minted oid, a new sibling takes the right half as
// in splitNonRoot, and the root object (whose oid is fixed at 0) is
// overwritten with a fresh single-cell inner node pointing at both.
func (s *Splitter) splitRoot(ctx context.Context, tx *txn.Transaction, coid gaia.Coid, sv *valbuf.SuperValue, ki valbuf.KeyInfo) error {
	left, right, leftLastPtr, sep := halves(sv, sv.IsLeaf())
	leftOid := s.oids.Next()
	rightOid := s.oids.Next()
	leftCoid := gaia.Coid{Cid: coid.Cid, Oid: leftOid}
	rightCoid := gaia.Coid{Cid: coid.Cid, Oid: rightOid}

	leftSv := cloneHalf(sv, left, leftLastPtr, 0, rightOid, sv.IsLeaf())
	rightSv := cloneHalf(sv, right, sv.LastPtr(), leftOid, 0, sv.IsLeaf())
	if err := tx.WriteSuperValue(ctx, leftCoid, leftSv); err != nil {
		return err
	}
	if err := tx.WriteSuperValue(ctx, rightCoid, rightSv); err != nil {
		return err
	}

	newRoot := valbuf.NewInner(sv.Height()+1, sv.IsIntKey(), sv.Prki)
	newRoot.Cells = []valbuf.Cell{{NKey: sep.NKey, PKey: sep.PKey, Value: leftOid}}
	newRoot.RecomputeCellsSize()
	newRoot.Attrs[valbuf.AttrLastPtr] = uint64(rightOid)
	return tx.WriteSuperValue(ctx, coid, newRoot)
}

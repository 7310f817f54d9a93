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

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
)

// Delete removes the cell the cursor currently sits on (§4.5 "Delete").
// Accepts a VALID or DIRECT cursor (the latter is re-seeked through the
// tree first, since Delete needs the node stack DIRECT's fast path
// skipped); leaves it INVALID afterward (the caller must reseek or
// advance before doing anything else with it).
func (c *Cursor) Delete(ctx context.Context) error {
	if c.state == StateDirect {
		if _, err := c.treeSeek(ctx, c.directIntKey, nil, true); err != nil {
			return err
		}
	}
	if c.state != StateValid {
		return gaia.Errorf(gaia.StatusGeneric, "dtree: Delete requires a VALID or DIRECT cursor")
	}
	leaf := &c.stack[c.levelLeaf]
	sv := leaf.sv()
	victim := sv.Cells[leaf.index]

	if c.intKey {
		dataCoid := gaia.Coid{Cid: gaia.DataCid(c.rootCid), Oid: gaia.Oid(victim.NKey)}
		if err := c.tx.Write(ctx, dataCoid, nil); err != nil {
			return err
		}
	}
	if err := c.deleteEntry(ctx, c.levelLeaf, victim); err != nil {
		return err
	}
	c.state = StateInvalid
	return nil
}

// deleteEntry removes the pointer/cell at c.stack[level].index, recursing
// into the parent when the node empties out (§4.5 Delete steps 2-3).
// guide is a cell that belonged to the node being emptied, carried down
// from the original leaf-level victim so a confused cache can relocate
// the path from the root (DtFindRealLevelPath / DtRefreshCursor).
func (c *Cursor) deleteEntry(ctx context.Context, level int, guide valbuf.Cell) error {
	node := &c.stack[level]
	if !node.real {
		vb, err := c.readReal(ctx, node.coid)
		if err != nil {
			return err
		}
		node.vb, node.real = vb, true
	}
	sv := node.vb.SV
	isLeaf := sv.IsLeaf()
	idx := node.index

	ndeletable := sv.Ncells()
	if !isLeaf {
		ndeletable++ // lastptr also counts as a deletable child pointer
	}

	if ndeletable > 1 {
		if isLeaf || idx < sv.Ncells() {
			victim := sv.Cells[idx]
			return c.tx.ListDelRange(ctx, node.coid, valbuf.IntervalType(4), victim, victim, c.ki)
		}
		// Victim is lastptr: rotate the last regular cell into its place.
		lastIdx := sv.Ncells() - 1
		last := sv.Cells[lastIdx]
		if err := c.tx.ListDelRange(ctx, node.coid, valbuf.IntervalType(4), last, last, c.ki); err != nil {
			return err
		}
		return c.tx.AttrSet(ctx, node.coid, valbuf.AttrLastPtr, uint64(last.Value))
	}

	if level == 0 {
		return c.deleteRootEntry(ctx, node.coid, sv, idx, isLeaf)
	}

	// The node becomes empty: stitch its neighbors together, delete the
	// node object itself, then remove the parent's pointer to it.
	leftOid, rightOid := sv.LeftPtr(), sv.RightPtr()
	if leftOid != 0 {
		if err := c.tx.AttrSet(ctx, gaia.Coid{Cid: c.rootCid, Oid: leftOid}, valbuf.AttrRightPtr, uint64(rightOid)); err != nil {
			return err
		}
	}
	if rightOid != 0 {
		if err := c.tx.AttrSet(ctx, gaia.Coid{Cid: c.rootCid, Oid: rightOid}, valbuf.AttrLeftPtr, uint64(leftOid)); err != nil {
			return err
		}
	}
	if err := c.tx.Write(ctx, node.coid, nil); err != nil {
		return err
	}

	parentLevel := level - 1
	confused, err := c.findRealLevelPath(ctx, parentLevel, node.coid.Oid, guide)
	if err != nil {
		return err
	}
	if confused {
		if err := c.refreshCursor(ctx, guide, node.coid.Oid); err != nil {
			return err
		}
		parentLevel = len(c.stack) - 1
	}
	return c.deleteEntry(ctx, parentLevel, guide)
}

// deleteRootEntry handles level-0's special case: the root object always
// survives (its coid is the tree's fixed identity), so emptying it means
// either collapsing an inner root to an empty leaf or, for an
// already-leaf root, just removing its sole remaining cell.
func (c *Cursor) deleteRootEntry(ctx context.Context, coid gaia.Coid, sv *valbuf.SuperValue, idx int, isLeaf bool) error {
	if !isLeaf {
		if err := c.tx.AttrSet(ctx, coid, valbuf.AttrLastPtr, 0); err != nil {
			return err
		}
		if err := c.tx.AttrSet(ctx, coid, valbuf.AttrHeight, 0); err != nil {
			return err
		}
		return c.tx.AttrSet(ctx, coid, valbuf.AttrFlags, sv.Attrs[valbuf.AttrFlags]|valbuf.FlagLeaf)
	}
	if sv.Ncells() == 0 {
		return nil
	}
	victim := sv.Cells[idx]
	return c.tx.ListDelRange(ctx, coid, valbuf.IntervalType(4), victim, victim, c.ki)
}

// findRealLevelPath verifies that c.stack[level]'s real child pointer at
// its cached index still names targetOid; if not, it tries a linear scan
// over every child pointer (AdjustIndex) before giving up. confused is
// true when even that scan fails to find targetOid, meaning the cache
// has drifted too far for a local repair and DtRefreshCursor is needed.
func (c *Cursor) findRealLevelPath(ctx context.Context, level int, targetOid gaia.Oid, guide valbuf.Cell) (confused bool, err error) {
	node := &c.stack[level]
	if !node.real {
		vb, rerr := c.readReal(ctx, node.coid)
		if rerr != nil {
			return false, rerr
		}
		node.vb, node.real = vb, true
	}
	sv := node.vb.SV
	if sv.ChildAt(node.index) == targetOid {
		return false, nil
	}
	for i := 0; i <= sv.Ncells(); i++ {
		if sv.ChildAt(i) == targetOid {
			node.index = i
			return false, nil
		}
	}
	return true, nil
}

// refreshCursor is DtRefreshCursor: a full real-node search from the
// root for guide, rebuilding c.stack level by level until it reaches a
// node whose child pointer equals targetOid (the parent we were looking
// for) or a leaf (targetOid not found as an inner pointer — the caller's
// invariant is violated and the tree is corrupt).
func (c *Cursor) refreshCursor(ctx context.Context, guide valbuf.Cell, targetOid gaia.Oid) error {
	c.reset()
	oid := gaia.Oid(0)
	for level := 0; ; level++ {
		if level >= MaxLevels {
			return c.fault(gaia.Errorf(gaia.StatusGeneric, "dtree: refreshCursor exceeded max depth %d", MaxLevels))
		}
		coid := gaia.Coid{Cid: c.rootCid, Oid: oid}
		vb, err := c.readReal(ctx, coid)
		if err != nil {
			return err
		}
		sv := vb.SV
		index, _ := valbuf.SearchCell(sv, guide, false, c.ki)
		c.pushReal(coid, vb, index)
		if sv.IsLeaf() {
			return gaia.Errorf(gaia.StatusCorruptedLog, "dtree: refreshCursor reached a leaf without finding the target child")
		}
		childOid := sv.ChildAt(index)
		if childOid == targetOid {
			return nil
		}
		oid = childOid
	}
}

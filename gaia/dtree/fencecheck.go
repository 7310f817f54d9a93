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
	"fmt"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
)

// Violation is one invariant breach found by CheckFences (§4.5.2), named
// after cmd/dtreeinspect's `-c` report format ("cell outside range
// (fencemin, fencemax]", and similar).
type Violation struct {
	Coid gaia.Coid
	Msg  string
}

func (v Violation) String() string { return fmt.Sprintf("%s: %s", v.Coid, v.Msg) }

// CheckFences walks the whole tree from the root, verifying I2 (strict
// cell ordering within a node), I3 (every cell/child key falls within
// the node's inherited fence range, and a child's own range is derived
// from its parent's cells per §3), and I4 (LEFTPTR/RIGHTPTR sibling
// symmetry, with matching HEIGHT and LEAF/INTKEY flags). It reads every
// node for real (never from cache), since its purpose is to catch
// corruption the cache itself might be hiding.
func (c *Cursor) CheckFences(ctx context.Context) ([]Violation, error) {
	var out []Violation
	if err := c.checkNode(ctx, c.root(), nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Cursor) checkNode(ctx context.Context, coid gaia.Coid, fencemin, fencemax *valbuf.Cell, out *[]Violation) error {
	vb, err := c.tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, c.ki)
	if err != nil {
		return err
	}
	sv := vb.SV

	for i, cell := range sv.Cells {
		if fencemin != nil && c.cmpCells(*fencemin, cell) >= 0 {
			*out = append(*out, Violation{coid, fmt.Sprintf("cell %d (key %d) outside range (fencemin, fencemax]: not > fencemin", i, cell.NKey)})
		}
		if fencemax != nil && c.cmpCells(cell, *fencemax) > 0 {
			*out = append(*out, Violation{coid, fmt.Sprintf("cell %d (key %d) outside range (fencemin, fencemax]: not <= fencemax", i, cell.NKey)})
		}
		if i > 0 && c.cmpCells(sv.Cells[i-1], cell) >= 0 {
			*out = append(*out, Violation{coid, fmt.Sprintf("cell %d not strictly greater than cell %d", i, i-1)})
		}
	}

	if !sv.IsLeaf() {
		for i := 0; i <= sv.Ncells(); i++ {
			childOid := sv.ChildAt(i)
			childCoid := gaia.Coid{Cid: coid.Cid, Oid: childOid}
			var childMin, childMax *valbuf.Cell
			if i == 0 {
				childMin = fencemin
			} else {
				childMin = &sv.Cells[i-1]
			}
			if i == sv.Ncells() {
				childMax = fencemax
			} else {
				childMax = &sv.Cells[i]
			}
			if err := c.checkNode(ctx, childCoid, childMin, childMax, out); err != nil {
				return err
			}
		}
	}

	if right := sv.RightPtr(); right != 0 {
		rightCoid := gaia.Coid{Cid: coid.Cid, Oid: right}
		rvb, err := c.tx.Vsuperget(ctx, rightCoid, valbuf.Cell{}, false, c.ki)
		if err != nil {
			return err
		}
		rsv := rvb.SV
		if rsv.LeftPtr() != coid.Oid {
			*out = append(*out, Violation{coid, fmt.Sprintf("RIGHTPTR points to %s but its LEFTPTR is %x, not back to this node", rightCoid, rsv.LeftPtr())})
		}
		if rsv.Height() != sv.Height() {
			*out = append(*out, Violation{coid, fmt.Sprintf("sibling %s has HEIGHT %d, expected %d", rightCoid, rsv.Height(), sv.Height())})
		}
		const siblingFlags = valbuf.FlagLeaf | valbuf.FlagIntKey
		if rsv.Attrs[valbuf.AttrFlags]&siblingFlags != sv.Attrs[valbuf.AttrFlags]&siblingFlags {
			*out = append(*out, Violation{coid, fmt.Sprintf("sibling %s has inconsistent LEAF/INTKEY flags", rightCoid)})
		}
		if sv.Ncells() > 0 && rsv.Ncells() > 0 && c.cmpCells(sv.Cells[sv.Ncells()-1], rsv.Cells[0]) >= 0 {
			*out = append(*out, Violation{coid, fmt.Sprintf("last cell not strictly less than sibling %s's first cell", rightCoid)})
		}
	}

	return nil
}

func (c *Cursor) cmpCells(a, b valbuf.Cell) int {
	return valbuf.CompareCells(a, b, c.ki)
}

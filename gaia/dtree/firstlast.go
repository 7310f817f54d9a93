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
)

// First positions the cursor at the tree's leftmost cell (§4.5 "First /
// Last"): a cache-or-real downward walk always choosing the leftmost
// child, climbing and retrying if the leaf reached doesn't have
// LEFTPTR == 0 (meaning the cache led down a stale path).
func (c *Cursor) First(ctx context.Context) (Result, error) { return c.firstOrLast(ctx, true) }

// Last positions the cursor at the tree's rightmost cell.
func (c *Cursor) Last(ctx context.Context) (Result, error) { return c.firstOrLast(ctx, false) }

func (c *Cursor) firstOrLast(ctx context.Context, first bool) (Result, error) {
	c.reset()
	oid := gaia.Oid(0)
	for level := 0; ; level++ {
		if level >= MaxLevels {
			return 0, c.fault(gaia.Errorf(gaia.StatusGeneric, "dtree: cursor exceeded max depth %d", MaxLevels))
		}
		coid := gaia.Coid{Cid: c.rootCid, Oid: oid}
		vb, real, err := c.tx.VsupergetCacheOrReal(ctx, coid)
		if err != nil {
			return 0, c.fault(err)
		}
		sv := vb.SV
		var index int
		if !first {
			index = sv.Ncells()
		}
		if real {
			c.pushReal(coid, vb, index)
		} else {
			c.pushApprox(coid, vb, index)
		}
		if sv.IsLeaf() {
			break
		}
		oid = sv.ChildAt(index)
	}

	// Upward real-walk until a node with no further sibling in the
	// chosen direction is found, then downward real-walk to the leaf.
	for {
		top := &c.stack[len(c.stack)-1]
		if !top.real {
			vb, err := c.readReal(ctx, top.coid)
			if err != nil {
				return 0, err
			}
			if first {
				top.index = 0
			} else {
				top.index = vb.SV.Ncells()
			}
			top.vb, top.real = vb, true
		}
		sv := top.sv()
		extreme := sv.LeftPtr() == 0
		if !first {
			extreme = sv.RightPtr() == 0
		}
		if extreme || len(c.stack) == 1 {
			break
		}
		c.stack = c.stack[:len(c.stack)-1]
	}

	for {
		top := &c.stack[len(c.stack)-1]
		sv := top.sv()
		if sv.IsLeaf() {
			break
		}
		childOid := sv.ChildAt(top.index)
		childCoid := gaia.Coid{Cid: c.rootCid, Oid: childOid}
		vb, err := c.readReal(ctx, childCoid)
		if err != nil {
			return 0, err
		}
		childSv := vb.SV
		index := 0
		if !first {
			index = childSv.Ncells()
		}
		if first && childSv.LeftPtr() != 0 {
			return 0, c.fault(gaia.Errorf(gaia.StatusCorruptedLog, "dtree: leftmost descent hit node with non-zero LEFTPTR"))
		}
		if !first && childSv.RightPtr() != 0 {
			return 0, c.fault(gaia.Errorf(gaia.StatusCorruptedLog, "dtree: rightmost descent hit node with non-zero RIGHTPTR"))
		}
		c.pushReal(childCoid, vb, index)
	}

	leaf := &c.stack[len(c.stack)-1]
	sv := leaf.sv()
	if sv.Ncells() == 0 {
		c.state = StateInvalid
		return ResultEmpty, nil
	}
	if !first {
		leaf.index = sv.Ncells() - 1
	}
	return c.finalize(len(c.stack)-1, ResultMatch), nil
}

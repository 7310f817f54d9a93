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

// upwardRealWalk is Seek's step 5: force a real read of c.stack's current
// top (discarding whatever approximate copy was cached there), and climb
// toward the root until a level's real node contains the key
// strictly-inside or the root is reached.
func (c *Cursor) upwardRealWalk(ctx context.Context, nKey int64, pKey []byte) error {
	for {
		level := len(c.stack) - 1
		coid := c.stack[level].coid
		vb, err := c.readReal(ctx, coid)
		if err != nil {
			return err
		}
		sv := vb.SV
		index, matches := valbuf.SearchCell(sv, c.key(nKey, pKey), false, c.ki)
		c.stack[level] = slot{coid: coid, vb: vb, real: true, index: index}
		if matches || (0 < index && index < sv.Ncells()) || level == 0 {
			return nil
		}
		c.stack = c.stack[:level]
	}
}

// downwardRealWalk is Seek's step 6: from the current (real) top of the
// stack, follow real child pointers down to the leaf, binary-searching
// each level along the way.
func (c *Cursor) downwardRealWalk(ctx context.Context, nKey int64, pKey []byte, biasRight bool) (Result, error) {
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
		index, _ := valbuf.SearchCell(childSv, c.key(nKey, pKey), biasRight, c.ki)
		c.pushReal(childCoid, vb, index)
		if len(c.stack) >= MaxLevels {
			return 0, c.fault(gaia.Errorf(gaia.StatusGeneric, "dtree: cursor exceeded max depth %d", MaxLevels))
		}
	}

	leaf := &c.stack[len(c.stack)-1]
	sv := leaf.sv()
	switch {
	case leaf.index < sv.Ncells() && c.cmpKeyToCell(nKey, pKey, sv.Cells[leaf.index]) == 0:
		return c.finalize(len(c.stack)-1, ResultMatch), nil
	case sv.Ncells() == 0:
		c.state = StateInvalid
		return ResultBefore, nil
	case leaf.index == sv.Ncells():
		if sv.RightPtr() != 0 {
			// Real child pointers should always land on the correct leaf;
			// a rightmost real leaf whose RightPtr is nonzero means the
			// search undershot, which only stale metadata explains.
			return 0, c.fault(gaia.Errorf(gaia.StatusCorruptedLog, "dtree: rightmost leaf has non-zero RIGHTPTR"))
		}
		leaf.index--
		return c.finalize(len(c.stack)-1, ResultBefore), nil
	case leaf.index == 0:
		return c.finalize(len(c.stack)-1, ResultAfter), nil
	default:
		return c.finalize(len(c.stack)-1, ResultAfter), nil
	}
}

// readReal reads coid's supervalue authoritatively (never from cache),
// failing the cursor with a wrong-type fault if the tree is corrupted
// (§4.5 step 6: "each fetched inner node that is not a supervalue
// indicates tree-corruption").
func (c *Cursor) readReal(ctx context.Context, coid gaia.Coid) (*valbuf.Valbuf, error) {
	vb, err := c.tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	if err != nil {
		if gaia.StatusOf(err) == gaia.StatusWrongType {
			return nil, c.fault(gaia.NewError(gaia.StatusCorruptedLog, err))
		}
		return nil, c.fault(err)
	}
	return vb, nil
}

// finalize sets levelLeaf/eState=VALID and returns res, §4.5 step 7.
func (c *Cursor) finalize(levelLeaf int, res Result) Result {
	c.levelLeaf = levelLeaf
	c.state = StateValid
	return res
}

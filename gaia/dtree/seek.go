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

// Seek positions the cursor at (nKey, pKey) per §4.5's MovetoUnpackedaux:
// a cache-or-real downward traversal with upward repair when the cache
// turns out stale, finishing with a real downward walk to the leaf.
// biasRight should be set by callers that expect monotonically
// increasing keys (e.g. appending inserts).
func (c *Cursor) Seek(ctx context.Context, nKey int64, pKey []byte, biasRight bool) (Result, error) {
	// Step 1: short-circuit on the cached leaf's own identity.
	if c.state == StateValid {
		top := &c.stack[c.levelLeaf]
		sv := top.sv()
		if top.index < sv.Ncells() {
			if c.cmpKeyToCell(nKey, pKey, sv.Cells[top.index]) == 0 {
				return ResultMatch, nil
			}
		}
		if sv.RightPtr() == 0 && sv.Ncells() > 0 && c.cmpKeyToCell(nKey, pKey, sv.Cells[sv.Ncells()-1]) > 0 {
			return ResultBefore, nil
		}
	}

	// Step 2: direct-seek attempt (intkey tables only).
	if c.directSeek && pKey == nil {
		if res, ok, err := c.tryDirectSeek(ctx, nKey); err != nil {
			return 0, err
		} else if ok {
			return res, nil
		}
	}

	return c.treeSeek(ctx, nKey, pKey, biasRight)
}

// treeSeek is Seek's steps 3-6: the downward cache-or-real traversal plus
// stale-cache recovery, always landing on a stack-based VALID (or
// INVALID/empty) cursor. Split out so Delete can materialize a real
// node-stack position for a row the direct-seek fast path found, since
// Delete needs the stack Seek's step 2 skips.
func (c *Cursor) treeSeek(ctx context.Context, nKey int64, pKey []byte, biasRight bool) (Result, error) {
	// Steps 3-4: downward cache-or-real traversal, tracking the highest
	// (deepest) level at which the key belongs strictly inside the node.
	c.reset()
	highest, hitLeaf, empty, err := c.downwardCacheOrReal(ctx, nKey, pKey, biasRight)
	if err != nil {
		return 0, err
	}
	if empty {
		c.state = StateInvalid
		return ResultEmpty, nil
	}

	if hitLeaf {
		leaf := &c.stack[len(c.stack)-1]
		leafSv := leaf.sv()
		insideLeaf := highest == len(c.stack)-1
		if leaf.real && insideLeaf {
			if leaf.index < leafSv.Ncells() && c.cmpKeyToCell(nKey, pKey, leafSv.Cells[leaf.index]) == 0 {
				return c.finalize(len(c.stack)-1, ResultMatch), nil
			}
			return c.finalize(len(c.stack)-1, ResultAfter), nil
		}
		if leaf.real {
			switch {
			case leaf.index == 0:
				return c.finalize(len(c.stack)-1, ResultAfter), nil
			case leafSv.Ncells() == 0:
				c.state = StateInvalid
				return ResultBefore, nil
			case leaf.index == leafSv.Ncells():
				leaf.index--
				return c.finalize(len(c.stack)-1, ResultBefore), nil
			}
		}
	}

	// Step 5: upward real-walk from the highest non-extreme approximate
	// level (or from the root if every level was extreme).
	if highest < 0 {
		highest = 0
	}
	c.stack = c.stack[:highest+1]
	if err := c.upwardRealWalk(ctx, nKey, pKey); err != nil {
		return 0, err
	}

	// Step 6: downward real-walk to the leaf.
	res, err := c.downwardRealWalk(ctx, nKey, pKey, biasRight)
	if err != nil {
		return 0, err
	}
	return res, nil
}

// tryDirectSeek issues the single read on (DATA_CID(root_cid), key); ok
// is false when the fast path doesn't apply and the caller must fall
// through to the tree traversal. A coid with a nil payload is treated as
// "row absent" — see gaia/rpc/fake's Read/FullRead note on StatusTooOld;
// this cursor relies on the same "no version == empty" convention the
// fake server's readAt documents, so an empty-but-written row (writing ""
// as a value) is indistinguishable from a never-written one. Real tables
// never write a zero-length payload for a live row, so this is a
// theoretical gap, not a practical one (recorded in DESIGN.md).
func (c *Cursor) tryDirectSeek(ctx context.Context, nKey int64) (Result, bool, error) {
	coid := gaia.Coid{Cid: gaia.DataCid(c.rootCid), Oid: gaia.Oid(nKey)}
	vb, err := c.tx.Vget(ctx, coid)
	if err != nil {
		return 0, false, nil // server-side miss: fall through to the tree
	}
	if vb.Bytes() == nil {
		return 0, false, nil
	}
	c.state = StateDirect
	c.directIntKey = nKey
	c.reset()
	return ResultMatch, true, nil
}

// downwardCacheOrReal walks from the root, reusing cache-or-real reads,
// until it reaches a leaf. It returns the deepest level at which the key
// belongs strictly inside the node (matches, or 0 < index < Ncells), or
// -1 if every level was extreme. hitLeaf is false when the walk instead
// terminated early via stale-cache recovery (§4.5 "Stale-cache
// recovery"), in which case highest names the level the caller should
// resume the upward real-walk from, not a leaf. empty reports the
// recovery's "tree deleted" outcome.
func (c *Cursor) downwardCacheOrReal(ctx context.Context, nKey int64, pKey []byte, biasRight bool) (highest int, hitLeaf, empty bool, err error) {
	highest = -1
	oid := gaia.Oid(0)
	for level := 0; ; level++ {
		if level >= MaxLevels {
			return 0, false, false, c.fault(gaia.Errorf(gaia.StatusGeneric, "dtree: cursor exceeded max depth %d", MaxLevels))
		}
		coid := gaia.Coid{Cid: c.rootCid, Oid: oid}
		vb, real, rerr := c.tx.VsupergetCacheOrReal(ctx, coid)
		if rerr != nil {
			if gaia.StatusOf(rerr) == gaia.StatusWrongType && level >= 1 {
				// Stale-cache recovery (§4.5): the parent's child pointer
				// no longer names a supervalue. Evict the parent from the
				// global cache and hand off to the upward real-walk
				// starting at the parent's own level.
				c.tx.EvictInnerCache(c.stack[level-1].coid)
				if level == 1 {
					return 0, false, true, nil // parent was the root: tree deleted
				}
				return level - 1, false, false, nil
			}
			return 0, false, false, c.fault(rerr)
		}
		sv := vb.SV
		index, matches := valbuf.SearchCell(sv, c.key(nKey, pKey), biasRight, c.ki)
		if real {
			c.pushReal(coid, vb, index)
		} else {
			c.pushApprox(coid, vb, index)
		}
		if matches || (0 < index && index < sv.Ncells()) {
			highest = level
		}
		if sv.IsLeaf() {
			return highest, true, false, nil
		}
		oid = sv.ChildAt(index)
	}
}

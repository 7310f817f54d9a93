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
	"github.com/gaiadb/gaia/txn"
	"github.com/gaiadb/gaia/valbuf"
)

// Insert adds (nKey, pKey) -> value to the tree, writing data as the
// intkey row payload when the tree is integer-keyed (§4.5 "Insert").
// Step 1: a cursor already VALID and sitting exactly on this key (e.g. a
// caller-driven Seek that matched) needs no list operation at all — only
// the intkey data payload is (re)written.
func (c *Cursor) Insert(ctx context.Context, nKey int64, pKey []byte, value gaia.Oid, data []byte) error {
	cell := valbuf.Cell{NKey: nKey, PKey: pKey, Value: value}

	if c.state == StateValid && valbuf.CompareCells(c.Cell(), cell, c.ki) == 0 {
		if c.intKey {
			dataCoid := gaia.Coid{Cid: gaia.DataCid(c.rootCid), Oid: gaia.Oid(nKey)}
			return c.tx.Write(ctx, dataCoid, data)
		}
		return nil
	}

	coid, stats, err := c.optimisticInsert(ctx, cell)
	if err != nil {
		if gaia.StatusOf(err) != gaia.StatusCellOutOfRange {
			return err
		}
		coid, stats, err = c.fallbackInsert(ctx, cell)
		if err != nil {
			return err
		}
	}

	if c.intKey {
		dataCoid := gaia.Coid{Cid: gaia.DataCid(c.rootCid), Oid: gaia.Oid(nKey)}
		if err := c.tx.Write(ctx, dataCoid, data); err != nil {
			return err
		}
	}

	if overSplitThreshold(int(stats.Ncells), stats.Size) {
		c.tx.QueueSplit(coid, true)
	}
	return nil
}

// optimisticInsert is §4.5 Insert step 2's cache-only fast path: walk the
// cache-only path to a candidate leaf and attempt an in-range-checked
// listAdd, letting the server reject with cell-out-of-range if the cache
// lied. On success the cursor becomes DIRECT, matching the original's
// "no node stack populated" optimistic-insert outcome.
func (c *Cursor) optimisticInsert(ctx context.Context, cell valbuf.Cell) (gaia.Coid, txn.SplitStats, error) {
	dest, ok := c.cacheOnlyDescend(ctx, cell)
	if !ok {
		return gaia.Coid{}, txn.SplitStats{}, gaia.NewError(gaia.StatusCellOutOfRange, nil)
	}
	if err := c.waitThrottle(ctx, dest); err != nil {
		return gaia.Coid{}, txn.SplitStats{}, err
	}
	stats, err := c.tx.ListAddSplitStats(ctx, dest, cell, c.ki, txn.ListAddFlagInRangeCheck)
	if err != nil {
		return gaia.Coid{}, txn.SplitStats{}, err
	}
	c.state = StateDirect
	c.directIntKey = cell.NKey
	c.reset()
	return dest, stats, nil
}

// cacheOnlyDescend is DtCacheMovetoUnpackedaux: descend through cached
// inner nodes only, stopping at the first oid not found in cache (leaves
// are never cached, so an ordinary descent ends this way) or after
// MaxLevels. ok is false only on a runaway depth, never on an early
// cache miss — an empty cache simply yields the root as dest, and the
// server's in-range check rejects it if that guess is wrong.
func (c *Cursor) cacheOnlyDescend(ctx context.Context, cell valbuf.Cell) (dest gaia.Coid, ok bool) {
	oid := gaia.Oid(0)
	for level := 0; level < MaxLevels; level++ {
		coid := gaia.Coid{Cid: c.rootCid, Oid: oid}
		vb, hit := c.tx.LookupCacheOnly(coid)
		if !hit {
			return coid, true
		}
		sv := vb.SV
		if sv.IsLeaf() {
			return coid, true
		}
		index, _ := valbuf.SearchCell(sv, cell, true, c.ki)
		oid = sv.ChildAt(index)
	}
	return gaia.Coid{}, false
}

// fallbackInsert is §4.5 Insert step 2's fallback: a full Seek followed
// by an unconditional (no in-range-check) listAdd against the leaf the
// seek actually landed on.
func (c *Cursor) fallbackInsert(ctx context.Context, cell valbuf.Cell) (gaia.Coid, txn.SplitStats, error) {
	if _, err := c.Seek(ctx, cell.NKey, cell.PKey, true); err != nil {
		return gaia.Coid{}, txn.SplitStats{}, err
	}
	if c.state != StateValid {
		return gaia.Coid{}, txn.SplitStats{}, gaia.NewError(gaia.StatusGeneric, nil)
	}
	dest := c.stack[c.levelLeaf].coid
	if err := c.waitThrottle(ctx, dest); err != nil {
		return gaia.Coid{}, txn.SplitStats{}, err
	}
	stats, err := c.tx.ListAddSplitStats(ctx, dest, cell, c.ki, 0)
	if err != nil {
		return gaia.Coid{}, txn.SplitStats{}, err
	}
	return dest, stats, nil
}

// waitThrottle consults the attached split throttle (§4.6: "Delays are
// consulted by clients before inserting") for the node about to receive
// the insert, a no-op when no throttle is attached.
func (c *Cursor) waitThrottle(ctx context.Context, dest gaia.Coid) error {
	if c.throttle == nil {
		return nil
	}
	return c.throttle.Wait(ctx, dest)
}

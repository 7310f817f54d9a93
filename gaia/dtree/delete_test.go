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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
)

// TestDeleteEmptyingNonRootNodeStitchesAndRecursesIntoParent exercises
// deleteEntry's "node becomes empty" branch (§4.5 Delete step 3): the
// lone cell in a non-root leaf is removed, emptying it, which must
// stitch its surviving neighbor's sibling pointer and then recurse to
// remove the now-dangling LASTPTR reference from the parent.
func TestDeleteEmptyingNonRootNodeStitchesAndRecursesIntoParent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	const sepKey = int64(5)
	const lonelyKey = sepKey + 1
	leftOid, rightOid := h.buildTwoLevelTree(t, []int64{1, 2, 3}, []int64{lonelyKey}, sepKey)

	tx := h.newTx()
	c := h.newCursor(tx, true)
	res, err := c.Seek(ctx, lonelyKey, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	require.Equal(t, StateValid, c.State()) // never Inserted via the API, so no DATA_CID row exists to direct-seek

	require.NoError(t, c.Delete(ctx))
	_, err = tx.TryCommit(ctx)
	require.NoError(t, err)

	tx2 := h.newTx()
	defer tx2.Abort(ctx)
	root := gaia.Coid{Cid: h.rootCid, Oid: 0}
	vb, err := tx2.Vsuperget(ctx, root, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rootSv := vb.SV
	require.False(t, rootSv.IsLeaf())
	require.Equal(t, 0, rootSv.Ncells())
	require.Equal(t, leftOid, rootSv.LastPtr()) // last remaining cell rotated into LASTPTR

	leftVb, err := tx2.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: leftOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	require.Zero(t, leftVb.SV.RightPtr()) // stitched: rightOid is gone, so nothing is to its right anymore
	require.Equal(t, 3, leftVb.SV.Ncells())

	_, err = tx2.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, valbuf.Cell{}, false, nil)
	require.Error(t, err) // the emptied node itself was deleted outright

	c2 := h.newCursor(tx2, true)
	res, err = c2.First(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	require.Equal(t, int64(1), c2.Cell().NKey) // the surviving leftOid subtree is still fully reachable

	res, err = c2.Seek(ctx, lonelyKey, nil, true)
	require.NoError(t, err)
	require.NotEqual(t, ResultMatch, res)
}

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

func TestInsertThenSeekFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{10, 20, 30, 5, 15})

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.Seek(ctx, 20, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	// An existing intkey row is found via the direct-seek fast path
	// (§4.5 step 2), landing the cursor in DIRECT rather than VALID.
	require.Equal(t, StateDirect, c.State())
	require.Equal(t, int64(20), c.DirectIntKey())
}

func TestSeekMissingKeyReportsBeforeOrAfter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{10, 20, 30})

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.Seek(ctx, 25, nil, true)
	require.NoError(t, err)
	require.Contains(t, []Result{ResultBefore, ResultAfter}, res)
}

func TestSeekEmptyTreeReportsEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.Seek(ctx, 1, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultEmpty, res)
}

func TestFirstAndLastOnEmptyTree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.First(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultEmpty, res)

	res, err = c.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultEmpty, res)
}

func TestFirstAndLastReturnExtremeKeys(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{7, 1, 9, 4, 2})

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.First(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	require.Equal(t, int64(1), c.Cell().NKey)

	res, err = c.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	require.Equal(t, int64(9), c.Cell().NKey)
}

func TestNextWalksKeysInOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	keys := []int64{5, 3, 8, 1, 4, 7, 9}
	h.insertAll(ctx, keys)

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.First(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)

	var got []int64
	got = append(got, c.Cell().NKey)
	for {
		res, err = c.Next(ctx)
		require.NoError(t, err)
		if res != ResultMatch {
			break
		}
		got = append(got, c.Cell().NKey)
	}
	require.Equal(t, []int64{1, 3, 4, 5, 7, 8, 9}, got)
}

func TestPrevWalksKeysInReverseOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{5, 3, 8, 1, 4, 7, 9})

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	res, err := c.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)

	var got []int64
	got = append(got, c.Cell().NKey)
	for {
		res, err = c.Prev(ctx)
		require.NoError(t, err)
		if res != ResultMatch {
			break
		}
		got = append(got, c.Cell().NKey)
	}
	require.Equal(t, []int64{9, 8, 7, 5, 4, 3, 1}, got)
}

func TestDeleteRemovesKeyAndLeavesCursorInvalid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{1, 2, 3})

	tx := h.newTx()
	c := h.newCursor(tx, true)
	res, err := c.Seek(ctx, 2, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)

	require.NoError(t, c.Delete(ctx))
	require.Equal(t, StateInvalid, c.State())
	_, err = tx.TryCommit(ctx)
	require.NoError(t, err)

	tx2 := h.newTx()
	defer tx2.Abort(ctx)
	c2 := h.newCursor(tx2, true)
	res, err = c2.Seek(ctx, 2, nil, true)
	require.NoError(t, err)
	require.NotEqual(t, ResultMatch, res)

	res, err = c2.Seek(ctx, 1, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	res, err = c2.Seek(ctx, 3, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
}

func TestDeleteEmptiesLeafRootWithoutError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{42})

	tx := h.newTx()
	c := h.newCursor(tx, true)
	res, err := c.Seek(ctx, 42, nil, true)
	require.NoError(t, err)
	require.Equal(t, ResultMatch, res)
	require.NoError(t, c.Delete(ctx))
	_, err = tx.TryCommit(ctx)
	require.NoError(t, err)

	tx2 := h.newTx()
	defer tx2.Abort(ctx)
	c2 := h.newCursor(tx2, true)
	res, err = c2.First(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultEmpty, res)
}

func TestCheckFencesOnWellFormedTreeFindsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)

	violations, err := c.CheckFences(ctx)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestCheckFencesCatchesOutOfOrderCells(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{1, 2, 3})

	// Swap two cells' keys directly, bypassing ListAdd/ListDelRange
	// (which both keep cells sorted and so cannot themselves produce an
	// I2 violation), mirroring §8 scenario 5's corruption setup.
	tx := h.newTx()
	root := gaia.Coid{Cid: h.rootCid, Oid: 0}
	vb, err := tx.Vsuperget(ctx, root, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	sv := vb.SV
	require.GreaterOrEqual(t, sv.Ncells(), 2)
	sv.Cells[0].NKey, sv.Cells[1].NKey = sv.Cells[1].NKey, sv.Cells[0].NKey
	require.NoError(t, tx.WriteSuperValue(ctx, root, sv))
	_, err = tx.TryCommit(ctx)
	require.NoError(t, err)

	tx2 := h.newTx()
	defer tx2.Abort(ctx)
	c := h.newCursor(tx2, true)
	violations, err := c.CheckFences(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
}

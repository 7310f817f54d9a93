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

// overwriteLeaf replaces root's content with an intkey leaf holding the
// given keys, bypassing Insert so tests can set up an artificially
// oversize node without inserting hundreds of rows.
func (h *harness) overwriteLeaf(t *testing.T, keys []int64) {
	t.Helper()
	ctx := context.Background()
	sv := valbuf.NewLeaf(true, nil)
	sv.Cells = make([]valbuf.Cell, len(keys))
	for i, k := range keys {
		sv.Cells[i] = valbuf.Cell{NKey: k}
	}
	sv.RecomputeCellsSize()
	tx := h.newTx()
	require.NoError(t, tx.WriteSuperValue(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, sv))
	_, err := tx.TryCommit(ctx)
	require.NoError(t, err)
}

// oversizeKeys returns n ascending keys spaced 10 apart, n chosen well past
// SplitSizeCells so Split's own threshold re-check (it no-ops a node
// already brought back under threshold) doesn't short-circuit the test.
func oversizeKeys(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i * 10)
	}
	return keys
}

func TestSplitterSplitsOversizeRootLeaf(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	n := SplitSizeCells + 20
	keys := oversizeKeys(n)
	h.overwriteLeaf(t, keys)

	splitter := NewSplitter(h.deps, h.tids, gaia.NewOidAllocator(2, 1))
	require.NoError(t, splitter.Split(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, true))

	tx := h.newTx()
	defer tx.Abort(ctx)
	root := gaia.Coid{Cid: h.rootCid, Oid: 0}
	vb, err := tx.Vsuperget(ctx, root, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rootSv := vb.SV
	require.False(t, rootSv.IsLeaf())
	require.Equal(t, 1, rootSv.Ncells())

	mid := n / 2
	require.Equal(t, keys[mid-1], rootSv.Cells[0].NKey) // leaf split: sep = left's last key

	leftOid := rootSv.Cells[0].Value
	rightOid := rootSv.LastPtr()
	require.NotZero(t, leftOid)
	require.NotZero(t, rightOid)

	leftVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: leftOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	leftSv := leftVb.SV
	require.True(t, leftSv.IsLeaf())
	var leftKeys []int64
	for _, c := range leftSv.Cells {
		leftKeys = append(leftKeys, c.NKey)
	}
	require.Equal(t, keys[:mid], leftKeys)
	require.Equal(t, rightOid, leftSv.RightPtr())

	rightVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rightSv := rightVb.SV
	require.True(t, rightSv.IsLeaf())
	var rightKeys []int64
	for _, c := range rightSv.Cells {
		rightKeys = append(rightKeys, c.NKey)
	}
	require.Equal(t, keys[mid:], rightKeys)
	require.Equal(t, leftOid, rightSv.LeftPtr())
}

func TestSplitterLeavesNodeBelowThresholdUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.insertAll(ctx, []int64{1, 2, 3})

	splitter := NewSplitter(h.deps, h.tids, gaia.NewOidAllocator(2, 1))
	require.NoError(t, splitter.Split(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, true))

	tx := h.newTx()
	defer tx.Abort(ctx)
	vb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	require.True(t, vb.SV.IsLeaf())
	require.Equal(t, 3, vb.SV.Ncells())
}

func TestCheckFencesPassesAfterSplit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.overwriteLeaf(t, oversizeKeys(SplitSizeCells+20))

	splitter := NewSplitter(h.deps, h.tids, gaia.NewOidAllocator(2, 1))
	require.NoError(t, splitter.Split(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, true))

	tx := h.newTx()
	defer tx.Abort(ctx)
	c := h.newCursor(tx, true)
	violations, err := c.CheckFences(ctx)
	require.NoError(t, err)
	require.Empty(t, violations)
}

// overwriteInnerRoot replaces root's content with an intkey inner node
// whose n cells each point at a (non-existent) placeholder child oid;
// Split itself never dereferences a child, so the placeholders are
// never read. lastPtr is the node's own LastPtr attribute.
func (h *harness) overwriteInnerRoot(t *testing.T, keys []int64, height uint64, lastPtr gaia.Oid) {
	t.Helper()
	ctx := context.Background()
	sv := valbuf.NewInner(height, true, nil)
	sv.Cells = make([]valbuf.Cell, len(keys))
	for i, k := range keys {
		sv.Cells[i] = valbuf.Cell{NKey: k, Value: gaia.Oid(1000 + i)}
	}
	sv.RecomputeCellsSize()
	sv.Attrs[valbuf.AttrLastPtr] = uint64(lastPtr)
	tx := h.newTx()
	require.NoError(t, tx.WriteSuperValue(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, sv))
	_, err := tx.TryCommit(ctx)
	require.NoError(t, err)
}

func TestSplitterSplitsOversizeRootInnerNode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	n := SplitSizeCells + 20
	keys := oversizeKeys(n)
	const origHeight = 3
	const origLastPtr = gaia.Oid(9999)
	h.overwriteInnerRoot(t, keys, origHeight, origLastPtr)

	splitter := NewSplitter(h.deps, h.tids, gaia.NewOidAllocator(2, 1))
	require.NoError(t, splitter.Split(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, false))

	tx := h.newTx()
	defer tx.Abort(ctx)
	root := gaia.Coid{Cid: h.rootCid, Oid: 0}
	vb, err := tx.Vsuperget(ctx, root, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rootSv := vb.SV
	require.False(t, rootSv.IsLeaf())
	require.Equal(t, 1, rootSv.Ncells())
	require.Equal(t, uint64(origHeight+1), rootSv.Height())

	mid := n / 2
	promoted := keys[mid]
	require.Equal(t, promoted, rootSv.Cells[0].NKey) // inner split: sep = promoted midpoint cell

	leftOid := rootSv.Cells[0].Value
	rightOid := rootSv.LastPtr()
	require.NotZero(t, leftOid)
	require.NotZero(t, rightOid)
	require.NotEqual(t, leftOid, rightOid)

	leftVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: leftOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	leftSv := leftVb.SV
	require.False(t, leftSv.IsLeaf())
	require.Equal(t, uint64(origHeight), leftSv.Height())
	require.Equal(t, mid, leftSv.Ncells())
	require.Equal(t, gaia.Oid(1000+mid), leftSv.LastPtr()) // promoted cell's old child becomes left's LastPtr
	require.Equal(t, rightOid, leftSv.RightPtr())
	require.Zero(t, leftSv.LeftPtr())

	rightVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rightSv := rightVb.SV
	require.False(t, rightSv.IsLeaf())
	require.Equal(t, uint64(origHeight), rightSv.Height())
	require.Equal(t, n-mid-1, rightSv.Ncells()) // promoted cell itself consumed, not kept on either side
	require.Equal(t, origLastPtr, rightSv.LastPtr())
	require.Equal(t, leftOid, rightSv.LeftPtr())
	require.Zero(t, rightSv.RightPtr())
}

// buildTwoLevelTree replaces root with a single-cell inner node
// separating two real leaf children: left holds smallKeys (small,
// untouched by the split under test) and right holds bigKeys (built
// oversize so Split's non-root path has something to rebalance). The
// two leaves are threaded together via LEFTPTR/RIGHTPTR as real
// siblings, matching what Insert would have produced organically.
func (h *harness) buildTwoLevelTree(t *testing.T, smallKeys, bigKeys []int64, sepKey int64) (leftOid, rightOid gaia.Oid) {
	t.Helper()
	ctx := context.Background()
	leftOid = gaia.Oid(h.oids.Next())
	rightOid = gaia.Oid(h.oids.Next())

	leftSv := valbuf.NewLeaf(true, nil)
	leftSv.Cells = make([]valbuf.Cell, len(smallKeys))
	for i, k := range smallKeys {
		leftSv.Cells[i] = valbuf.Cell{NKey: k}
	}
	leftSv.RecomputeCellsSize()
	leftSv.Attrs[valbuf.AttrRightPtr] = uint64(rightOid)

	rightSv := valbuf.NewLeaf(true, nil)
	rightSv.Cells = make([]valbuf.Cell, len(bigKeys))
	for i, k := range bigKeys {
		rightSv.Cells[i] = valbuf.Cell{NKey: k}
	}
	rightSv.RecomputeCellsSize()
	rightSv.Attrs[valbuf.AttrLeftPtr] = uint64(leftOid)

	rootSv := valbuf.NewInner(1, true, nil)
	rootSv.Cells = []valbuf.Cell{{NKey: sepKey, Value: leftOid}}
	rootSv.RecomputeCellsSize()
	rootSv.Attrs[valbuf.AttrLastPtr] = uint64(rightOid)

	tx := h.newTx()
	require.NoError(t, tx.WriteSuperValue(ctx, gaia.Coid{Cid: h.rootCid, Oid: leftOid}, leftSv))
	require.NoError(t, tx.WriteSuperValue(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, rightSv))
	require.NoError(t, tx.WriteSuperValue(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, rootSv))
	_, err := tx.TryCommit(ctx)
	require.NoError(t, err)
	return leftOid, rightOid
}

func TestSplitterSplitsNonRootLeafAndFixesUpParent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	const sepKey = int64(5)
	n := SplitSizeCells + 20
	bigKeys := make([]int64, n)
	for i := range bigKeys {
		bigKeys[i] = sepKey + int64(i) + 1 // all strictly greater than sepKey
	}
	leftOid, rightOid := h.buildTwoLevelTree(t, []int64{1, 2, 3}, bigKeys, sepKey)

	splitter := NewSplitter(h.deps, h.tids, gaia.NewOidAllocator(2, 1))
	require.NoError(t, splitter.Split(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, true))

	tx := h.newTx()
	defer tx.Abort(ctx)
	vb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: 0}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	rootSv := vb.SV
	require.Equal(t, 2, rootSv.Ncells())
	require.Equal(t, sepKey, rootSv.Cells[0].NKey)
	require.Equal(t, leftOid, rootSv.Cells[0].Value)

	mid := n / 2
	sep := bigKeys[mid-1]
	require.Equal(t, sep, rootSv.Cells[1].NKey)
	require.Equal(t, rightOid, rootSv.Cells[1].Value) // x keeps its original oid, holding the left half

	newOid := rootSv.LastPtr()
	require.NotZero(t, newOid)
	require.NotEqual(t, newOid, rightOid)
	require.NotEqual(t, newOid, leftOid)

	midLeftVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: rightOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	var gotLeft []int64
	for _, c := range midLeftVb.SV.Cells {
		gotLeft = append(gotLeft, c.NKey)
	}
	require.Equal(t, bigKeys[:mid], gotLeft)
	require.Equal(t, newOid, midLeftVb.SV.RightPtr())
	require.Equal(t, leftOid, midLeftVb.SV.LeftPtr())

	midRightVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: newOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	var gotRight []int64
	for _, c := range midRightVb.SV.Cells {
		gotRight = append(gotRight, c.NKey)
	}
	require.Equal(t, bigKeys[mid:], gotRight)
	require.Equal(t, rightOid, midRightVb.SV.LeftPtr())
	require.Zero(t, midRightVb.SV.RightPtr())

	leftLeafVb, err := tx.Vsuperget(ctx, gaia.Coid{Cid: h.rootCid, Oid: leftOid}, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, 3, leftLeafVb.SV.Ncells())
	require.Equal(t, rightOid, leftLeafVb.SV.RightPtr()) // untouched: x kept its oid, so this pointer is still valid
}

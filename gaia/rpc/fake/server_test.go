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

package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
	"github.com/gaiadb/gaia/wire"
)

func bootstrapLeaf(t *testing.T, ctx context.Context, s *Server, tid gaia.Tid, coid gaia.Coid) {
	t.Helper()
	payload := wire.MarshalNode(valbuf.NewLeaf(true, nil), wire.DefaultKeyInfoCodec)
	req := &wire.FullWriteRPC{Tid: tid, Coid: coid, Level: 0, NodePayload: payload}
	require.NoError(t, s.FullWrite(ctx, req))
	require.Equal(t, gaia.StatusOK, req.Status)
}

func commit(t *testing.T, ctx context.Context, s *Server, tid gaia.Tid) {
	t.Helper()
	req := &wire.CommitRPC{Tid: tid, CommitTs: gaia.NowTimestamp(), Outcome: wire.OutcomeCommit}
	require.NoError(t, s.Commit(ctx, req))
	require.Equal(t, gaia.StatusOK, req.Status)
}

func readNode(t *testing.T, ctx context.Context, s *Server, tid gaia.Tid, coid gaia.Coid) *valbuf.SuperValue {
	t.Helper()
	req := &wire.FullReadRPC{Tid: tid, StartTs: gaia.NowTimestamp(), Coid: coid}
	require.NoError(t, s.FullRead(ctx, req))
	require.Equal(t, gaia.StatusOK, req.Status)
	sv, err := wire.UnmarshalNode(req.NodePayload, wire.DefaultKeyInfoCodec)
	require.NoError(t, err)
	return sv
}

func nkeys(sv *valbuf.SuperValue) []int64 {
	out := make([]int64, len(sv.Cells))
	for i, c := range sv.Cells {
		out[i] = c.NKey
	}
	return out
}

// TestListAddPersistsAcrossCommit is the regression scenario for the fix
// to ListAdd: once committed, an added cell must actually show up in a
// fresh FullRead of the node, not merely report StatusOK.
func TestListAddPersistsAcrossCommit(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 1, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)

	la := &wire.ListAddRPC{Tid: tid, Coid: coid, Cell: wire.CellWire{NKey: 42, Value: gaia.Oid(7)}}
	require.NoError(t, s.ListAdd(ctx, la))
	require.Equal(t, gaia.StatusOK, la.Status)
	require.EqualValues(t, 1, la.SplitNcells)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, []int64{42}, nkeys(sv))
	require.Equal(t, gaia.Oid(7), sv.Cells[0].Value)
}

// TestListAddAccumulatesWithinOneTransaction exercises the staged-write
// fallback chain: a second ListAdd in the same uncommitted transaction
// must see the first ListAdd's result, not the last-committed (still
// empty) version.
func TestListAddAccumulatesWithinOneTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 2, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)

	var lastNcells int32
	for _, k := range []int64{5, 2, 9} {
		la := &wire.ListAddRPC{Tid: tid, Coid: coid, Cell: wire.CellWire{NKey: k, Value: gaia.Oid(k)}}
		require.NoError(t, s.ListAdd(ctx, la))
		require.Equal(t, gaia.StatusOK, la.Status)
		lastNcells = la.SplitNcells
	}
	require.EqualValues(t, 3, lastNcells)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, []int64{2, 5, 9}, nkeys(sv))
}

// TestListDelRangeHalfOpenInterval reproduces spec.md's range-delete
// scenario verbatim: a leaf holding {1,3,5,7}, a listDelRange over the
// half-open interval (1,3] (IntervalType 1 = left-open, right-closed),
// leaving {1,5,7}.
func TestListDelRangeHalfOpenInterval(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 3, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)
	for _, k := range []int64{1, 3, 5, 7} {
		la := &wire.ListAddRPC{Tid: tid, Coid: coid, Cell: wire.CellWire{NKey: k, Value: gaia.Oid(k)}}
		require.NoError(t, s.ListAdd(ctx, la))
		require.Equal(t, gaia.StatusOK, la.Status)
	}

	del := &wire.ListDelRangeRPC{
		Tid: tid, Coid: coid, Interval: 1,
		Cell1: wire.CellWire{NKey: 1}, Cell2: wire.CellWire{NKey: 3},
	}
	require.NoError(t, s.ListDelRange(ctx, del))
	require.Equal(t, gaia.StatusOK, del.Status)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, []int64{1, 5, 7}, nkeys(sv))
}

// TestAttrSetPersists exercises AttrSet against an inner node's LASTPTR
// attribute, as splitter.go's fixupParent does when repairing a parent
// after a split.
func TestAttrSetPersists(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 4, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	payload := wire.MarshalNode(valbuf.NewInner(1, true, nil), wire.DefaultKeyInfoCodec)
	fw := &wire.FullWriteRPC{Tid: tid, Coid: coid, NodePayload: payload}
	require.NoError(t, s.FullWrite(ctx, fw))
	require.Equal(t, gaia.StatusOK, fw.Status)

	as := &wire.AttrSetRPC{Tid: tid, Coid: coid, AttrID: int32(valbuf.AttrLastPtr), AttrValue: 99}
	require.NoError(t, s.AttrSet(ctx, as))
	require.Equal(t, gaia.StatusOK, as.Status)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, gaia.Oid(99), sv.LastPtr())
}

// TestCommitWithAbortOutcomeDiscardsStagedWrites: a transaction that
// stages a ListAdd but then commits with a non-commit outcome (the fake
// server's abort path) must leave the object exactly as it was.
func TestCommitWithAbortOutcomeDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 5, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)
	commit(t, ctx, s, tid) // the bootstrap itself is committed for real

	tid2 := gaia.Tid{D1: 5, D2: 2}
	// Re-stage the node under a fresh tid so ListAdd has something to
	// read, without committing the add.
	payload := wire.MarshalNode(valbuf.NewLeaf(true, nil), wire.DefaultKeyInfoCodec)
	fw := &wire.FullWriteRPC{Tid: tid2, Coid: coid, NodePayload: payload}
	require.NoError(t, s.FullWrite(ctx, fw))

	la := &wire.ListAddRPC{Tid: tid2, Coid: coid, Cell: wire.CellWire{NKey: 1, Value: gaia.Oid(1)}}
	require.NoError(t, s.ListAdd(ctx, la))
	require.Equal(t, gaia.StatusOK, la.Status)

	abort := &wire.CommitRPC{Tid: tid2, Outcome: wire.OutcomeAbort}
	require.NoError(t, s.Commit(ctx, abort))
	require.Equal(t, gaia.StatusOK, abort.Status)

	sv := readNode(t, ctx, s, tid2, coid)
	require.Empty(t, sv.Cells) // the aborted ListAdd never reached the object
}

// TestSubTransDiscardRollsBackToLevel reproduces spec.md §8 scenario 4: a
// listAdd before startSubtrans, two more listAdds at the subtransaction's
// level, then abortSubtrans back down. Only the pre-subtransaction add
// must survive to commit.
func TestSubTransDiscardRollsBackToLevel(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 6, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)

	la1 := &wire.ListAddRPC{Tid: tid, Coid: coid, Level: 0, Cell: wire.CellWire{NKey: 1, Value: gaia.Oid(1)}}
	require.NoError(t, s.ListAdd(ctx, la1))
	require.Equal(t, gaia.StatusOK, la1.Status)

	la2 := &wire.ListAddRPC{Tid: tid, Coid: coid, Level: 1, Cell: wire.CellWire{NKey: 2, Value: gaia.Oid(2)}}
	require.NoError(t, s.ListAdd(ctx, la2))
	require.Equal(t, gaia.StatusOK, la2.Status)

	la3 := &wire.ListAddRPC{Tid: tid, Coid: coid, Level: 1, Cell: wire.CellWire{NKey: 3, Value: gaia.Oid(3)}}
	require.NoError(t, s.ListAdd(ctx, la3))
	require.Equal(t, gaia.StatusOK, la3.Status)

	// Sanity check: before the discard, the staged node really does
	// contain all three cells (otherwise the discard below proves nothing).
	midSv := readMidTxn(t, s, tid, coid)
	require.Equal(t, []int64{1, 2, 3}, nkeys(midSv))

	discard := &wire.SubTransRPC{Tid: tid, Level: 0, Action: wire.SubTransDiscard}
	require.NoError(t, s.SubTrans(ctx, discard))
	require.Equal(t, gaia.StatusOK, discard.Status)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, []int64{1}, nkeys(sv))
}

// readMidTxn peeks at a transaction's own staged (uncommitted) write by
// reaching past FullRead (which only ever sees committed versions) into
// the server's staged writes for tid — the same staged copy applyOp uses.
func readMidTxn(t *testing.T, s *Server, tid gaia.Tid, coid gaia.Coid) *valbuf.SuperValue {
	t.Helper()
	s.mu.Lock()
	p := s.prep[tid]
	data := p.writes[coid]
	s.mu.Unlock()
	sv, err := wire.UnmarshalNode(data, wire.DefaultKeyInfoCodec)
	require.NoError(t, err)
	return sv
}

// TestSubTransMergeDownKeepsWrites verifies releaseSubtrans's semantics:
// writes made inside the subtransaction are retagged down to the parent
// level and survive, unlike abortSubtrans's discard.
func TestSubTransMergeDownKeepsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewServer(nil, 0)
	tid := gaia.Tid{D1: 7, D2: 1}
	coid := gaia.Coid{Cid: 1, Oid: 0}

	bootstrapLeaf(t, ctx, s, tid, coid)

	la1 := &wire.ListAddRPC{Tid: tid, Coid: coid, Level: 0, Cell: wire.CellWire{NKey: 1, Value: gaia.Oid(1)}}
	require.NoError(t, s.ListAdd(ctx, la1))

	la2 := &wire.ListAddRPC{Tid: tid, Coid: coid, Level: 1, Cell: wire.CellWire{NKey: 2, Value: gaia.Oid(2)}}
	require.NoError(t, s.ListAdd(ctx, la2))

	merge := &wire.SubTransRPC{Tid: tid, Level: 0, Action: wire.SubTransMergeDown}
	require.NoError(t, s.SubTrans(ctx, merge))
	require.Equal(t, gaia.StatusOK, merge.Status)

	// A subsequent discard back to level 0 must now be a no-op: the
	// merge-down already retagged cell 2's write down to level 0.
	discard := &wire.SubTransRPC{Tid: tid, Level: 0, Action: wire.SubTransDiscard}
	require.NoError(t, s.SubTrans(ctx, discard))
	require.Equal(t, gaia.StatusOK, discard.Status)

	commit(t, ctx, s, tid)

	sv := readNode(t, ctx, s, tid, coid)
	require.Equal(t, []int64{1, 2}, nkeys(sv))
}

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

package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/rpc/fake"
	"github.com/gaiadb/gaia/valbuf"
)

// subtransFixture bundles the fake-server-backed Deps and id allocator a
// Transaction test needs, one per test (white-box: same package as the
// code under test, so tests can poke txCache/pendingOps directly).
type subtransFixture struct {
	t    *testing.T
	deps Deps
	tids *gaia.TidAllocator
}

func newSubtransFixture(t *testing.T) *subtransFixture {
	t.Helper()
	return &subtransFixture{
		t:    t,
		deps: Deps{Log: zap.NewNop().Sugar(), Local: fake.NewServer(zap.NewNop().Sugar(), 64)},
		tids: gaia.NewTidAllocator(1, 1),
	}
}

func (f *subtransFixture) newTx() *Transaction {
	tx := New(f.deps)
	tx.Start(f.tids.Next())
	return tx
}

// bootstrapLeaf commits an empty leaf at coid in its own transaction, the
// node every list-op test below mutates.
func (f *subtransFixture) bootstrapLeaf(ctx context.Context, coid gaia.Coid, intKey bool) {
	f.t.Helper()
	tx := f.newTx()
	require.NoError(f.t, tx.WriteSuperValue(ctx, coid, valbuf.NewLeaf(intKey, nil)))
	_, err := tx.TryCommit(ctx)
	require.NoError(f.t, err)
}

func nKeysOf(sv *valbuf.SuperValue) []int64 {
	out := make([]int64, len(sv.Cells))
	for i, c := range sv.Cells {
		out[i] = c.NKey
	}
	return out
}

// TestAbortSubtransScenario4 reproduces spec.md §8 scenario 4 verbatim
// through the Transaction API: a listAdd before a subtransaction starts,
// two more listAdds inside it, an abort back to the pre-subtransaction
// level, then commit. Only the first add must survive.
func TestAbortSubtransScenario4(t *testing.T) {
	ctx := context.Background()
	f := newSubtransFixture(t)
	coid := gaia.Coid{Cid: gaia.EphemeralCid(1), Oid: 0}
	f.bootstrapLeaf(ctx, coid, true)

	tx := f.newTx()
	base := tx.subLevel
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 1, Value: gaia.Oid(1)}, nil, 0))

	tx.StartSubtrans()
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 2, Value: gaia.Oid(2)}, nil, 0))
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 3, Value: gaia.Oid(3)}, nil, 0))

	require.NoError(t, tx.AbortSubtrans(ctx, base))
	_, err := tx.TryCommit(ctx)
	require.NoError(t, err)

	verify := f.newTx()
	vb, err := verify.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, nKeysOf(vb.SV))
}

// TestReleaseSubtransScenario4Variant is the merge-down counterpart: the
// same sequence but released instead of aborted, so all three cells
// survive, retagged down to the pre-subtransaction level.
func TestReleaseSubtransScenario4Variant(t *testing.T) {
	ctx := context.Background()
	f := newSubtransFixture(t)
	coid := gaia.Coid{Cid: gaia.EphemeralCid(2), Oid: 0}
	f.bootstrapLeaf(ctx, coid, true)

	tx := f.newTx()
	base := tx.subLevel
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 1, Value: gaia.Oid(1)}, nil, 0))

	tx.StartSubtrans()
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 2, Value: gaia.Oid(2)}, nil, 0))
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 3, Value: gaia.Oid(3)}, nil, 0))

	require.NoError(t, tx.ReleaseSubtrans(ctx, base))
	_, err := tx.TryCommit(ctx)
	require.NoError(t, err)

	verify := f.newTx()
	vb, err := verify.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, nKeysOf(vb.SV))
}

// TestInvariantI1TxCacheAndPendingOpsMutuallyExclusive exercises I1:
// a coid never sits in both TxCache and PendingOps at once. A ListAdd
// against a coid this transaction has never read lands only in
// PendingOps; the first Vsuperget of that coid materializes it into
// TxCache and evicts PendingOps in the same step.
func TestInvariantI1TxCacheAndPendingOpsMutuallyExclusive(t *testing.T) {
	ctx := context.Background()
	f := newSubtransFixture(t)
	coid := gaia.Coid{Cid: gaia.EphemeralCid(3), Oid: 0}
	f.bootstrapLeaf(ctx, coid, true)

	tx := f.newTx()
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 9, Value: gaia.Oid(9)}, nil, 0))

	_, pendingBefore := tx.pendingOps[coid]
	_, cachedBefore := tx.txCache[coid]
	require.True(t, pendingBefore)
	require.False(t, cachedBefore)

	_, err := tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	require.NoError(t, err)

	_, pendingAfter := tx.pendingOps[coid]
	_, cachedAfter := tx.txCache[coid]
	require.False(t, pendingAfter)
	require.True(t, cachedAfter)
}

// TestInvariantI5ReadYourOwnWrite exercises I5: once a blob coid is
// written within a transaction, the next Vget in that same transaction
// returns the written value even though the server's committed version
// (visible to every other transaction at this StartTs) still holds the
// old bytes.
func TestInvariantI5ReadYourOwnWrite(t *testing.T) {
	ctx := context.Background()
	f := newSubtransFixture(t)
	coid := gaia.Coid{Cid: gaia.EphemeralCid(4), Oid: 1}

	seed := f.newTx()
	require.NoError(t, seed.Write(ctx, coid, []byte("v1")))
	_, err := seed.TryCommit(ctx)
	require.NoError(t, err)

	tx := f.newTx()
	require.NoError(t, tx.Write(ctx, coid, []byte("v2")))

	vb, err := tx.Vget(ctx, coid)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), vb.Bytes())

	other := f.newTx()
	otherVb, err := other.Vget(ctx, coid)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), otherVb.Bytes())
}

// TestInvariantI6PendingOpsReplayMatchesTxCache exercises I6: replaying a
// transaction's own PendingOps log against an independently fetched
// server snapshot at StartTs must equal what that transaction's own
// Vsuperget materializes into TxCache.
func TestInvariantI6PendingOpsReplayMatchesTxCache(t *testing.T) {
	ctx := context.Background()
	f := newSubtransFixture(t)
	coid := gaia.Coid{Cid: gaia.EphemeralCid(5), Oid: 0}
	f.bootstrapLeaf(ctx, coid, true)

	tx := f.newTx()
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 11, Value: gaia.Oid(11)}, nil, 0))
	require.NoError(t, tx.ListAdd(ctx, coid, valbuf.Cell{NKey: 4, Value: gaia.Oid(4)}, nil, 0))

	pg, hasPending := tx.pendingOps[coid]
	require.True(t, hasPending)
	ops := append([]valbuf.PendingOp(nil), pg.ops...)

	materialized, err := tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	require.NoError(t, err)

	independent := f.newTx()
	snapshot, err := independent.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	require.NoError(t, err)

	replayed := snapshot.CloneForWrite()
	require.NoError(t, valbuf.ApplyAll(replayed.SV, ops))

	require.Equal(t, nKeysOf(replayed.SV), nKeysOf(materialized.SV))
	require.Equal(t, replayed.SV.Cells, materialized.SV.Cells)
}

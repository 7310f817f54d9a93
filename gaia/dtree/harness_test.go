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
	"go.uber.org/zap"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/rpc/fake"
	"github.com/gaiadb/gaia/txn"
	"github.com/gaiadb/gaia/valbuf"
)

// harness bundles the shared process-wide resources a fake-server-backed
// dtree test needs: one Server, one Deps, and the two id allocators
// every Cursor that writes takes.
type harness struct {
	t      *testing.T
	server *fake.Server
	deps   txn.Deps
	tids   *gaia.TidAllocator
	oids   *gaia.OidAllocator
	rootCid gaia.Cid
}

var nextHandle uint64

func newHarness(t *testing.T, intKey bool) *harness {
	t.Helper()
	nextHandle++
	h := &harness{
		t:       t,
		server:  fake.NewServer(zap.NewNop().Sugar(), 64),
		tids:    gaia.NewTidAllocator(1, 1),
		oids:    gaia.NewOidAllocator(1, 1),
		rootCid: gaia.EphemeralCid(nextHandle),
	}
	h.deps = txn.Deps{Log: zap.NewNop().Sugar(), Local: h.server}
	h.bootstrapRoot(intKey)
	return h
}

// bootstrapRoot writes an empty leaf at oid 0: tree creation is a
// collaborator concern the core cursor engine never performs itself.
func (h *harness) bootstrapRoot(intKey bool) {
	tx := h.newTx()
	root := gaia.Coid{Cid: h.rootCid, Oid: 0}
	require.NoError(h.t, tx.WriteSuperValue(context.Background(), root, valbuf.NewLeaf(intKey, nil)))
	_, err := tx.TryCommit(context.Background())
	require.NoError(h.t, err)
}

func (h *harness) newTx() *txn.Transaction {
	tx := txn.New(h.deps)
	tx.Start(h.tids.Next())
	return tx
}

func (h *harness) newCursor(tx *txn.Transaction, intKey bool) *Cursor {
	return New(tx, h.rootCid, intKey, nil, h.oids)
}

// insertAll inserts each of keys (in the given order) into the intkey
// tree, each in its own committed transaction, mirroring how a
// real client never batches unrelated rows into one transaction.
func (h *harness) insertAll(ctx context.Context, keys []int64) {
	h.t.Helper()
	for _, k := range keys {
		tx := h.newTx()
		c := h.newCursor(tx, true)
		require.NoError(h.t, c.Insert(ctx, k, nil, 0, []byte("v")))
		_, err := tx.TryCommit(ctx)
		require.NoError(h.t, err)
	}
}

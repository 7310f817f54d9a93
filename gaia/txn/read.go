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
	"time"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
	"github.com/gaiadb/gaia/wire"
)

// Vget returns a type-0 (opaque blob) snapshot of coid, per §4.2's read
// path: TxCache hit, else process-consistent cache, else RPC.
func (t *Transaction) Vget(ctx context.Context, coid gaia.Coid) (*valbuf.Valbuf, error) {
	if err := t.checkValid(); err != nil {
		return nil, err
	}
	if e, ok := t.txCache[coid]; ok {
		if e.vb.IsSuperValue() {
			return nil, gaia.NewError(gaia.StatusWrongType, nil)
		}
		return e.vb, nil
	}

	if t.consistentEnabled && t.consistentCache != nil && !t.startTs.IsIllegal() {
		if vb := t.consistentCache.Lookup(coid, t.startTs); vb != nil {
			return t.applyAndMaybeCache(coid, vb)
		}
	}

	req := &wire.ReadRPC{Tid: t.tid, StartTs: t.startTs, Coid: coid}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return nil, t.abortOnIOError(err)
	}
	if err := p.Read(ctx, req); err != nil {
		return nil, t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return nil, gaia.NewError(req.Status, nil)
	}

	t.resolveDeferredStartTs(req.ReadTs)

	vb := valbuf.NewBlob(coid, req.Bytes, req.ReadTs)
	if t.consistentCache != nil {
		t.consistentCache.Insert(vb.Ref())
	}
	return t.applyAndMaybeCache(coid, vb)
}

// Vsuperget returns a type-1 (SuperValue) snapshot of coid, applying any
// PendingOps on first materialization. cell/prki narrow a FullRead to
// split-statistics purposes only (§4.4); pass a zero Cell and nil prki
// when not needed.
func (t *Transaction) Vsuperget(ctx context.Context, coid gaia.Coid, cell valbuf.Cell, hasCell bool, prki valbuf.KeyInfo) (*valbuf.Valbuf, error) {
	if err := t.checkValid(); err != nil {
		return nil, err
	}
	if e, ok := t.txCache[coid]; ok {
		if !e.vb.IsSuperValue() {
			return nil, gaia.NewError(gaia.StatusWrongType, nil)
		}
		return e.vb, nil
	}

	if t.consistentEnabled && t.consistentCache != nil && !t.startTs.IsIllegal() {
		if vb := t.consistentCache.Lookup(coid, t.startTs); vb != nil {
			return t.applyAndMaybeCache(coid, vb)
		}
	}

	req := &wire.FullReadRPC{Tid: t.tid, StartTs: t.startTs, Coid: coid, HasCell: hasCell}
	if hasCell {
		req.Cell = cellToWire(cell)
	}
	if prki != nil {
		req.Prki = wire.DefaultKeyInfoCodec.MarshalKeyInfo(prki)
	}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return nil, t.abortOnIOError(err)
	}
	if err := p.FullRead(ctx, req); err != nil {
		return nil, t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return nil, gaia.NewError(req.Status, nil)
	}

	t.resolveDeferredStartTs(req.ReadTs)

	sv, err := wire.UnmarshalNode(req.NodePayload, wire.DefaultKeyInfoCodec)
	if err != nil {
		return nil, err
	}
	vb := valbuf.NewSuperValue(coid, sv, req.ReadTs)
	if !sv.IsLeaf() && t.innerCache != nil {
		t.innerCache.Refresh(vb.Ref())
	}
	if t.consistentCache != nil {
		t.consistentCache.Insert(vb.Ref())
	}
	return t.applyAndMaybeCache(coid, vb)
}

// VsupergetCacheOrReal is gaia/dtree's per-level traversal primitive
// (auxReadCacheOrReal): prefer this transaction's own speculative state,
// then the process-wide inner-node cache (an "approximate" hit — real
// reports false), falling back to a real Vsuperget RPC (real reports
// true) when neither has it.
func (t *Transaction) VsupergetCacheOrReal(ctx context.Context, coid gaia.Coid) (vb *valbuf.Valbuf, real bool, err error) {
	if e, ok := t.txCache[coid]; ok {
		if !e.vb.IsSuperValue() {
			return nil, true, gaia.NewError(gaia.StatusWrongType, nil)
		}
		return e.vb, true, nil
	}
	if t.innerCache != nil {
		if cached := t.innerCache.Lookup(coid); cached != nil {
			return cached, false, nil
		}
	}
	vb, err = t.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
	return vb, true, err
}

// LookupCacheOnly is gaia/dtree's cache-only traversal primitive
// (DtCacheMovetoUnpackedaux's auxReadCache): checks this transaction's
// own speculative state and the process-wide inner-node cache, but never
// issues an RPC. ok is false on a miss at either layer.
func (t *Transaction) LookupCacheOnly(coid gaia.Coid) (vb *valbuf.Valbuf, ok bool) {
	if e, has := t.txCache[coid]; has {
		if !e.vb.IsSuperValue() {
			return nil, false
		}
		return e.vb, true
	}
	if t.innerCache != nil {
		if cached := t.innerCache.Lookup(coid); cached != nil {
			return cached, true
		}
	}
	return nil, false
}

// EvictInnerCache drops coid from the process-wide inner-node cache,
// used by gaia/dtree's stale-cache recovery when a cached entry turns
// out not to be a SuperValue at all (§4.5 "Stale-cache recovery").
func (t *Transaction) EvictInnerCache(coid gaia.Coid) {
	if t.innerCache != nil {
		t.innerCache.Remove(coid)
	}
}

// applyAndMaybeCache replays coid's pending ops into a fresh copy of vb
// (§4.2.1) and, budget permitting, installs the result into TxCache.
func (t *Transaction) applyAndMaybeCache(coid gaia.Coid, vb *valbuf.Valbuf) (*valbuf.Valbuf, error) {
	pg, hasPending := t.pendingOps[coid]
	result := vb
	if hasPending {
		result = vb.CloneForWrite()
		if result.IsSuperValue() {
			if err := valbuf.ApplyAll(result.SV, pg.ops); err != nil {
				return nil, err
			}
		}
	}
	if t.readsTxCached < MaxReadsToTxCache {
		t.readsTxCached++
		t.txCache[coid] = &entry{vb: result, level: t.subLevel}
		delete(t.pendingOps, coid) // I1: TxCache and PendingOps are mutually exclusive
	}
	return result, nil
}

// resolveDeferredStartTs implements §4.2 step 4: a deferred StartTs is
// pinned to the first read's readTs, clamped to no older than
// MaxDeferredStartTs.
func (t *Transaction) resolveDeferredStartTs(readTs gaia.Timestamp) {
	if !t.deferred || !t.startTs.IsIllegal() {
		return
	}
	floor := gaia.SetOld(int64(MaxDeferredStartTs / time.Millisecond))
	if readTs.Before(floor) {
		t.startTs = floor
	} else {
		t.startTs = readTs
	}
}

func cellToWire(c valbuf.Cell) wire.CellWire {
	return wire.CellWire{NKey: c.NKey, PKey: c.PKey, Value: c.Value}
}

func cellFromWire(c wire.CellWire) valbuf.Cell {
	return valbuf.Cell{NKey: c.NKey, PKey: c.PKey, Value: c.Value}
}

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
	"bytes"
	"context"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
	"github.com/gaiadb/gaia/wire"
)

// Write idempotently updates TxCache[coid] as a type-0 Valbuf from a
// single buffer. The first eligible write of a transaction is held back
// as a piggyback candidate rather than sent immediately (§4.2 "Write
// piggy-back").
func (t *Transaction) Write(ctx context.Context, coid gaia.Coid, data []byte) error {
	return t.Writev(ctx, coid, [][]byte{data})
}

// Put2 and Put3 are §4.2's two- and three-slice write conveniences.
func (t *Transaction) Put2(ctx context.Context, coid gaia.Coid, a, b []byte) error {
	return t.Writev(ctx, coid, [][]byte{a, b})
}

func (t *Transaction) Put3(ctx context.Context, coid gaia.Coid, a, b, c []byte) error {
	return t.Writev(ctx, coid, [][]byte{a, b, c})
}

// Writev concatenates slices and installs the result into TxCache,
// eligible for piggyback if it is this transaction's first write and
// small enough.
func (t *Transaction) Writev(ctx context.Context, coid gaia.Coid, slices [][]byte) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	data := make([]byte, 0, total)
	for _, s := range slices {
		data = append(data, s...)
	}

	if e, ok := t.txCache[coid]; ok && !e.vb.IsSuperValue() {
		e.vb = valbuf.NewBlob(coid, data, e.vb.ReadTs)
		e.level = t.subLevel
		delete(t.pendingOps, coid)
		return nil
	}

	if t.piggy == nil && len(data) <= WriteOnPrepareMaxBytes {
		t.piggy = &piggyback{coid: coid, bytes: data, level: t.subLevel}
		t.txCache[coid] = &entry{vb: valbuf.NewBlob(coid, data, gaia.IllegalTimestamp), level: t.subLevel}
		delete(t.pendingOps, coid)
		return nil
	}

	req := &wire.WriteRPC{Tid: t.tid, Coid: coid, Level: int32(t.subLevel), Bytes: data}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return t.abortOnIOError(err)
	}
	if err := p.Write(ctx, req); err != nil {
		return t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return gaia.NewError(req.Status, nil)
	}

	t.txCache[coid] = &entry{vb: valbuf.NewBlob(coid, data, gaia.IllegalTimestamp), level: t.subLevel}
	delete(t.pendingOps, coid)
	return nil
}

// WriteSuperValue overwrites coid wholesale with sv, the entry point
// the original exposes separately from incremental ListAdd/
// ListDelRange/AttrSet — used for node creation (InitSuperValue-style)
// and by the splitter-facing path.
func (t *Transaction) WriteSuperValue(ctx context.Context, coid gaia.Coid, sv *valbuf.SuperValue) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	if _, hasCache := t.txCache[coid]; !hasCache {
		if _, hasPending := t.pendingOps[coid]; hasPending {
			delete(t.pendingOps, coid) // full overwrite supersedes any pending op log
		}
	}

	payload := wire.MarshalNode(sv, wire.DefaultKeyInfoCodec)
	req := &wire.FullWriteRPC{Tid: t.tid, Coid: coid, Level: int32(t.subLevel), NodePayload: payload}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return t.abortOnIOError(err)
	}
	if err := p.FullWrite(ctx, req); err != nil {
		return t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return gaia.NewError(req.Status, nil)
	}

	t.txCache[coid] = &entry{vb: valbuf.NewSuperValue(coid, sv.DeepCopy(), gaia.IllegalTimestamp), level: t.subLevel}
	return nil
}

// pendingFor returns (creating if necessary) coid's pending-op group,
// enforcing I1: a coid already materialized in TxCache gets its mutation
// applied in place there instead (callers check TxCache first).
func (t *Transaction) pendingFor(coid gaia.Coid, prki valbuf.KeyInfo) *pendingGroup {
	pg, ok := t.pendingOps[coid]
	if !ok {
		pg = &pendingGroup{prki: prki}
		t.pendingOps[coid] = pg
	}
	return pg
}

// ListAddFlags mirrors wire.ListAddFlagInRangeCheck for callers that
// don't want to import gaia/wire directly.
const ListAddFlagInRangeCheck = wire.ListAddFlagInRangeCheck

// prkiBytes marshals prki for the wire, or nil if prki is nil (integer
// keys carry no collation).
func prkiBytes(prki valbuf.KeyInfo) []byte {
	if prki == nil {
		return nil
	}
	return wire.DefaultKeyInfoCodec.MarshalKeyInfo(prki)
}

// ListAdd is a suspension-point RPC (§5): unless the in-range-check flag
// is set and the cell is already visible in a TxCache-resident copy, it
// always round-trips to the owning server, then records the mutation
// either in place (TxCache hit) or as a pending op (I1) for replay on
// next read.
func (t *Transaction) ListAdd(ctx context.Context, coid gaia.Coid, cell valbuf.Cell, prki valbuf.KeyInfo, flags uint32) error {
	_, err := t.ListAddSplitStats(ctx, coid, cell, prki, flags)
	return err
}

// SplitStats is a node's post-mutation size as the server reported it,
// the client-side half of §4.5's split-trigger decision.
type SplitStats struct {
	Ncells int32
	Size   int64
}

// ListAddSplitStats is ListAdd plus the server-reported post-insert node
// size (§4.4's "ncells/size (when split decided on client)"), which
// gaia/dtree's Insert compares against DTREE_SPLIT_SIZE/
// DTREE_SPLIT_SIZE_BYTES to decide whether to enqueue a split task.
func (t *Transaction) ListAddSplitStats(ctx context.Context, coid gaia.Coid, cell valbuf.Cell, prki valbuf.KeyInfo, flags uint32) (SplitStats, error) {
	if err := t.checkValid(); err != nil {
		return SplitStats{}, err
	}

	e, cached := t.txCache[coid]
	if cached && !e.vb.IsSuperValue() {
		return SplitStats{}, gaia.NewError(gaia.StatusWrongType, nil)
	}
	if cached && flags&ListAddFlagInRangeCheck != 0 {
		if e.vb.SV.IsLeaf() {
			if _, matches := valbuf.SearchCell(e.vb.SV, cell, false, prki); matches {
				return SplitStats{}, nil // already present, server round trip unnecessary
			}
		}
	}

	req := &wire.ListAddRPC{Tid: t.tid, Coid: coid, Level: int32(t.subLevel), Flags: flags, StartTs: t.startTs, Cell: cellToWire(cell), Prki: prkiBytes(prki)}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return SplitStats{}, t.abortOnIOError(err)
	}
	if err := p.ListAdd(ctx, req); err != nil {
		return SplitStats{}, t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return SplitStats{}, gaia.NewError(req.Status, nil)
	}

	op := valbuf.PendingOp{Type: valbuf.OpAdd, Level: t.subLevel, Ki: prki, Cell: cell}
	stats := SplitStats{Ncells: req.SplitNcells, Size: req.SplitSize}
	if cached {
		e.vb = e.vb.CloneForWrite()
		return stats, op.Apply(e.vb.SV)
	}
	pg := t.pendingFor(coid, prki)
	pg.ops = append(pg.ops, op)
	return stats, nil
}

// ListDelRange always round-trips to the owning server, then records the
// mutation either in place (TxCache hit) or as a pending op (I1).
func (t *Transaction) ListDelRange(ctx context.Context, coid gaia.Coid, interval valbuf.IntervalType, cell1, cell2 valbuf.Cell, prki valbuf.KeyInfo) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	e, cached := t.txCache[coid]
	if cached && !e.vb.IsSuperValue() {
		return gaia.NewError(gaia.StatusWrongType, nil)
	}

	req := &wire.ListDelRangeRPC{Tid: t.tid, Coid: coid, Level: int32(t.subLevel), Interval: uint8(interval), Cell1: cellToWire(cell1), Cell2: cellToWire(cell2), Prki: prkiBytes(prki)}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return t.abortOnIOError(err)
	}
	if err := p.ListDelRange(ctx, req); err != nil {
		return t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return gaia.NewError(req.Status, nil)
	}

	op := valbuf.PendingOp{Type: valbuf.OpDelRange, Level: t.subLevel, Ki: prki, Interval: interval, Cell1: cell1, Cell2: cell2}
	if cached {
		e.vb = e.vb.CloneForWrite()
		return op.Apply(e.vb.SV)
	}
	pg := t.pendingFor(coid, prki)
	pg.ops = append(pg.ops, op)
	return nil
}

// AttrSet always round-trips to the owning server, then records the
// mutation either in place (TxCache hit) or as a pending op (I1).
func (t *Transaction) AttrSet(ctx context.Context, coid gaia.Coid, attrid int, value uint64) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	e, cached := t.txCache[coid]
	if cached && !e.vb.IsSuperValue() {
		return gaia.NewError(gaia.StatusWrongType, nil)
	}

	req := &wire.AttrSetRPC{Tid: t.tid, Coid: coid, Level: int32(t.subLevel), AttrID: int32(attrid), AttrValue: value}
	p, err := t.participantFor(ctx, coid)
	if err != nil {
		return t.abortOnIOError(err)
	}
	if err := p.AttrSet(ctx, req); err != nil {
		return t.abortOnIOError(err)
	}
	if req.Status != gaia.StatusOK {
		return gaia.NewError(req.Status, nil)
	}

	op := valbuf.PendingOp{Type: valbuf.OpAttrSet, Level: t.subLevel, AttrID: attrid, AttrValue: value}
	if cached {
		e.vb = e.vb.CloneForWrite()
		return op.Apply(e.vb.SV)
	}
	pg := t.pendingFor(coid, nil)
	pg.ops = append(pg.ops, op)
	return nil
}

// AddSet and RemSet are clientlib.h's addset/remset sugar: thin wrappers
// that always pass flags=0 to ListAdd, resp. a single-cell ListDelRange
// over the closed interval [cell, cell].
func (t *Transaction) AddSet(ctx context.Context, coid gaia.Coid, cell valbuf.Cell, prki valbuf.KeyInfo) error {
	return t.ListAdd(ctx, coid, cell, prki, 0)
}

func (t *Transaction) RemSet(ctx context.Context, coid gaia.Coid, cell valbuf.Cell, prki valbuf.KeyInfo) error {
	return t.ListDelRange(ctx, coid, valbuf.IntervalType(4) /* [a,b] */, cell, cell, prki)
}

// StartSubtrans begins a new subtransaction level; future writes are
// tagged with it until a matching AbortSubtrans/ReleaseSubtrans.
func (t *Transaction) StartSubtrans() int {
	t.subLevel++
	return t.subLevel
}

// AbortSubtrans discards everything at level > keep, both locally and
// (via SubTrans RPC) at every participant touched so far.
func (t *Transaction) AbortSubtrans(ctx context.Context, keep int) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	for coid, e := range t.txCache {
		if e.level > keep {
			delete(t.txCache, coid)
		}
	}
	for coid, pg := range t.pendingOps {
		pg.ops = valbuf.DropAbove(pg.ops, keep)
		if len(pg.ops) == 0 {
			delete(t.pendingOps, coid)
		}
	}
	t.subLevel = keep
	return t.broadcastSubTrans(ctx, keep, wire.SubTransDiscard)
}

// ReleaseSubtrans retags everything at level > keep down to keep, both
// locally and at every participant.
func (t *Transaction) ReleaseSubtrans(ctx context.Context, keep int) error {
	if err := t.checkValid(); err != nil {
		return err
	}
	for _, e := range t.txCache {
		if e.level > keep {
			e.level = keep
		}
	}
	for _, pg := range t.pendingOps {
		valbuf.MergeDown(pg.ops, keep)
	}
	t.subLevel = keep
	return t.broadcastSubTrans(ctx, keep, wire.SubTransMergeDown)
}

func (t *Transaction) broadcastSubTrans(ctx context.Context, level int, action wire.SubTransAction) error {
	for _, p := range t.allParticipants() {
		req := &wire.SubTransRPC{Tid: t.tid, Level: int32(level), Action: action}
		if err := p.SubTrans(ctx, req); err != nil {
			return t.abortOnIOError(err)
		}
		if req.Status != gaia.StatusOK {
			return gaia.NewError(req.Status, nil)
		}
	}
	return nil
}

// equalBytes reports whether a and b hold identical content.
func equalBytes(a, b []byte) bool { return bytes.Equal(a, b) }

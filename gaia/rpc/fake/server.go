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

// Package fake implements rpc.ParticipantAdmin entirely in-process: an
// MVCC key-value store good enough to back the local (non-durable)
// transaction variant (§4.7) and to drive gaia/txn and gaia/dtree tests
// without a real storage server. It deliberately does not persist
// anything to disk — that durability layer is the out-of-scope storage
// server (§1 Non-goals).
package fake

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
	"github.com/gaiadb/gaia/wire"
)

type version struct {
	commitTs gaia.Timestamp
	bytes    []byte // nil means "deleted"
}

type object struct {
	mu       sync.Mutex
	versions []version // ascending by commitTs
}

// readAt returns the most recent version committed at or before ts. A
// coid with no such version — never written, or only written after ts —
// is reported as an empty object at ts itself rather than an error: the
// fake server never garbage-collects history, so there is no "read below
// the retention horizon" case for StatusTooOld to describe here. Real
// storage servers that do retire old versions would use StatusTooOld for
// that case; this one simply doesn't have it.
func (o *object) readAt(ts gaia.Timestamp) ([]byte, gaia.Timestamp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.versions) - 1; i >= 0; i-- {
		if !o.versions[i].commitTs.After(ts) {
			return o.versions[i].bytes, o.versions[i].commitTs
		}
	}
	return nil, ts
}

func (o *object) write(commitTs gaia.Timestamp, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.versions = append(o.versions, version{commitTs: commitTs, bytes: data})
}

// latest returns the bytes of the most recently committed version,
// regardless of any transaction's snapshot ts — what ListAdd/ListDelRange/
// AttrSet need to replay a logical op against when the acting transaction
// hasn't already staged a copy of its own.
func (o *object) latest() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.versions) == 0 {
		return nil
	}
	return o.versions[len(o.versions)-1].bytes
}

// checkpoint is a coid's staged-write state as of entering a given
// subtransaction level, recorded the first time a coid's staged level
// rises past that level so SubTrans(Discard) can restore exactly that
// earlier state rather than only being able to keep-all-or-drop-all of a
// coid's staged write (§4.2's abortSubtrans propagation is by level, not
// by coid as a whole).
type checkpoint struct {
	bytes []byte
}

// prepared holds one participant's half of an in-flight 2PC transaction:
// the writes it has staged under Prepare, awaiting Commit or Abort.
type prepared struct {
	writes      map[gaia.Coid][]byte
	level       map[gaia.Coid]int32
	checkpoints map[gaia.Coid]map[int32]checkpoint
}

// stage installs bytes as coid's staged write at level. The first time a
// coid's staged level rises past a value it previously sat at, the bytes
// it held at that prior level are checkpointed — captured on the way out,
// since that's the only point the "as of that level" content is known.
func (p *prepared) stage(coid gaia.Coid, level int32, bytes []byte) {
	if oldLevel, hadLevel := p.level[coid]; hadLevel && level > oldLevel {
		levels, ok := p.checkpoints[coid]
		if !ok {
			levels = make(map[int32]checkpoint)
			p.checkpoints[coid] = levels
		}
		if _, already := levels[oldLevel]; !already {
			levels[oldLevel] = checkpoint{bytes: p.writes[coid]}
		}
	}
	p.writes[coid] = bytes
	p.level[coid] = level
}

// Server is the fake in-process MVKVS participant. Safe for concurrent
// use; the Tid-to-worker pinning §5 describes is irrelevant here since
// every call executes synchronously under per-object locks.
type Server struct {
	log *zap.SugaredLogger

	// inflight bounds concurrent calls the way a real RPC client's
	// per-connection semaphore would, so tests exercising many
	// goroutines against one fake server see realistic backpressure
	// rather than unbounded goroutine fan-out.
	inflight *semaphore.Weighted

	mu      sync.Mutex
	objects map[gaia.Coid]*object
	prep    map[gaia.Tid]*prepared
	rowids  map[gaia.Cid]int64
}

// NewServer builds a fake server. log may be nil (a no-op logger is
// substituted); maxInflight bounds concurrent RPCs (0 means unbounded).
func NewServer(log *zap.SugaredLogger, maxInflight int64) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if maxInflight <= 0 {
		maxInflight = 1 << 20
	}
	return &Server{
		log:      log,
		inflight: semaphore.NewWeighted(maxInflight),
		objects:  make(map[gaia.Coid]*object),
		prep:     make(map[gaia.Tid]*prepared),
		rowids:   make(map[gaia.Cid]int64),
	}
}

func (s *Server) objectFor(coid gaia.Coid) *object {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[coid]
	if !ok {
		o = &object{}
		s.objects[coid] = o
	}
	return o
}

func (s *Server) acquire(ctx context.Context) error {
	if err := s.inflight.Acquire(ctx, 1); err != nil {
		return gaia.NewError(gaia.StatusServerTimeout, err)
	}
	return nil
}

func (s *Server) release() { s.inflight.Release(1) }

func (s *Server) prepState(tid gaia.Tid) *prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prep[tid]
	if !ok {
		p = &prepared{
			writes:      make(map[gaia.Coid][]byte),
			level:       make(map[gaia.Coid]int32),
			checkpoints: make(map[gaia.Coid]map[int32]checkpoint),
		}
		s.prep[tid] = p
	}
	return p
}

// Read serves a snapshot read at req.StartTs.
func (s *Server) Read(ctx context.Context, req *wire.ReadRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	data, readTs := s.objectFor(req.Coid).readAt(req.StartTs)
	req.Status = gaia.StatusOK
	req.ReadTs = readTs
	req.Bytes = data
	return nil
}

// Write stages an unconditional write under req.Tid at req.Level. Like
// every staged write, it becomes visible to snapshot reads only once
// Commit (or a one-phase Prepare) applies the transaction's writes.
func (s *Server) Write(ctx context.Context, req *wire.WriteRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	p := s.prepState(req.Tid)
	s.mu.Lock()
	p.stage(req.Coid, req.Level, req.Bytes)
	s.mu.Unlock()
	req.Status = gaia.StatusOK
	return nil
}

// FullRead serves a supervalue snapshot read; node (un)marshalling is
// left to the caller (gaia/txn), so FullRead/FullWrite here move the
// same wire.MarshalNode output Read/Write move for blobs.
func (s *Server) FullRead(ctx context.Context, req *wire.FullReadRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	data, readTs := s.objectFor(req.Coid).readAt(req.StartTs)
	req.Status = gaia.StatusOK
	req.ReadTs = readTs
	req.NodePayload = data
	return nil
}

// FullWrite stages an unconditional supervalue overwrite.
func (s *Server) FullWrite(ctx context.Context, req *wire.FullWriteRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	p := s.prepState(req.Tid)
	s.mu.Lock()
	p.stage(req.Coid, req.Level, req.NodePayload)
	s.mu.Unlock()
	req.Status = gaia.StatusOK
	return nil
}

func cellFromWire(c wire.CellWire) valbuf.Cell {
	return valbuf.Cell{NKey: c.NKey, PKey: c.PKey, Value: c.Value}
}

// applyOp replays op against coid's current node — whatever this
// transaction has already staged under Prepare, falling back to the last
// committed version — and restages the mutated result, the same way
// Write/FullWrite stage an overwrite. It is the fake server's mirror of
// valbuf.PendingOp.Apply, which gaia/txn runs client-side against its own
// cached copy; the fake server has to do the same thing server-side since
// it has no client-side cache of its own to keep consistent.
func (s *Server) applyOp(tid gaia.Tid, coid gaia.Coid, level int32, op valbuf.PendingOp) (*valbuf.SuperValue, error) {
	p := s.prepState(tid)
	s.mu.Lock()
	base, staged := p.writes[coid]
	s.mu.Unlock()
	if !staged {
		base = s.objectFor(coid).latest()
	}

	sv, err := wire.UnmarshalNode(base, wire.DefaultKeyInfoCodec)
	if err != nil {
		return nil, err
	}
	if err := op.Apply(sv); err != nil {
		return nil, err
	}

	s.mu.Lock()
	p.stage(coid, level, wire.MarshalNode(sv, wire.DefaultKeyInfoCodec))
	s.mu.Unlock()
	return sv, nil
}

// ListAdd inserts or overwrites a single cell in coid's node and reports
// the post-mutation cell count/size so gaia/dtree can decide whether to
// trigger a split (§4.4).
func (s *Server) ListAdd(ctx context.Context, req *wire.ListAddRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	ki, err := wire.DefaultKeyInfoCodec.UnmarshalKeyInfo(req.Prki)
	if err != nil {
		req.Status = gaia.StatusOf(err)
		return nil
	}
	op := valbuf.PendingOp{Type: valbuf.OpAdd, Level: int(req.Level), Ki: ki, Cell: cellFromWire(req.Cell)}
	sv, err := s.applyOp(req.Tid, req.Coid, req.Level, op)
	if err != nil {
		req.Status = gaia.StatusOf(err)
		return nil
	}
	req.Status = gaia.StatusOK
	req.SplitNcells = int32(sv.Ncells())
	req.SplitSize = int64(sv.CellsSize)
	return nil
}

func (s *Server) ListDelRange(ctx context.Context, req *wire.ListDelRangeRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	ki, err := wire.DefaultKeyInfoCodec.UnmarshalKeyInfo(req.Prki)
	if err != nil {
		req.Status = gaia.StatusOf(err)
		return nil
	}
	op := valbuf.PendingOp{
		Type:     valbuf.OpDelRange,
		Level:    int(req.Level),
		Ki:       ki,
		Interval: valbuf.IntervalType(req.Interval),
		Cell1:    cellFromWire(req.Cell1),
		Cell2:    cellFromWire(req.Cell2),
	}
	if _, err := s.applyOp(req.Tid, req.Coid, req.Level, op); err != nil {
		req.Status = gaia.StatusOf(err)
		return nil
	}
	req.Status = gaia.StatusOK
	return nil
}

func (s *Server) AttrSet(ctx context.Context, req *wire.AttrSetRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	op := valbuf.PendingOp{Type: valbuf.OpAttrSet, Level: int(req.Level), AttrID: int(req.AttrID), AttrValue: req.AttrValue}
	if _, err := s.applyOp(req.Tid, req.Coid, req.Level, op); err != nil {
		req.Status = gaia.StatusOf(err)
		return nil
	}
	req.Status = gaia.StatusOK
	return nil
}

// Prepare votes commit unconditionally (the fake server never detects
// write-write conflicts — there is no concurrent-transaction isolation
// story for it, only the snapshot-read MVCC history tests need). With
// OnePhaseCommit set it also commits: every staged write is applied at
// the returned MinCommitTs and no Commit call follows.
func (s *Server) Prepare(ctx context.Context, req *wire.PrepareRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	p := s.prepState(req.Tid)
	s.mu.Lock()
	for _, pb := range req.Piggyback {
		p.writes[pb.Coid] = pb.Bytes
	}
	if req.OnePhaseCommit {
		delete(s.prep, req.Tid)
	}
	s.mu.Unlock()

	req.Status = gaia.StatusOK
	req.PreparedVote = wire.VoteCommit
	req.MinCommitTs = gaia.NowTimestamp()
	if req.OnePhaseCommit {
		for coid, data := range p.writes {
			s.objectFor(coid).write(req.MinCommitTs, data)
		}
	}
	return nil
}

// Commit applies every staged write at req.CommitTs, or discards them.
func (s *Server) Commit(ctx context.Context, req *wire.CommitRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	p, ok := s.prep[req.Tid]
	delete(s.prep, req.Tid)
	s.mu.Unlock()

	if !ok {
		req.Status = gaia.StatusClearedTid
		return nil
	}
	if req.Outcome != wire.OutcomeCommit {
		req.Status = gaia.StatusOK
		return nil
	}
	for coid, data := range p.writes {
		s.objectFor(coid).write(req.CommitTs, data)
	}
	req.Status = gaia.StatusOK
	return nil
}

// SubTrans discards or merges down a subtransaction level's staged
// writes, per §4.2's propagation of abortSubtrans/releaseSubtrans.
func (s *Server) SubTrans(ctx context.Context, req *wire.SubTransRPC) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prep[req.Tid]
	if !ok {
		req.Status = gaia.StatusOK
		return nil
	}
	switch req.Action {
	case wire.SubTransDiscard:
		var stale []gaia.Coid
		for coid, lvl := range p.level {
			if lvl > req.Level {
				stale = append(stale, coid)
			}
		}
		for _, coid := range stale {
			levels := p.checkpoints[coid]
			var bestLevel int32
			var best checkpoint
			found := false
			for l, cp := range levels {
				if l <= req.Level && (!found || l > bestLevel) {
					bestLevel, best, found = l, cp, true
				}
			}
			if found {
				p.writes[coid] = best.bytes
				p.level[coid] = bestLevel
			} else {
				delete(p.writes, coid)
				delete(p.level, coid)
			}
			for l := range levels {
				if l > req.Level {
					delete(levels, l)
				}
			}
		}
	case wire.SubTransMergeDown:
		for coid, lvl := range p.level {
			if lvl > req.Level {
				p.level[coid] = req.Level
			}
		}
	}
	req.Status = gaia.StatusOK
	return nil
}

// Null is a pure liveness ping.
func (s *Server) Null(ctx context.Context, req *wire.NullRPC) error {
	req.Status = gaia.StatusOK
	return nil
}

// GetStatus reports coarse counters for diagnostics (cmd/dtreeinspect).
func (s *Server) GetStatus(ctx context.Context, req *wire.GetStatusRPC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for coid := range s.objects {
		if coid.Cid == req.Cid {
			n++
		}
	}
	req.Status = gaia.StatusOK
	req.NumObjects = n
	return nil
}

// Shutdown is a no-op for the fake server (nothing to flush, no
// listeners to close).
func (s *Server) Shutdown(ctx context.Context, req *wire.ShutdownRPC) error {
	req.Status = gaia.StatusOK
	return nil
}

// FlushFile and LoadFile are no-ops: the fake server never persists, so
// checkpointing it has nothing to do beyond acknowledging (§4.7
// ephemeral containers never flush for real).
func (s *Server) FlushFile(ctx context.Context, req *wire.FlushFileRPC) error {
	req.Status = gaia.StatusOK
	return nil
}

func (s *Server) LoadFile(ctx context.Context, req *wire.LoadFileRPC) error {
	req.Status = gaia.StatusOK
	return nil
}

// Splitnode always declines: the fake server has no splitter to call
// into, so callers fall back to client-driven split logic (gaia/dtree)
// when this returns NotImplemented.
func (s *Server) Splitnode(ctx context.Context, req *wire.SplitnodeRPC) error {
	req.Status = gaia.StatusNotImplemented
	return nil
}

// GetRowid allocates a fresh, process-local monotonic rowid for cid,
// seeded by Hint on first use (§4.6).
func (s *Server) GetRowid(ctx context.Context, req *wire.GetRowidRPC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rowids[req.Cid]
	if !ok {
		cur = req.Hint
	}
	cur++
	s.rowids[req.Cid] = cur
	req.Status = gaia.StatusOK
	req.Rowid = cur
	return nil
}

// coidsForCid lists every oid the fake server holds under cid, sorted,
// used by cmd/dtreeinspect's raw-dump mode.
func (s *Server) coidsForCid(cid gaia.Cid) []gaia.Coid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gaia.Coid
	for coid := range s.objects {
		if coid.Cid == cid {
			out = append(out, coid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Oid < out[j].Oid })
	return out
}

// CoidsForCid is the exported form of coidsForCid, used by
// cmd/dtreeinspect when pointed at a fake/in-memory deployment.
func (s *Server) CoidsForCid(cid gaia.Cid) []gaia.Coid { return s.coidsForCid(cid) }

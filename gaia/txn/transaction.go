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

// Package txn implements the distributed transaction object (§4.2): a
// snapshot-isolated, subtransaction-stacked, two-phase-committing client
// side of the MVKVS, sitting between gaia/dtree's cursor engine and
// gaia/rpc's storage-server contract.
package txn

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/cache"
	"github.com/gaiadb/gaia/config"
	"github.com/gaiadb/gaia/rpc"
	"github.com/gaiadb/gaia/valbuf"
)

// Tuning constants, per §4.2 and SPEC_FULL's supplemented read-your-
// writes clock trick.
const (
	// MaxDeferredStartTs clamps how stale a deferred transaction's
	// StartTs may become once its first read resolves it.
	MaxDeferredStartTs = 5 * time.Second

	// MaxReadsToTxCache bounds how many distinct coids a single
	// transaction will promote into TxCache; beyond this, reads are
	// still served correctly but skip the TxCache fast path to bound
	// per-transaction memory.
	MaxReadsToTxCache = 4096

	// WriteOnPrepareMaxBytes bounds the one write eligible to piggyback
	// onto Prepare instead of flushing immediately.
	WriteOnPrepareMaxBytes = 256

	// StartTsMaxStale is how far in the past a non-deferred transaction's
	// StartTs may lag the local clock before read-your-own-writes would
	// break; start() clamps to max(now-StartTsMaxStale, lastCommitTs).
	StartTsMaxStale = 30 * time.Second
)

// State is a transaction's lifecycle state (§4.2's valid/aborted/
// aborted-io-error triple).
type State int

const (
	StateValid State = iota
	StateAborted
	StateAbortedIOError
	StateCommitted
)

// entry is one TxCache[coid] slot: a materialized Valbuf plus the
// subtransaction level that (last) wrote it.
type entry struct {
	vb    *valbuf.Valbuf
	level int
}

// pendingGroup is PendingOps[coid]: the FIFO op log for one coid, kept
// disjoint from TxCache[coid] per invariant I1.
type pendingGroup struct {
	ops  []valbuf.PendingOp
	prki valbuf.KeyInfo
}

// piggyback is the single buffered write eligible to ride a Prepare
// call instead of flushing immediately (§4.2 "Write piggy-back").
type piggyback struct {
	coid  gaia.Coid
	bytes []byte
	level int
}

// Transaction is the client-side transaction object. Not safe for
// concurrent use by multiple goroutines (§5: "at most one thread may
// invoke its methods at a time"); multiple Transactions on one process
// share the caches, throttle, and rowid counters passed into New.
type Transaction struct {
	log *zap.SugaredLogger

	tid      gaia.Tid
	startTs  gaia.Timestamp
	deferred bool
	state    State

	subLevel int

	txCache    map[gaia.Coid]*entry
	pendingOps map[gaia.Coid]*pendingGroup

	readsTxCached int

	piggy *piggyback

	cfg      *config.ClusterConfig
	dialer   rpc.Dialer
	innerCache *cache.InnerNodeCache
	consistentCache *cache.ConsistentCache
	consistentEnabled bool

	participants map[string]rpc.ParticipantAdmin

	// splitq is the commit-time split work list (spec.md "Commit-time
	// split dispatch"); splitter runs it after a successful commit.
	splitq   []splitWork
	splitter Splitter

	// local, when true, is the §4.7 variant: every RPC dispatches to a
	// single in-process fake.Server instead of a dialed cluster, and
	// coids must carry the ephemeral bit.
	local      bool
	localParty rpc.ParticipantAdmin

	// lastCommitTsPtr is a process-shared watermark (SPEC_FULL's
	// STARTTS_MAX_STALE trick): start() clamps StartTs to at least the
	// latest commit recorded in it, so a client never fails to observe
	// its own prior writes even under a stale clock.
	lastCommitTsPtr *gaia.Timestamp
	lastCommitTsMu  *sync.Mutex
}

// Deps bundles the process-shared resources New needs: the cluster
// config and dialer for the networked path, or a single local
// participant for the §4.7 ephemeral variant, plus the shared caches.
type Deps struct {
	Log             *zap.SugaredLogger
	Cfg             *config.ClusterConfig
	Dialer          rpc.Dialer
	InnerCache      *cache.InnerNodeCache
	ConsistentCache *cache.ConsistentCache
	ConsistentEnabled bool

	LastCommitTs   *gaia.Timestamp
	LastCommitTsMu *sync.Mutex

	// Local, when set, makes every Transaction built from this Deps a
	// §4.7 local (non-durable) transaction dispatching to Local instead
	// of dialing cfg.
	Local rpc.ParticipantAdmin

	// Splitter runs the commit-time split work list; nil disables
	// dispatch (callers that never queue splits don't need one).
	Splitter Splitter
}

// processLastCommitTs is the watermark New uses when Deps leaves
// LastCommitTs unset; every such Transaction in the process shares it.
var (
	processLastCommitTs   gaia.Timestamp
	processLastCommitTsMu sync.Mutex
)

// New allocates a Transaction in the invalid state; call Start or
// StartDeferred before using it.
func New(d Deps) *Transaction {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.LastCommitTsMu == nil {
		d.LastCommitTsMu = &processLastCommitTsMu
	}
	if d.LastCommitTs == nil {
		d.LastCommitTs = &processLastCommitTs
	}
	return &Transaction{
		log:               d.Log,
		cfg:               d.Cfg,
		dialer:            d.Dialer,
		innerCache:        d.InnerCache,
		consistentCache:   d.ConsistentCache,
		consistentEnabled: d.ConsistentEnabled,
		local:             d.Local != nil,
		localParty:        d.Local,
		splitter:          d.Splitter,
		lastCommitTsPtr:   d.LastCommitTs,
		lastCommitTsMu:    d.LastCommitTsMu,
		participants:      make(map[string]rpc.ParticipantAdmin),
	}
}

// Start resets the Transaction to a fresh valid state with a
// read-your-own-writes StartTs (non-deferred): max(now-StartTsMaxStale,
// lastCommitTs), per SPEC_FULL's STARTTS_MAX_STALE trick.
func (t *Transaction) Start(tid gaia.Tid) {
	t.reset(tid)
	old := gaia.SetOld(int64(StartTsMaxStale / time.Millisecond))
	t.lastCommitTsMu.Lock()
	last := *t.lastCommitTsPtr
	t.lastCommitTsMu.Unlock()
	t.startTs = old.Max(last)
	t.deferred = false
}

// StartDeferred resets the Transaction with an illegal StartTs, resolved
// to the server's readTs on the transaction's first read (§4.2).
func (t *Transaction) StartDeferred(tid gaia.Tid) {
	t.reset(tid)
	t.startTs = gaia.IllegalTimestamp
	t.deferred = true
}

func (t *Transaction) reset(tid gaia.Tid) {
	t.tid = tid
	t.state = StateValid
	t.subLevel = 0
	t.txCache = make(map[gaia.Coid]*entry)
	t.pendingOps = make(map[gaia.Coid]*pendingGroup)
	t.readsTxCached = 0
	t.piggy = nil
	t.splitq = nil
}

// State reports the transaction's current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Tid reports the transaction's id.
func (t *Transaction) Tid() gaia.Tid { return t.tid }

// StartTs reports the transaction's current snapshot timestamp (may be
// IllegalTimestamp before a deferred transaction's first read).
func (t *Transaction) StartTs() gaia.Timestamp { return t.startTs }

func (t *Transaction) checkValid() error {
	switch t.state {
	case StateValid:
		return nil
	case StateAborted, StateAbortedIOError:
		return gaia.NewError(gaia.StatusTxEnded, nil)
	default:
		return gaia.NewError(gaia.StatusInvalidTid, nil)
	}
}

func (t *Transaction) abortOnIOError(err error) error {
	t.state = StateAbortedIOError
	return err
}

// participantFor resolves (dialing if necessary) the ParticipantAdmin
// owning coid's container. For local transactions this is always the
// single in-process fake server.
func (t *Transaction) participantFor(ctx context.Context, coid gaia.Coid) (rpc.ParticipantAdmin, error) {
	if t.local {
		if !coid.Cid.IsEphemeral() {
			return nil, gaia.Errorf(gaia.StatusGeneric, "txn: local transaction must not touch non-ephemeral cid %x", uint64(coid.Cid))
		}
		return t.localParty, nil
	}
	server := t.cfg.ServerFor(coid.Cid)
	if server == "" {
		return nil, gaia.Errorf(gaia.StatusGeneric, "txn: no server configured for cid %x", uint64(coid.Cid))
	}
	if p, ok := t.participants[server]; ok {
		return p, nil
	}
	p, err := t.dialer.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	t.participants[server] = p
	return p, nil
}

// allParticipants returns every distinct participant this transaction
// has talked to so far, for Prepare/Commit/SubTrans fan-out.
func (t *Transaction) allParticipants() map[string]rpc.ParticipantAdmin {
	if t.local {
		return map[string]rpc.ParticipantAdmin{"local": t.localParty}
	}
	return t.participants
}

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/rpc"
	"github.com/gaiadb/gaia/wire"
)

// SplitClientMaxRetries bounds commit-time split dispatch retries. The
// filtered original source names DTREE_SPLIT_CLIENT_MAX_RETRIES but its
// value lives in a header outside the retrieval pack; 5 matches the
// 10ms-backoff order of magnitude the source's retry loop implies.
const SplitClientMaxRetries = 5

// splitRetryBackoff is the fixed 10ms delay spec.md's commit-time split
// dispatch uses between retries.
const splitRetryBackoff = 10 * time.Millisecond

// Splitter runs the local split algorithm for one node, invoked from the
// commit-time work list. gaia/dtree implements this; gaia/txn only
// depends on the interface to avoid an import cycle (dtree depends on
// txn, not the reverse).
type Splitter interface {
	Split(ctx context.Context, coid gaia.Coid, isLeaf bool) error
}

// Decision is tryCommit's outcome code, mirroring §4.2's table directly:
// 0 committed, 1 voted-abort, 3 prepare error, <0 a wire error already
// surfaced through a non-nil error return.
type Decision int

const (
	DecisionCommitted  Decision = 0
	DecisionVotedAbort Decision = 1
	DecisionPrepareErr Decision = 3
)

// splitWork is one deferred "node may need splitting" entry queued during
// the transaction and drained only after a successful commit (§4.2's
// "Commit-time split dispatch").
type splitWork struct {
	coid   gaia.Coid
	isLeaf bool
}

// prepareResult is one participant's Prepare response, collected by
// auxprepare before the commit/abort decision is made.
type prepareResult struct {
	server string
	vote   wire.Vote
	mints  gaia.Timestamp
	err    error
}

// TryCommit runs 2PC (with the one-phase fast path when eligible) and
// returns the decision code from §4.2's table. A non-nil error means a
// wire/IO failure already moved the transaction to StateAbortedIOError;
// err is nil whenever decision is meaningfully 0/1/3.
func (t *Transaction) TryCommit(ctx context.Context) (Decision, error) {
	if err := t.checkValid(); err != nil {
		return DecisionPrepareErr, err
	}

	parts := t.allParticipants()
	if len(parts) == 0 {
		t.state = StateCommitted
		return DecisionCommitted, nil
	}

	onePhase := len(parts) == 1 && !t.touchesCacheableCoid()

	committs, decision, err := t.auxprepare(ctx, parts, onePhase)
	if err != nil {
		return DecisionPrepareErr, t.abortOnIOError(err)
	}

	switch decision {
	case DecisionCommitted:
		if onePhase {
			// The single participant already committed as part of
			// Prepare; nothing left to drive.
			t.state = StateCommitted
			t.bumpLastCommitTs(committs)
			t.drainSplitWork(ctx)
			return DecisionCommitted, nil
		}
		waitingts, err := t.auxcommit(ctx, parts, committs, wire.OutcomeCommit)
		if err != nil {
			return DecisionPrepareErr, t.abortOnIOError(err)
		}
		t.state = StateCommitted
		t.bumpLastCommitTs(committs)
		waitingts.Catchup()
		t.drainSplitWork(ctx)
		return DecisionCommitted, nil

	default:
		outcome := wire.OutcomeAbort
		if onePhase {
			outcome = wire.OutcomeAbortWithoutPrepare
		}
		if _, err := t.auxcommit(ctx, parts, gaia.IllegalTimestamp, outcome); err != nil {
			t.state = StateAbortedIOError
			return DecisionPrepareErr, err
		}
		t.state = StateAborted
		return decision, nil
	}
}

// Abort unconditionally aborts the transaction, notifying every
// participant touched so far (Commit with OutcomeAbort). Safe to call
// even if no participant has been touched yet.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.state != StateValid {
		return nil
	}
	parts := t.allParticipants()
	if len(parts) == 0 {
		t.state = StateAborted
		return nil
	}
	if _, err := t.auxcommit(ctx, parts, gaia.IllegalTimestamp, wire.OutcomeAbort); err != nil {
		t.state = StateAbortedIOError
		return err
	}
	t.state = StateAborted
	return nil
}

// touchesCacheableCoid reports whether any write in this transaction
// landed on a coid that could be sitting in another client's inner-node
// or consistent cache — such a write disqualifies the one-phase fast
// path, since a concurrent reader must not observe an uncommitted value
// without going through Prepare's visibility rules.
func (t *Transaction) touchesCacheableCoid() bool {
	for _, e := range t.txCache {
		if e.vb.IsSuperValue() && !e.vb.SV.IsLeaf() {
			return true
		}
	}
	return len(t.pendingOps) > 0
}

// auxprepare issues Prepare concurrently to every participant (§5's
// concurrency model: the fan-out itself is the one place a Transaction
// legitimately runs multiple goroutines at once, joined before any
// method resumes the caller's single-threaded view). It returns the
// chosen commit timestamp (max(mincommitts) + ε) and the decision code.
func (t *Transaction) auxprepare(ctx context.Context, parts map[string]rpc.ParticipantAdmin, onePhase bool) (gaia.Timestamp, Decision, error) {
	results := make([]prepareResult, 0, len(parts))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for server, p := range parts {
		server, p := server, p
		g.Go(func() error {
			req := &wire.PrepareRPC{
				Tid:            t.tid,
				StartTs:        t.startTs,
				OnePhaseCommit: onePhase,
				ReadSet:        t.readSet(),
			}
			if t.piggy != nil {
				req.Piggyback = []wire.PiggybackWrite{{Coid: t.piggy.coid, Bytes: t.piggy.bytes}}
			}
			err := p.Prepare(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results = append(results, prepareResult{server: server, err: err})
				return err
			}
			if req.Status != gaia.StatusOK {
				results = append(results, prepareResult{server: server, err: gaia.NewError(req.Status, nil)})
				return nil // wire-level success, application-level error: fold into decision below
			}
			results = append(results, prepareResult{server: server, vote: req.PreparedVote, mints: req.MinCommitTs})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return gaia.IllegalTimestamp, DecisionPrepareErr, err
	}

	anyAbort := false
	anyErr := false
	var maxMints gaia.Timestamp
	for _, r := range results {
		if r.err != nil {
			anyErr = true
			continue
		}
		if r.vote == wire.VoteAbort {
			anyAbort = true
			continue
		}
		maxMints = maxMints.Max(r.mints)
	}

	switch {
	case anyErr:
		return gaia.IllegalTimestamp, DecisionPrepareErr, nil
	case anyAbort:
		return gaia.IllegalTimestamp, DecisionVotedAbort, nil
	default:
		return maxMints.AddEpsilon(), DecisionCommitted, nil
	}
}

// auxcommit sends Commit to every participant with the given outcome,
// sleeping past committs first when committing (Timestamp.Catchup), and
// returns the largest waitingts any participant reports.
func (t *Transaction) auxcommit(ctx context.Context, parts map[string]rpc.ParticipantAdmin, committs gaia.Timestamp, outcome wire.Outcome) (gaia.Timestamp, error) {
	if outcome == wire.OutcomeCommit {
		committs.Catchup()
	}

	var waitingts gaia.Timestamp
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			req := &wire.CommitRPC{Tid: t.tid, CommitTs: committs, Outcome: outcome}
			if err := p.Commit(gctx, req); err != nil {
				return err
			}
			if req.Status != gaia.StatusOK {
				return gaia.NewError(req.Status, nil)
			}
			mu.Lock()
			waitingts = waitingts.Max(req.WaitingTs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return gaia.IllegalTimestamp, err
	}
	return waitingts, nil
}

// readSet reports every coid this transaction has read, for the
// optimistic-concurrency-control ReadSet Prepare accepts (§4.4's table).
// gaia/dtree's optimistic insert path is the first user: it seeks via
// the cache-only fast path without reading the real node, so it must
// still declare the node as read for OCC purposes.
func (t *Transaction) readSet() []gaia.Coid {
	set := make([]gaia.Coid, 0, len(t.txCache))
	for coid := range t.txCache {
		set = append(set, coid)
	}
	return set
}

// QueueSplit enqueues a split task on the transaction's work list
// (spec.md's "enqueue a split task on the transaction's work list"),
// drained only after a successful commit.
func (t *Transaction) QueueSplit(coid gaia.Coid, isLeaf bool) {
	t.splitq = append(t.splitq, splitWork{coid: coid, isLeaf: isLeaf})
}

// drainSplitWork runs the queued split tasks in order, each retried up
// to SplitClientMaxRetries times with a fixed 10ms backoff. A task that
// exhausts its retries is logged and skipped: a missed split is a
// performance problem (oversize nodes), never a correctness one, so it
// must never fail the commit that already succeeded.
func (t *Transaction) drainSplitWork(ctx context.Context) {
	if t.splitter == nil || len(t.splitq) == 0 {
		return
	}
	for _, w := range t.splitq {
		bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(splitRetryBackoff), SplitClientMaxRetries)
		err := backoff.Retry(func() error {
			return t.splitter.Split(ctx, w.coid, w.isLeaf)
		}, bo)
		if err != nil {
			t.log.Debugw("commit-time split dispatch exhausted retries", "coid", w.coid, "err", err)
		}
	}
	t.splitq = nil
}

// bumpLastCommitTs advances the process-shared lastCommitTs watermark
// used by Start's read-your-own-writes clamp (SPEC_FULL's
// STARTTS_MAX_STALE trick), never letting it go backwards.
func (t *Transaction) bumpLastCommitTs(committs gaia.Timestamp) {
	t.lastCommitTsMu.Lock()
	defer t.lastCommitTsMu.Unlock()
	*t.lastCommitTsPtr = t.lastCommitTsPtr.Max(committs)
}

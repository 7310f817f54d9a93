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

// Package throttle implements the per-coid splitter throttle and rowid
// allocator described in §4.6: three load signals drive an
// exponentially growing, self-expiring insert delay, and GetRowid mints
// fresh integers for ephemeral or persistent containers.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaiadb/gaia"
)

// Signal thresholds, per §4.6.
const (
	QueueDepthThreshold  = 50
	RetryTimeThreshold   = 500 * time.Millisecond
	OversizeFactor       = 2 // kicks in at 2x the split threshold
	MaxDelay             = 1024 * time.Millisecond
	minDelay             = 1 * time.Millisecond
	signalExpiry         = 5 * time.Second
)

type signalKind int

const (
	signalQueueDepth signalKind = iota
	signalRetryTime
	signalOversize
	numSignals
)

type signalState struct {
	delay     time.Duration
	expiresAt time.Time
}

// perCoid tracks the three signals for one coid plus the rate.Limiter
// that turns their combined delay into something callers Wait() on.
type perCoid struct {
	mu      sync.Mutex
	signals [numSignals]signalState
	limiter *rate.Limiter
}

func newPerCoid() *perCoid {
	return &perCoid{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// currentDelay returns the max delay across signals whose expiration is
// still in the future; must be called with pc.mu held.
func (pc *perCoid) currentDelay(now time.Time) time.Duration {
	var max time.Duration
	for _, s := range pc.signals {
		if s.expiresAt.After(now) && s.delay > max {
			max = s.delay
		}
	}
	return max
}

func (pc *perCoid) bump(kind signalKind, now time.Time) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	s := &pc.signals[kind]
	if s.delay == 0 || !s.expiresAt.After(now) {
		s.delay = minDelay
	} else {
		s.delay *= 2
		if s.delay > MaxDelay {
			s.delay = MaxDelay
		}
	}
	s.expiresAt = now.Add(signalExpiry)

	d := pc.currentDelay(now)
	if d <= 0 {
		pc.limiter.SetLimit(rate.Inf)
	} else {
		pc.limiter.SetLimit(rate.Every(d))
	}
}

// Throttle is the process-wide, per-coid throttle table (§5: "Multiple
// Transactions on the same process share ... the throttle tables").
type Throttle struct {
	mu    sync.Mutex
	coids map[gaia.Coid]*perCoid
}

// New builds an empty Throttle.
func New() *Throttle {
	return &Throttle{coids: make(map[gaia.Coid]*perCoid)}
}

func (t *Throttle) entry(coid gaia.Coid) *perCoid {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.coids[coid]
	if !ok {
		pc = newPerCoid()
		t.coids[coid] = pc
	}
	return pc
}

// ReportQueueDepth signals the current split-queue depth for coid;
// kicks in at >= QueueDepthThreshold.
func (t *Throttle) ReportQueueDepth(coid gaia.Coid, depth int) {
	if depth >= QueueDepthThreshold {
		t.entry(coid).bump(signalQueueDepth, time.Now())
	}
}

// ReportRetryTime signals how long the current split on coid has been
// retried; kicks in at >= RetryTimeThreshold.
func (t *Throttle) ReportRetryTime(coid gaia.Coid, elapsed time.Duration) {
	if elapsed >= RetryTimeThreshold {
		t.entry(coid).bump(signalRetryTime, time.Now())
	}
}

// ReportOversize signals that coid's node exceeds OversizeFactor times
// the split threshold, by cell count or by bytes.
func (t *Throttle) ReportOversize(coid gaia.Coid, ncells, splitNcells, sizeBytes, splitSizeBytes int) {
	if ncells >= OversizeFactor*splitNcells || sizeBytes >= OversizeFactor*splitSizeBytes {
		t.entry(coid).bump(signalOversize, time.Now())
	}
}

// Wait blocks until coid's current combined delay has elapsed, or ctx is
// done. Clients consult this before inserting (§4.6: "Delays are
// consulted by clients before inserting").
func (t *Throttle) Wait(ctx context.Context, coid gaia.Coid) error {
	pc := t.entry(coid)
	if err := pc.limiter.Wait(ctx); err != nil {
		return gaia.NewError(gaia.StatusServerTimeout, err)
	}
	return nil
}

// CurrentDelay reports coid's current combined delay without waiting on
// it, for diagnostics.
func (t *Throttle) CurrentDelay(coid gaia.Coid) time.Duration {
	pc := t.entry(coid)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.currentDelay(time.Now())
}

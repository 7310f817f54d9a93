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

package gaia

import (
	"fmt"
	"time"
)

// Timestamp is a 128-bit total order used for snapshot isolation: Millis is
// wall-clock milliseconds (loosely synchronized across servers, never
// assumed exact, per §1 Non-goals), and Logical disambiguates multiple
// timestamps minted within the same millisecond on the same process.
//
// Logical is intentionally process-local: two different clients can
// legally choose commit timestamps that tie at the Millis:Logical pair (see
// DESIGN.md's "addEpsilon global uniqueness" decision). Global
// disambiguation, where it matters, is the storage server's job.
type Timestamp struct {
	Millis  int64
	Logical uint64
}

// illegalMillis marks a Timestamp as setIllegal(): no ordering comparison
// against it is meaningful until it is replaced.
const illegalMillis = int64(-1)

// IllegalTimestamp is the sentinel used for a deferred StartTs before its
// first read, and for the commit timestamp of an aborted transaction.
var IllegalTimestamp = Timestamp{Millis: illegalMillis}

// NowTimestamp returns setNew(): the current wall-clock time as a
// Timestamp with a fresh (zero) logical component.
func NowTimestamp() Timestamp {
	return Timestamp{Millis: time.Now().UnixMilli()}
}

// SetOld returns setOld(deltaMs): a Timestamp deltaMs milliseconds in the
// past relative to now, used to pick a StartTs that tolerates staleness
// (§4.2 read path, MAX_DEFERRED_START_TS clamp).
func SetOld(deltaMs int64) Timestamp {
	return Timestamp{Millis: time.Now().UnixMilli() - deltaMs}
}

// IsIllegal reports whether ts is the setIllegal() sentinel.
func (ts Timestamp) IsIllegal() bool { return ts.Millis == illegalMillis }

// AddEpsilon returns the smallest Timestamp strictly greater than ts,
// bumping the logical counter rather than the wall-clock millisecond so
// the result never races ahead of real time.
func (ts Timestamp) AddEpsilon() Timestamp {
	return Timestamp{Millis: ts.Millis, Logical: ts.Logical + 1}
}

// Age returns how far in the past ts is relative to now, as a duration.
// Negative when ts is in the future.
func (ts Timestamp) Age() time.Duration {
	return time.Duration(time.Now().UnixMilli()-ts.Millis) * time.Millisecond
}

// Cmp orders two timestamps: Millis first, Logical breaks ties. Returns
// -1, 0, or 1 like bytes.Compare.
func (ts Timestamp) Cmp(other Timestamp) int {
	switch {
	case ts.Millis < other.Millis:
		return -1
	case ts.Millis > other.Millis:
		return 1
	case ts.Logical < other.Logical:
		return -1
	case ts.Logical > other.Logical:
		return 1
	default:
		return 0
	}
}

// Before reports whether ts orders strictly before other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.Cmp(other) < 0 }

// After reports whether ts orders strictly after other.
func (ts Timestamp) After(other Timestamp) bool { return ts.Cmp(other) > 0 }

// Max returns the later of ts and other.
func (ts Timestamp) Max(other Timestamp) Timestamp {
	if ts.After(other) {
		return ts
	}
	return other
}

// Catchup sleeps the calling goroutine until wall-clock time reaches ts,
// implementing the loose-clock read-after-write protection described in
// §7 ("a commit-time waitingts in the future induces a wall-clock sleep").
// No-op (returns immediately) if ts is already in the past or illegal.
func (ts Timestamp) Catchup() {
	if ts.IsIllegal() {
		return
	}
	if d := time.Until(time.UnixMilli(ts.Millis)); d > 0 {
		time.Sleep(d)
	}
}

func (ts Timestamp) String() string {
	if ts.IsIllegal() {
		return "illegal"
	}
	return fmt.Sprintf("%d.%d", ts.Millis, ts.Logical)
}

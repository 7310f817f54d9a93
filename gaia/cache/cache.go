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

// Package cache implements the two process-wide, best-effort caches
// described in §4.3: the global inner-node cache (shared by every
// Transaction on the process, inner nodes only) and the process-
// consistent read cache (opt-in via GAIA_CLIENT_CONSISTENT_CACHE).
// Correctness never depends on either cache; gaia/dtree's §4.5 upward
// repair is the authoritative path when a cache entry turns out stale.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
)

// InnerNodeCacheEnvVar names an environment variable for overriding
// DefaultInnerNodeCacheSize. Nothing in this module reads it.
const InnerNodeCacheEnvVar = "GAIA_INNER_NODE_CACHE_SIZE"

// ConsistentCacheEnvVar names an environment variable for enabling the
// process-consistent read cache (GAIA_CLIENT_CONSISTENT_CACHE in the
// original). Nothing in this module reads it; txn.Deps.ConsistentEnabled
// is what turns the cache on.
const ConsistentCacheEnvVar = "GAIA_CLIENT_CONSISTENT_CACHE"

// DefaultInnerNodeCacheSize bounds the number of cached inner nodes.
const DefaultInnerNodeCacheSize = 65536

// InnerNodeCache is the global, best-effort cache of inner-node
// Valbufs shared across every Transaction on a process (§4.3, §5
// "Multiple Transactions on the same process share ... the global
// inner-node cache"). Its refresh is monotone in readTs: refresh only
// ever replaces an entry with a value read at a later timestamp.
type InnerNodeCache struct {
	entries *lru.Cache[gaia.Coid, *valbuf.Valbuf]
}

// New builds an InnerNodeCache holding at most size entries.
func New(size int) *InnerNodeCache {
	if size <= 0 {
		size = DefaultInnerNodeCacheSize
	}
	c, err := lru.New[gaia.Coid, *valbuf.Valbuf](size)
	if err != nil {
		// Only non-positive sizes make lru.New fail, and size is already
		// clamped above.
		panic(err)
	}
	return &InnerNodeCache{entries: c}
}

// Lookup returns the cached Valbuf for coid, or nil if absent. The
// caller must treat the result as approximate (nodetype[i]=approximate
// in §4.5's traversal) — never as a substitute for the authoritative
// real-node path.
func (c *InnerNodeCache) Lookup(coid gaia.Coid) *valbuf.Valbuf {
	vb, ok := c.entries.Get(coid)
	if !ok {
		return nil
	}
	return vb
}

// Remove evicts coid, used on stale-cache recovery (§4.5: "evict the
// parent entry from the global cache").
func (c *InnerNodeCache) Remove(coid gaia.Coid) {
	c.entries.Remove(coid)
}

// Refresh installs vb for its coid if no cached entry exists, or if the
// cached entry's ReadTs is older than vb's — refresh is monotone in
// readTs, so a racing older read can never clobber a newer one.
func (c *InnerNodeCache) Refresh(vb *valbuf.Valbuf) {
	if !vb.IsSuperValue() || vb.SV.IsLeaf() {
		return
	}
	cur, ok := c.entries.Get(vb.Coid)
	if ok && !cur.ReadTs.Before(vb.ReadTs) {
		return
	}
	vb.MarkShared()
	c.entries.Add(vb.Coid, vb)
}

// ConsistentCache is the opt-in process-consistent read cache: unlike
// InnerNodeCache it may hold any coid (blob or supervalue) and is keyed
// by (coid, readTs) so multiple snapshots of the same object can coexist
// without one evicting the other's consistency guarantee.
type ConsistentCache struct {
	entries *arc.ARCCache[consistentKey, *valbuf.Valbuf]
}

type consistentKey struct {
	coid gaia.Coid
	ts   gaia.Timestamp
}

// NewConsistent builds a ConsistentCache holding at most size entries.
func NewConsistent(size int) *ConsistentCache {
	if size <= 0 {
		size = DefaultInnerNodeCacheSize
	}
	c, err := arc.NewARC[consistentKey, *valbuf.Valbuf](size)
	if err != nil {
		panic(err)
	}
	return &ConsistentCache{entries: c}
}

// Lookup returns the cached Valbuf read at exactly ts, if present.
func (c *ConsistentCache) Lookup(coid gaia.Coid, ts gaia.Timestamp) *valbuf.Valbuf {
	vb, ok := c.entries.Get(consistentKey{coid, ts})
	if !ok {
		return nil
	}
	return vb
}

// Insert records vb under its own (Coid, ReadTs).
func (c *ConsistentCache) Insert(vb *valbuf.Valbuf) {
	vb.MarkShared()
	c.entries.Add(consistentKey{vb.Coid, vb.ReadTs}, vb)
}

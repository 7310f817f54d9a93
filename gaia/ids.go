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

import "fmt"

// Cid identifies a container: either a DTree root or one of its sibling
// data containers. The tree root of a table/index and its per-row payload
// container are two different Cids related by DataCid.
type Cid uint64

// Oid identifies an object (a tree node) within a container. The tree root
// is always Oid 0. Non-root oids are minted by mintOid, which packs an
// issuer id, a counter, and a server-bias field so a node's owning server
// is locally computable without a round trip.
type Oid uint64

// Coid is the unit of read/write against the MVKVS: a (container, object)
// pair.
type Coid struct {
	Cid Cid
	Oid Oid
}

func (c Coid) String() string { return fmt.Sprintf("(%x,%x)", uint64(c.Cid), uint64(c.Oid)) }

// ephemeralCidBit marks a Cid as belonging to a local, non-durable
// container (gaia/txn's local transaction variant, §4.7). Code must refuse
// to send a Coid carrying this bit over the wire.
const ephemeralCidBit Cid = 1 << 63

// IsEphemeral reports whether cid names an in-process-only container.
func (c Cid) IsEphemeral() bool { return c&ephemeralCidBit != 0 }

// EphemeralCid mints an ephemeral cid from a small local handle, used by
// SQL temp tables and other transient indices that never touch a storage
// server.
func EphemeralCid(handle uint64) Cid { return Cid(handle) | ephemeralCidBit }

// dataCidBit distinguishes a tree root's Cid from its associated
// data-payload container: DataCid is a deterministic remapping of cid, not
// an independently allocated namespace.
const dataCidBit Cid = 1 << 62

// DataCid returns the data container that holds row payloads for the tree
// rooted at cid. DATA_CID(cid) in the spec.
func DataCid(cid Cid) Cid {
	if cid.IsEphemeral() {
		return cid | dataCidBit
	}
	return cid ^ dataCidBit
}

// mintOid packs (issuer, counter, serverBias) into a non-root Oid. issuer
// identifies the minting client/server, counter is a local monotonic
// sequence, and serverBias lets a reader compute the owning server from the
// oid alone without a directory lookup.
func mintOid(issuer uint16, counter uint32, serverBias uint16) Oid {
	return Oid(issuer)<<48 | Oid(counter)<<16 | Oid(serverBias)
}

// OidServerBias extracts the server-bias field minted into a non-root oid.
func OidServerBias(o Oid) uint16 { return uint16(o) }

// OidAllocator mints fresh non-root Oids for one node-creating client.
// gaia/dtree uses one to name new sibling nodes on split and new inner
// roots on root growth; issuer and serverBias are fixed at construction
// (mirroring TidAllocator's D1), counter increments per call.
type OidAllocator struct {
	issuer     uint16
	serverBias uint16
	counter    uint32
}

// NewOidAllocator builds an allocator that mints oids biased toward
// serverBias, stamped with issuer to disambiguate concurrent minters.
func NewOidAllocator(issuer, serverBias uint16) *OidAllocator {
	return &OidAllocator{issuer: issuer, serverBias: serverBias}
}

// Next mints a fresh non-root Oid. Not safe for concurrent use across
// goroutines without external synchronization.
func (a *OidAllocator) Next() Oid {
	a.counter++
	return mintOid(a.issuer, a.counter, a.serverBias)
}

// Tid is a 128-bit transaction id: D1 is the client's IP address XOR its
// process id, D2 is a process-local monotonic counter. D1 alone determines
// which server worker thread handles every RPC of this transaction
// (WorkerHash, TID_TO_RPCHASHID in the original).
type Tid struct {
	D1 uint32
	D2 uint64
}

// WorkerHash returns the value every RPC of this transaction is pinned to,
// so a single transaction's operations are always handled by the same
// server-side worker (§5 ordering guarantees).
func (t Tid) WorkerHash() uint32 { return t.D1 }

func (t Tid) String() string { return fmt.Sprintf("%08x:%016x", t.D1, t.D2) }

// IsZero reports whether t is the zero-value Tid (never a valid,
// minted transaction id).
func (t Tid) IsZero() bool { return t.D1 == 0 && t.D2 == 0 }

// TidAllocator mints fresh Tids for a process: D1 is fixed at process
// start (derived from the local IP and pid), D2 increments per transaction.
type TidAllocator struct {
	d1      uint32
	counter uint64
}

// NewTidAllocator builds an allocator whose D1 component is derived from
// ip (the client's local address, host byte order) xor pid.
func NewTidAllocator(ip uint32, pid int) *TidAllocator {
	return &TidAllocator{d1: ip ^ uint32(pid)}
}

// Next mints a fresh Tid. Not safe for concurrent use across goroutines
// without external synchronization, matching §5: "at most one thread may
// invoke [a Transaction's] methods at a time."
func (a *TidAllocator) Next() Tid {
	a.counter++
	return Tid{D1: a.d1, D2: a.counter}
}

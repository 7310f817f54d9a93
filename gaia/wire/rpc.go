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

package wire

import "github.com/gaiadb/gaia"

// Every RPC struct below carries both its request-side and response-side
// fields: the client populates the "in" fields before the call and the
// server fills in the "out" fields (Status and whatever else the table
// in §4.4 lists) before returning it. One struct per RPC keeps the Go
// shape close to how the original's single-buffer RPC marshalling
// treated a call.

// NullRPC is a bodiless liveness ping.
type NullRPC struct {
	Status gaia.Status
}

func (m *NullRPC) Marshal() []byte {
	w := &writer{}
	w.status(m.Status)
	return w.buf
}

func (m *NullRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Status = r.status()
	return r.err
}

// GetStatusRPC asks a server for coarse load/diagnostic counters about a
// container, supplementing the administrative surface the original
// exposes via its status RPC (not detailed in the core read/write path).
type GetStatusRPC struct {
	Cid gaia.Cid

	Status      gaia.Status
	NumObjects  uint64
	SplitQueueLen uint32
}

func (m *GetStatusRPC) Marshal() []byte {
	w := &writer{}
	w.cid(m.Cid)
	w.status(m.Status)
	w.u64(m.NumObjects)
	w.u32(m.SplitQueueLen)
	return w.buf
}

func (m *GetStatusRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Cid = r.cid()
	m.Status = r.status()
	m.NumObjects = r.u64()
	m.SplitQueueLen = r.u32()
	return r.err
}

// ReadRPC is the opaque-blob read call.
type ReadRPC struct {
	Tid      gaia.Tid
	StartTs  gaia.Timestamp
	Coid     gaia.Coid
	LenHint  int32

	Status     gaia.Status
	ReadTs     gaia.Timestamp
	Bytes      []byte
	CacheHints uint32
}

func (m *ReadRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.ts(m.StartTs)
	w.coid(m.Coid)
	w.i64(int64(m.LenHint))
	w.status(m.Status)
	w.ts(m.ReadTs)
	w.bytes(m.Bytes)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *ReadRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.StartTs = r.ts()
	m.Coid = r.coid()
	m.LenHint = int32(r.i64())
	m.Status = r.status()
	m.ReadTs = r.ts()
	m.Bytes = r.bytes()
	m.CacheHints = r.u32()
	return r.err
}

// WriteRPC is the opaque-blob write call.
type WriteRPC struct {
	Tid   gaia.Tid
	Coid  gaia.Coid
	Level int32
	Bytes []byte

	Status     gaia.Status
	CacheHints uint32
}

func (m *WriteRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.coid(m.Coid)
	w.i64(int64(m.Level))
	w.bytes(m.Bytes)
	w.status(m.Status)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *WriteRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Coid = r.coid()
	m.Level = int32(r.i64())
	m.Bytes = r.bytes()
	m.Status = r.status()
	m.CacheHints = r.u32()
	return r.err
}

// CellWire is the RPC-surface encoding of a valbuf.Cell: fixed-width,
// unlike the node payload's varint-packed cell format, since RPC calls
// carry at most one or two cells rather than an entire node's worth.
type CellWire struct {
	NKey  int64
	PKey  []byte
	Value gaia.Oid
}

func (w *writer) cell(c CellWire) {
	w.i64(c.NKey)
	w.bytes(c.PKey)
	w.oid(c.Value)
}

func (r *reader) cell() CellWire {
	return CellWire{NKey: r.i64(), PKey: r.bytes(), Value: r.oid()}
}

// FullReadRPC is the supervalue read call; cell/prki narrow the read to
// split-statistics purposes per §4.4.
type FullReadRPC struct {
	Tid     gaia.Tid
	StartTs gaia.Timestamp
	Coid    gaia.Coid
	HasCell bool
	Cell    CellWire
	Prki    []byte

	Status     gaia.Status
	ReadTs     gaia.Timestamp
	NodePayload []byte // MarshalNode/UnmarshalNode output
	CacheHints  uint32
}

func (m *FullReadRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.ts(m.StartTs)
	w.coid(m.Coid)
	w.bo(m.HasCell)
	w.cell(m.Cell)
	w.bytes(m.Prki)
	w.status(m.Status)
	w.ts(m.ReadTs)
	w.bytes(m.NodePayload)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *FullReadRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.StartTs = r.ts()
	m.Coid = r.coid()
	m.HasCell = r.bo()
	m.Cell = r.cell()
	m.Prki = r.bytes()
	m.Status = r.status()
	m.ReadTs = r.ts()
	m.NodePayload = r.bytes()
	m.CacheHints = r.u32()
	return r.err
}

// FullWriteRPC is the supervalue overwrite call.
type FullWriteRPC struct {
	Tid         gaia.Tid
	Coid        gaia.Coid
	Level       int32
	NodePayload []byte

	Status     gaia.Status
	CacheHints uint32
}

func (m *FullWriteRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.coid(m.Coid)
	w.i64(int64(m.Level))
	w.bytes(m.NodePayload)
	w.status(m.Status)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *FullWriteRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Coid = r.coid()
	m.Level = int32(r.i64())
	m.NodePayload = r.bytes()
	m.Status = r.status()
	m.CacheHints = r.u32()
	return r.err
}

// ListAdd in-range-check flag (§4.5 step 2, "flag=in-range-check").
const ListAddFlagInRangeCheck uint32 = 1 << 0

// ListAddRPC appends or replaces one cell.
type ListAddRPC struct {
	Tid     gaia.Tid
	Coid    gaia.Coid
	Level   int32
	Flags   uint32
	StartTs gaia.Timestamp
	Cell    CellWire
	Prki    []byte

	Status     gaia.Status
	SplitNcells int32
	SplitSize   int64
	CacheHints  uint32
}

func (m *ListAddRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.coid(m.Coid)
	w.i64(int64(m.Level))
	w.u32(m.Flags)
	w.ts(m.StartTs)
	w.cell(m.Cell)
	w.bytes(m.Prki)
	w.status(m.Status)
	w.i64(int64(m.SplitNcells))
	w.i64(m.SplitSize)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *ListAddRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Coid = r.coid()
	m.Level = int32(r.i64())
	m.Flags = r.u32()
	m.StartTs = r.ts()
	m.Cell = r.cell()
	m.Prki = r.bytes()
	m.Status = r.status()
	m.SplitNcells = int32(r.i64())
	m.SplitSize = r.i64()
	m.CacheHints = r.u32()
	return r.err
}

// ListDelRangeRPC deletes an interval of cells; Interval is §4.2.1's
// 0..8 bound-pair encoding.
type ListDelRangeRPC struct {
	Tid      gaia.Tid
	Coid     gaia.Coid
	Level    int32
	Interval uint8
	Cell1    CellWire
	Cell2    CellWire
	Prki     []byte

	Status     gaia.Status
	CacheHints uint32
}

func (m *ListDelRangeRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.coid(m.Coid)
	w.i64(int64(m.Level))
	w.u8(m.Interval)
	w.cell(m.Cell1)
	w.cell(m.Cell2)
	w.bytes(m.Prki)
	w.status(m.Status)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *ListDelRangeRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Coid = r.coid()
	m.Level = int32(r.i64())
	m.Interval = r.u8()
	m.Cell1 = r.cell()
	m.Cell2 = r.cell()
	m.Prki = r.bytes()
	m.Status = r.status()
	m.CacheHints = r.u32()
	return r.err
}

// AttrSetRPC sets one fixed attribute slot.
type AttrSetRPC struct {
	Tid       gaia.Tid
	Coid      gaia.Coid
	Level     int32
	AttrID    int32
	AttrValue uint64

	Status gaia.Status
}

func (m *AttrSetRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.coid(m.Coid)
	w.i64(int64(m.Level))
	w.i64(int64(m.AttrID))
	w.u64(m.AttrValue)
	w.status(m.Status)
	return w.buf
}

func (m *AttrSetRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Coid = r.coid()
	m.Level = int32(r.i64())
	m.AttrID = int32(r.i64())
	m.AttrValue = r.u64()
	m.Status = r.status()
	return r.err
}

// PiggybackWrite is one coid+bytes pair piggy-backed onto a Prepare
// call, per §4.4 ("piggy(coid+bytes)?").
type PiggybackWrite struct {
	Coid  gaia.Coid
	Bytes []byte
}

// Vote is the Prepare call's outcome.
type Vote int32

const (
	VoteCommit Vote = iota
	VoteAbort
)

// PrepareRPC is the first phase of 2PC (with a one-phase fast path when
// OnePhaseCommit is set, per §4.2's 2PC driver).
type PrepareRPC struct {
	Tid            gaia.Tid
	StartTs        gaia.Timestamp
	OnePhaseCommit bool
	Piggyback      []PiggybackWrite
	ReadSet        []gaia.Coid

	Status      gaia.Status
	PreparedVote Vote
	MinCommitTs gaia.Timestamp
	CacheHints  uint32
}

func (m *PrepareRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.ts(m.StartTs)
	w.bo(m.OnePhaseCommit)
	w.u32(uint32(len(m.Piggyback)))
	for _, p := range m.Piggyback {
		w.coid(p.Coid)
		w.bytes(p.Bytes)
	}
	w.u32(uint32(len(m.ReadSet)))
	for _, c := range m.ReadSet {
		w.coid(c)
	}
	w.status(m.Status)
	w.i64(int64(m.PreparedVote))
	w.ts(m.MinCommitTs)
	w.u32(m.CacheHints)
	return w.buf
}

func (m *PrepareRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.StartTs = r.ts()
	m.OnePhaseCommit = r.bo()
	n := int(r.u32())
	m.Piggyback = make([]PiggybackWrite, n)
	for i := range m.Piggyback {
		m.Piggyback[i] = PiggybackWrite{Coid: r.coid(), Bytes: r.bytes()}
	}
	n = int(r.u32())
	m.ReadSet = make([]gaia.Coid, n)
	for i := range m.ReadSet {
		m.ReadSet[i] = r.coid()
	}
	m.Status = r.status()
	m.PreparedVote = Vote(r.i64())
	m.MinCommitTs = r.ts()
	m.CacheHints = r.u32()
	return r.err
}

// Outcome is the Commit call's disposition.
type Outcome int32

const (
	OutcomeCommit Outcome = iota
	OutcomeAbort
	OutcomeAbortWithoutPrepare
)

// CommitRPC is the second phase of 2PC.
type CommitRPC struct {
	Tid      gaia.Tid
	CommitTs gaia.Timestamp
	Outcome  Outcome

	Status    gaia.Status
	WaitingTs gaia.Timestamp
}

func (m *CommitRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.ts(m.CommitTs)
	w.i64(int64(m.Outcome))
	w.status(m.Status)
	w.ts(m.WaitingTs)
	return w.buf
}

func (m *CommitRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.CommitTs = r.ts()
	m.Outcome = Outcome(r.i64())
	m.Status = r.status()
	m.WaitingTs = r.ts()
	return r.err
}

// SubTransAction is SubTransRPC's requested action.
type SubTransAction int32

const (
	SubTransDiscard SubTransAction = iota
	SubTransMergeDown
)

// SubTransRPC propagates abortSubtrans/releaseSubtrans to a participant.
type SubTransRPC struct {
	Tid    gaia.Tid
	Level  int32
	Action SubTransAction

	Status gaia.Status
}

func (m *SubTransRPC) Marshal() []byte {
	w := &writer{}
	w.tid(m.Tid)
	w.i64(int64(m.Level))
	w.i64(int64(m.Action))
	w.status(m.Status)
	return w.buf
}

func (m *SubTransRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Tid = r.tid()
	m.Level = int32(r.i64())
	m.Action = SubTransAction(r.i64())
	m.Status = r.status()
	return r.err
}

// ShutdownRPC requests graceful (Drain) or immediate server shutdown.
type ShutdownRPC struct {
	Drain bool

	Status gaia.Status
}

func (m *ShutdownRPC) Marshal() []byte {
	w := &writer{}
	w.bo(m.Drain)
	w.status(m.Status)
	return w.buf
}

func (m *ShutdownRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Drain = r.bo()
	m.Status = r.status()
	return r.err
}

// FlushFileRPC checkpoints a container's log to durable storage at Path.
type FlushFileRPC struct {
	Cid  gaia.Cid
	Path string

	Status gaia.Status
}

func (m *FlushFileRPC) Marshal() []byte {
	w := &writer{}
	w.cid(m.Cid)
	w.str(m.Path)
	w.status(m.Status)
	return w.buf
}

func (m *FlushFileRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Cid = r.cid()
	m.Path = r.str()
	m.Status = r.status()
	return r.err
}

// LoadFileRPC restores a container from a previously flushed file.
type LoadFileRPC struct {
	Cid  gaia.Cid
	Path string

	Status gaia.Status
}

func (m *LoadFileRPC) Marshal() []byte {
	w := &writer{}
	w.cid(m.Cid)
	w.str(m.Path)
	w.status(m.Status)
	return w.buf
}

func (m *LoadFileRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Cid = r.cid()
	m.Path = r.str()
	m.Status = r.status()
	return r.err
}

// SplitnodeRPC asks the splitter service to split an over-size node
// (§4.6); IsLeaf lets the splitter pick the right fence-key arithmetic
// without re-reading the node first.
type SplitnodeRPC struct {
	Coid   gaia.Coid
	IsLeaf bool

	Status    gaia.Status
	NewCoid   gaia.Coid
	SplitKey  CellWire
}

func (m *SplitnodeRPC) Marshal() []byte {
	w := &writer{}
	w.coid(m.Coid)
	w.bo(m.IsLeaf)
	w.status(m.Status)
	w.coid(m.NewCoid)
	w.cell(m.SplitKey)
	return w.buf
}

func (m *SplitnodeRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Coid = r.coid()
	m.IsLeaf = r.bo()
	m.Status = r.status()
	m.NewCoid = r.coid()
	m.SplitKey = r.cell()
	return r.err
}

// GetRowidRPC allocates a fresh integer rowid for a persistent container
// (§4.6); Hint seeds the counter on first use.
type GetRowidRPC struct {
	Cid  gaia.Cid
	Hint int64

	Status gaia.Status
	Rowid  int64
}

func (m *GetRowidRPC) Marshal() []byte {
	w := &writer{}
	w.cid(m.Cid)
	w.i64(m.Hint)
	w.status(m.Status)
	w.i64(m.Rowid)
	return w.buf
}

func (m *GetRowidRPC) Unmarshal(b []byte) error {
	r := newReader(b)
	m.Cid = r.cid()
	m.Hint = r.i64()
	m.Status = r.status()
	m.Rowid = r.i64()
	return r.err
}

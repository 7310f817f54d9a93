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

// Package dtree implements the cursor engine (§4.5): a distributed
// B-tree layered over gaia/txn's transaction object. A Cursor binds one
// (Transaction, root cid, keyinfo) and drives Seek/First/Last/Next/Prev/
// Insert/Delete by walking a stack of cached-or-real node reads, falling
// back to authoritative reads whenever the cache turns out to be stale.
package dtree

import (
	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/throttle"
	"github.com/gaiadb/gaia/txn"
	"github.com/gaiadb/gaia/valbuf"
)

// MaxLevels bounds the node stack's depth (DTREE_MAX_LEVELS).
const MaxLevels = 32

// State is the cursor's lifecycle state (§4.5).
type State int

const (
	StateInvalid State = iota
	StateValid
	StateDirect
	StateRequireSeek
	StateFault
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateValid:
		return "valid"
	case StateDirect:
		return "direct"
	case StateRequireSeek:
		return "requireseek"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Result is the outcome of a positioning operation (Seek/First/Last).
type Result int

const (
	ResultMatch Result = iota
	ResultBefore
	ResultAfter
	ResultEmpty
)

// slot is one level of the cursor's node stack: node[i], nodetype[i],
// nodeIndex[i] in spec terms.
type slot struct {
	coid  gaia.Coid
	vb    *valbuf.Valbuf // always a SuperValue
	real  bool           // nodetype[i] == real (vs. approximate/cached)
	index int            // nodeIndex[i], in [0, Ncells]
}

func (s *slot) sv() *valbuf.SuperValue { return s.vb.SV }

// Cursor is the DTree cursor engine. Not safe for concurrent use (it
// shares its Transaction's single-threaded-access contract, §5).
type Cursor struct {
	tx      *txn.Transaction
	rootCid gaia.Cid
	intKey  bool
	ki      valbuf.KeyInfo

	// directSeek enables the step-2 direct-seek fast path; only ever true
	// for intkey tables (composite-key tables have no DATA_CID(key) row
	// shortcut, since the key itself is the only thing identifying a row).
	directSeek bool

	state State

	stack     []slot
	levelLeaf int

	directIntKey int64

	// REQUIRESEEK save/restore boundary.
	saveNKey int64
	savePKey []byte

	faultErr error

	oids     *gaia.OidAllocator
	throttle *throttle.Throttle
}

// New builds a cursor over the tree rooted at rootCid. ki is the
// collating KeyInfo for composite-key tables; pass nil for intkey
// tables. oids mints new node oids for Insert's root-growth path and for
// Splitter; pass nil for a read-only cursor that will never split or
// grow the root.
func New(tx *txn.Transaction, rootCid gaia.Cid, intKey bool, ki valbuf.KeyInfo, oids *gaia.OidAllocator) *Cursor {
	return &Cursor{
		tx:         tx,
		rootCid:    rootCid,
		intKey:     intKey,
		ki:         ki,
		directSeek: intKey,
		state:      StateInvalid,
		oids:       oids,
	}
}

// WithThrottle attaches the process-wide split throttle (§4.6): Insert
// consults it before every attempt so a hot, still-unsplit node backs
// off inserters instead of growing unbounded. Returns c for chaining.
func (c *Cursor) WithThrottle(th *throttle.Throttle) *Cursor {
	c.throttle = th
	return c
}

// State reports the cursor's current lifecycle state.
func (c *Cursor) State() State { return c.state }

// FaultErr reports the error that tripped a FAULT cursor, or nil.
func (c *Cursor) FaultErr() error { return c.faultErr }

// Cell returns the cell the cursor currently sits on; valid only when
// State() == StateValid.
func (c *Cursor) Cell() valbuf.Cell {
	top := &c.stack[c.levelLeaf]
	return top.sv().Cells[top.index]
}

// DirectIntKey returns the rowid a StateDirect cursor is positioned on.
func (c *Cursor) DirectIntKey() int64 { return c.directIntKey }

func (c *Cursor) root() gaia.Coid { return gaia.Coid{Cid: c.rootCid, Oid: 0} }

func (c *Cursor) fault(err error) error {
	c.state = StateFault
	c.faultErr = err
	return err
}

func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.levelLeaf = 0
}

func (c *Cursor) pushApprox(coid gaia.Coid, vb *valbuf.Valbuf, index int) {
	c.stack = append(c.stack, slot{coid: coid, vb: vb, real: false, index: index})
}

func (c *Cursor) pushReal(coid gaia.Coid, vb *valbuf.Valbuf, index int) {
	c.stack = append(c.stack, slot{coid: coid, vb: vb, real: true, index: index})
}

// key wraps a seek target as a Cell for valbuf.SearchCell/CompareCells.
func (c *Cursor) key(nKey int64, pKey []byte) valbuf.Cell {
	return valbuf.Cell{NKey: nKey, PKey: pKey}
}

func (c *Cursor) cmpKeyToCell(nKey int64, pKey []byte, cell valbuf.Cell) int {
	return valbuf.CompareCells(c.key(nKey, pKey), cell, c.ki)
}

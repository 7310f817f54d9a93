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

// Package rpc defines the storage-server-facing contract a Transaction
// drives (§4.4): one method per RPC kind, all asynchronous underneath.
// The wire transport itself (request/reply framing, retries) is an
// external collaborator (§1 Non-goals); Participant is the seam gaia/txn
// programs against, and gaia/rpc/fake is the in-process implementation
// used by the local transaction variant and by tests.
package rpc

import (
	"context"

	"github.com/gaiadb/gaia/wire"
)

// Participant is the set of calls a Transaction may issue against the
// server owning a given coid (or, for Prepare/Commit/SubTrans, against
// every server touched by the transaction). Every method may block the
// calling goroutine until the response arrives or ctx is done — ctx's
// deadline is how a configured RPC timeout becomes a StatusServerTimeout
// (§5 "Suspension points").
type Participant interface {
	Read(ctx context.Context, req *wire.ReadRPC) error
	Write(ctx context.Context, req *wire.WriteRPC) error
	FullRead(ctx context.Context, req *wire.FullReadRPC) error
	FullWrite(ctx context.Context, req *wire.FullWriteRPC) error
	ListAdd(ctx context.Context, req *wire.ListAddRPC) error
	ListDelRange(ctx context.Context, req *wire.ListDelRangeRPC) error
	AttrSet(ctx context.Context, req *wire.AttrSetRPC) error
	Prepare(ctx context.Context, req *wire.PrepareRPC) error
	Commit(ctx context.Context, req *wire.CommitRPC) error
	SubTrans(ctx context.Context, req *wire.SubTransRPC) error
}

// Admin is the maintenance-surface counterpart to Participant: liveness,
// diagnostics, checkpointing, splitting, and rowid allocation. Kept
// separate from Participant because most callers (gaia/txn, gaia/dtree)
// never need it — only gaia/throttle's rowid allocator and
// cmd/dtreeinspect do.
type Admin interface {
	Null(ctx context.Context, req *wire.NullRPC) error
	GetStatus(ctx context.Context, req *wire.GetStatusRPC) error
	Shutdown(ctx context.Context, req *wire.ShutdownRPC) error
	FlushFile(ctx context.Context, req *wire.FlushFileRPC) error
	LoadFile(ctx context.Context, req *wire.LoadFileRPC) error
	Splitnode(ctx context.Context, req *wire.SplitnodeRPC) error
	GetRowid(ctx context.Context, req *wire.GetRowidRPC) error
}

// Dialer resolves a server address (from gaia/config) to a live
// Participant+Admin, hiding whatever real transport a deployment uses
// (gRPC, raw TCP, ...) behind the one seam this module cares about.
type Dialer interface {
	Dial(ctx context.Context, server string) (ParticipantAdmin, error)
}

// ParticipantAdmin is the full surface a dialed connection exposes.
type ParticipantAdmin interface {
	Participant
	Admin
}

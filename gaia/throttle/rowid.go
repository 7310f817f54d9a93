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

package throttle

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/rpc"
	"github.com/gaiadb/gaia/wire"
)

// RowidAllocator mints fresh integer rowids per §4.6: a process-local
// monotonic counter for ephemeral containers, or a round trip to the
// single server owning (cid, oid=0) for persistent ones.
type RowidAllocator struct {
	admin rpc.Admin

	mu       sync.Mutex
	counters map[gaia.Cid]int64
}

// NewRowidAllocator builds an allocator. admin may be nil if the caller
// only ever allocates rowids for ephemeral containers.
func NewRowidAllocator(admin rpc.Admin) *RowidAllocator {
	return &RowidAllocator{admin: admin, counters: make(map[gaia.Cid]int64)}
}

// GetRowid returns a fresh rowid for cid. hint seeds the local counter
// on its first use for cid; it is ignored for persistent containers
// once the server has minted at least one rowid for cid, and ignored
// entirely on every call beyond the first for a given cid.
func (a *RowidAllocator) GetRowid(ctx context.Context, cid gaia.Cid, hint int64) (int64, error) {
	if cid.IsEphemeral() {
		return a.local(cid, hint), nil
	}
	return a.remote(ctx, cid, hint)
}

func (a *RowidAllocator) local(cid gaia.Cid, hint int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.counters[cid]
	if !ok {
		cur = hint
	}
	cur++
	a.counters[cid] = cur
	return cur
}

func (a *RowidAllocator) remote(ctx context.Context, cid gaia.Cid, hint int64) (int64, error) {
	if a.admin == nil {
		return 0, gaia.NewError(gaia.StatusNotImplemented, nil)
	}

	var rowid int64
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		req := &wire.GetRowidRPC{Cid: cid, Hint: hint}
		if err := a.admin.GetRowid(ctx, req); err != nil {
			return err
		}
		if req.Status != gaia.StatusOK {
			if req.Status == gaia.StatusServerTimeout {
				return gaia.NewError(req.Status, nil) // retryable
			}
			return backoff.Permanent(gaia.NewError(req.Status, nil))
		}
		rowid = req.Rowid
		return nil
	}, bo)
	if err != nil {
		return 0, err
	}
	return rowid, nil
}

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

package dtree

import (
	"context"

	"github.com/gaiadb/gaia"
)

// Next advances the cursor to the next cell in key order (§4.5
// "Next/Prev"). Requires a VALID cursor; returns ResultEmpty (with the
// cursor left at StateInvalid) when there is no next cell.
func (c *Cursor) Next(ctx context.Context) (Result, error) { return c.step(ctx, true) }

// Prev moves the cursor to the previous cell in key order.
func (c *Cursor) Prev(ctx context.Context) (Result, error) { return c.step(ctx, false) }

func (c *Cursor) step(ctx context.Context, forward bool) (Result, error) {
	if c.state != StateValid {
		return 0, gaia.Errorf(gaia.StatusGeneric, "dtree: Next/Prev requires a VALID cursor")
	}
	leaf := &c.stack[c.levelLeaf]
	sv := leaf.sv()
	if forward {
		leaf.index++
	} else {
		leaf.index--
	}
	if leaf.index >= 0 && leaf.index < sv.Ncells() {
		return ResultMatch, nil
	}

	sibOid := sv.RightPtr()
	if !forward {
		sibOid = sv.LeftPtr()
	}
	if sibOid == 0 {
		c.state = StateInvalid
		return ResultEmpty, nil
	}

	sibCoid := gaia.Coid{Cid: c.rootCid, Oid: sibOid}
	vb, err := c.readReal(ctx, sibCoid)
	if err != nil {
		return 0, err
	}
	sibSv := vb.SV
	index := 0
	if !forward {
		index = sibSv.Ncells() - 1
	}
	c.stack[c.levelLeaf] = slot{coid: sibCoid, vb: vb, real: true, index: index}
	if sibSv.Ncells() == 0 {
		c.state = StateInvalid
		return ResultEmpty, nil
	}
	return ResultMatch, nil
}

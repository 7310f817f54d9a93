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

import "github.com/c2h5oh/datasize"

// SplitSizeCells is DTREE_SPLIT_SIZE: a node whose cell count exceeds
// this is queued for splitting at commit time.
const SplitSizeCells = 128

// SplitSizeBytes is DTREE_SPLIT_SIZE_BYTES: a node whose CellsSize
// exceeds this is queued for splitting at commit time, independent of
// cell count (wide composite keys can blow the size budget well before
// the cell-count budget).
var SplitSizeBytes = 8 * datasize.KB

// overSplitThreshold reports whether ncells/size already exceed the
// split trigger.
func overSplitThreshold(ncells int, size int64) bool {
	return ncells > SplitSizeCells || size > int64(SplitSizeBytes.Bytes())
}

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

package valbuf

// SearchCell binary-searches sv's cells for key under ki (ignored for
// intkey nodes), per §4.5.1. It returns the insertion index in
// [0, Ncells] and whether the slot at that index (when matches) already
// holds an equal key.
//
// biasRight starts the probe at the top of the range instead of the
// middle: both dtree's optimistic-insert fast path and pendingop replay
// hit monotonically increasing keys far more often than not, so biasing
// toward the tail turns most searches into O(1) instead of O(log n).
func SearchCell(sv *SuperValue, key Cell, biasRight bool, ki KeyInfo) (index int, matches bool) {
	lo, hi := 0, len(sv.Cells)
	if hi == 0 {
		return 0, false
	}
	if biasRight {
		cmp := CompareCells(key, sv.Cells[hi-1], ki)
		if cmp > 0 {
			return hi, false
		}
		if cmp == 0 {
			return hi - 1, true
		}
	}
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		cmp := CompareCells(sv.Cells[mid], key, ki)
		switch {
		case cmp < 0:
			lo = mid + 1
		case cmp > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

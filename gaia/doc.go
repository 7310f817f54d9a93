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

// Package gaia holds the identifiers shared by every layer of the DTree
// stack: container/object ids, transaction ids, the 128-bit timestamp used
// for snapshot isolation, and the fixed status-code taxonomy that every RPC
// and cursor operation reports through.
package gaia

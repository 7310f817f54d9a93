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

import (
	"encoding/binary"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/valbuf"
)

// KeyInfoCodec marshals and unmarshals the packed-record collation
// descriptor carried after a composite-key node's cells (§6). The actual
// collation library is an external collaborator (§1 Non-goals); callers
// supply a codec for whatever KeyInfo implementation they use. RawKeyInfo
// below is the module's own fallback when none is supplied.
type KeyInfoCodec interface {
	MarshalKeyInfo(ki valbuf.KeyInfo) []byte
	UnmarshalKeyInfo(data []byte) (valbuf.KeyInfo, error)
}

// RawKeyInfo is the built-in KeyInfo fallback: it compares packed keys
// byte-for-byte (no per-column collation or sort direction), and
// round-trips through the wire as an opaque byte blob. Used when the
// caller has no real collation library wired in.
type RawKeyInfo []byte

func (r RawKeyInfo) Compare(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

type rawKeyInfoCodec struct{}

func (rawKeyInfoCodec) MarshalKeyInfo(ki valbuf.KeyInfo) []byte {
	if r, ok := ki.(RawKeyInfo); ok {
		return append([]byte(nil), r...)
	}
	return nil
}

func (rawKeyInfoCodec) UnmarshalKeyInfo(data []byte) (valbuf.KeyInfo, error) {
	return RawKeyInfo(append([]byte(nil), data...)), nil
}

// DefaultKeyInfoCodec is RawKeyInfo's codec, used when MarshalNode is
// called without an explicit KeyInfoCodec.
var DefaultKeyInfoCodec KeyInfoCodec = rawKeyInfoCodec{}

// MarshalNode encodes sv per §6's node wire format: nattrs, celltype,
// ncelloids, lencelloids, the fixed attrs, the cell list, and (for
// composite-key nodes) the trailing serialized prki.
func MarshalNode(sv *valbuf.SuperValue, codec KeyInfoCodec) []byte {
	if codec == nil {
		codec = DefaultKeyInfoCodec
	}

	cellBytes := marshalCells(sv)

	buf := make([]byte, 0, 2+1+4+4+8*sv.Nattrs+len(cellBytes)+16)
	buf = appendU16(buf, uint16(sv.Nattrs))
	buf = append(buf, byte(sv.CellType))
	buf = appendU32(buf, uint32(len(sv.Cells)))
	buf = appendU32(buf, uint32(len(cellBytes)))
	for i := 0; i < sv.Nattrs; i++ {
		buf = appendU64(buf, sv.Attrs[i])
	}
	buf = append(buf, cellBytes...)

	if sv.CellType == valbuf.CellTypePacked {
		ki := codec.MarshalKeyInfo(sv.Prki)
		buf = appendU32(buf, uint32(len(ki)))
		buf = append(buf, ki...)
	}
	return buf
}

func marshalCells(sv *valbuf.SuperValue) []byte {
	var buf []byte
	for _, c := range sv.Cells {
		nkey := c.NKey
		if sv.CellType == valbuf.CellTypePacked {
			nkey = int64(len(c.PKey))
		}
		buf = PutVarint(buf, nkey)
		if sv.CellType == valbuf.CellTypePacked {
			buf = append(buf, c.PKey...)
		}
		buf = appendU64LE(buf, uint64(c.Value))
	}
	return buf
}

// UnmarshalNode decodes a node payload produced by MarshalNode.
func UnmarshalNode(data []byte, codec KeyInfoCodec) (*valbuf.SuperValue, error) {
	if codec == nil {
		codec = DefaultKeyInfoCodec
	}
	if len(data) < 10 {
		return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: node payload too short (%d bytes)", len(data))
	}
	nattrs := int(binary.BigEndian.Uint16(data[0:2]))
	celltype := valbuf.CellType(data[2])
	ncells := int(binary.BigEndian.Uint32(data[3:7]))
	lencelloids := int(binary.BigEndian.Uint32(data[7:11]))

	if nattrs > valbuf.MaxAttrs {
		return nil, gaia.Errorf(gaia.StatusAttrOutOfRange, "wire: nattrs %d exceeds MaxAttrs", nattrs)
	}

	off := 11
	sv := &valbuf.SuperValue{Nattrs: nattrs, CellType: celltype}
	for i := 0; i < nattrs; i++ {
		if off+8 > len(data) {
			return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated attrs")
		}
		sv.Attrs[i] = binary.BigEndian.Uint64(data[off : off+8])
		off += 8
	}

	cellEnd := off + lencelloids
	if cellEnd > len(data) {
		return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated cell payload")
	}
	cellData := data[off:cellEnd]
	off = cellEnd

	sv.Cells = make([]valbuf.Cell, ncells)
	cpos := 0
	for i := 0; i < ncells; i++ {
		nkey, n := Varint(cellData[cpos:])
		if n == 0 {
			return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated cell varint")
		}
		cpos += n
		var pkey []byte
		if celltype == valbuf.CellTypePacked {
			if cpos+int(nkey) > len(cellData) {
				return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated pkey")
			}
			pkey = append([]byte(nil), cellData[cpos:cpos+int(nkey)]...)
			cpos += int(nkey)
			nkey = 0
		}
		if cpos+8 > len(cellData) {
			return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated child oid")
		}
		value := gaia.Oid(binary.LittleEndian.Uint64(cellData[cpos : cpos+8]))
		cpos += 8
		sv.Cells[i] = valbuf.Cell{NKey: nkey, PKey: pkey, Value: value}
	}
	sv.RecomputeCellsSize()

	if celltype == valbuf.CellTypePacked {
		if off+4 > len(data) {
			return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated prki length")
		}
		kiLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+kiLen > len(data) {
			return nil, gaia.Errorf(gaia.StatusCorruptedLog, "wire: truncated prki")
		}
		ki, err := codec.UnmarshalKeyInfo(data[off : off+kiLen])
		if err != nil {
			return nil, err
		}
		sv.Prki = ki
	}
	return sv, nil
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// appendU64LE encodes child oids little-endian, per §6's explicit
// "child_oid: u64 little-endian" (the one field called out as deviating
// from the rest of the node header's big-endian layout).
func appendU64LE(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

package hash

import (
	"encoding/binary"

	"kiln/disk/structures"
)

// Codec serializes fixed size keys and values into bucket page slots. Encoded forms must be
// exactly Size bytes long.
type Codec[T any] interface {
	Size() int
	Encode(dest []byte, t T)
	Decode(src []byte) T
	Equal(a, b T) bool
}

type Int64Codec struct{}

var _ Codec[int64] = Int64Codec{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(dest []byte, v int64) {
	binary.BigEndian.PutUint64(dest, uint64(v))
}

func (Int64Codec) Decode(src []byte) int64 {
	return int64(binary.BigEndian.Uint64(src))
}

func (Int64Codec) Equal(a, b int64) bool { return a == b }

// RidCodec lets the table be used as a secondary index mapping keys to row identifiers.
type RidCodec struct{}

var _ Codec[structures.Rid] = RidCodec{}

func (RidCodec) Size() int { return 10 }

func (RidCodec) Encode(dest []byte, rid structures.Rid) {
	binary.BigEndian.PutUint64(dest, rid.PageId)
	binary.BigEndian.PutUint16(dest[8:], rid.SlotIdx)
}

func (RidCodec) Decode(src []byte) structures.Rid {
	return structures.Rid{
		PageId:  binary.BigEndian.Uint64(src),
		SlotIdx: binary.BigEndian.Uint16(src[8:]),
	}
}

func (RidCodec) Equal(a, b structures.Rid) bool { return a == b }

package entry

import (
	"encoding/binary"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
)

// EpsilonSmeared is the 16-byte smeared format. One logical entry is represented as
// 1..16 physical rows sharing the (84-bit hash, format-B reverse move, level, result)
// key prefix; row i carries a 2-bit slice of count-1 and a 12-bit slice of |eloDiff|
// at position i. The second key word is laid out as
//
//	[63:44] low hash bits  [43:24] reverse move  [23:22] level  [21:20] result
//	[19:16] row index      [15] Elo sign         [14:13] count slice
//	[12:1]  |Elo| slice    [0] unused
//
// The row index participates in the ordering, so the rows of one logical entry are
// contiguous and in slice order in any sorted row stream. The sign bit is only set on
// row 0. Count 0 encodes 1, which is what lets a 2-bit-per-row code cover the full
// 32-bit range within 16 rows.
type EpsilonSmeared struct{}

const (
	smearedCountBits = 2
	smearedEloBits   = 12
	smearedMaxRows   = 16

	smearedHashMask = ^uint64(0) << 44 // 20 low hash bits kept in the key word
)

func (EpsilonSmeared) Name() string                     { return "db_epsilon_smeared_a" }
func (EpsilonSmeared) RowSize() int                     { return 16 }
func (EpsilonSmeared) RequiresMatchingEndianness() bool { return true }
func (EpsilonSmeared) NullReverseMove() uint32          { return codec.NullReverseMoveB }

func (EpsilonSmeared) MaskHash(k board.ZobristKey) board.ZobristKey {
	return board.ZobristKey{Hi: k.Hi, Lo: k.Lo & smearedHashMask}
}

func (EpsilonSmeared) PackReverseMove(pos *board.Position, rm codec.ReverseMove) uint32 {
	return codec.PackReverseMoveB(pos, rm)
}

func (EpsilonSmeared) UnpackReverseMove(pos *board.Position, bits uint32) (codec.ReverseMove, bool) {
	return codec.UnpackReverseMoveB(pos, bits)
}

// keyPrefix packs the row bits shared by all rows of one logical entry.
func (EpsilonSmeared) keyPrefix(e Entry) uint64 {
	return e.Hash.Lo&smearedHashMask | uint64(e.RM)<<24 | uint64(e.Level)<<22 | uint64(e.Result)<<20
}

func (f EpsilonSmeared) AppendEntry(dst []byte, e Entry) []byte {
	prefix := f.keyPrefix(e)

	count := e.Count
	if count > 1<<32 {
		count = 1 << 32
	}
	count-- // 0 encodes 1
	elo := e.EloDiff
	sign := uint64(0)
	if elo < 0 {
		sign = 1
		elo = -elo
	}

	for i := 0; i < smearedMaxRows; i++ {
		countSlice := uint64(count) >> (smearedCountBits * i) & (1<<smearedCountBits - 1)
		eloSlice := uint64(elo) >> (smearedEloBits * i) & (1<<smearedEloBits - 1)

		w1 := prefix | uint64(i)<<16 | countSlice<<13 | eloSlice<<1
		if i == 0 {
			w1 |= sign << 15
		}

		var row [16]byte
		binary.BigEndian.PutUint64(row[0:], e.Hash.Hi)
		binary.BigEndian.PutUint64(row[8:], w1)
		dst = append(dst, row[:]...)

		if uint64(count)>>(smearedCountBits*(i+1)) == 0 && uint64(elo)>>(smearedEloBits*(i+1)) == 0 {
			break
		}
	}
	return dst
}

func (f EpsilonSmeared) DecodeEntry(src []byte) (Entry, int) {
	w0 := binary.BigEndian.Uint64(src[0:])
	w1 := binary.BigEndian.Uint64(src[8:])

	e := Entry{
		Hash:   board.ZobristKey{Hi: w0, Lo: w1 & smearedHashMask},
		RM:     uint32(w1 >> 24 & (1<<20 - 1)),
		Level:  Level(w1 >> 22 & 0x3),
		Result: board.Result(w1 >> 20 & 0x3),
	}
	prefix := f.keyPrefix(e)
	negative := w1>>15&0x1 != 0

	var count, elo uint64
	n := 0
	for {
		idx := int(w1 >> 16 & 0xf)
		count |= w1 >> 13 & (1<<smearedCountBits - 1) << (smearedCountBits * idx)
		elo |= w1 >> 1 & (1<<smearedEloBits - 1) << (smearedEloBits * idx)
		n += 16

		if n >= len(src) {
			break
		}
		nw0 := binary.BigEndian.Uint64(src[n:])
		nw1 := binary.BigEndian.Uint64(src[n+8:])
		if nw0 != w0 || nw1&(smearedHashMask|0xfffff<<24|0xf<<20) != prefix || nw1>>16&0xf == 0 {
			break
		}
		w1 = nw1
	}

	e.Count = count + 1
	e.EloDiff = int64(elo)
	if negative {
		e.EloDiff = -e.EloDiff
	}
	return e, n
}

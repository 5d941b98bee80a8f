package entry

import (
	"encoding/binary"
	"fmt"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
)

// Format is an on-disk entry format. A format fixes the row size, the reverse-move
// packing, the hash width retained in the key and which aggregate fields are stored.
//
// Encoded rows are big-endian with the key words first, so that byte-lexicographic
// order equals LessFull order over the rows of a file.
type Format interface {
	// Name is the database key, e.g. "db_beta".
	Name() string
	// RowSize is the fixed physical row size in bytes.
	RowSize() int
	// RequiresMatchingEndianness reports whether the manifest must carry and verify
	// an endianness signature for this format.
	RequiresMatchingEndianness() bool

	// MaskHash truncates a zobrist key to the hash bits retained by the format.
	MaskHash(k board.ZobristKey) board.ZobristKey
	// PackReverseMove packs the retraction context. pos is the position after the move.
	PackReverseMove(pos *board.Position, rm codec.ReverseMove) uint32
	// UnpackReverseMove is the inverse of PackReverseMove. Returns false for the null
	// reverse move.
	UnpackReverseMove(pos *board.Position, bits uint32) (codec.ReverseMove, bool)
	// NullReverseMove is the "no retraction" sentinel.
	NullReverseMove() uint32

	// AppendEntry appends the row(s) of one logical entry.
	AppendEntry(dst []byte, e Entry) []byte
	// DecodeEntry decodes one logical entry from the start of src, returning the
	// number of bytes consumed. src must hold complete rows.
	DecodeEntry(src []byte) (Entry, int)
}

// Formats lists all supported formats.
var Formats = []Format{Beta{}, Delta{}, Epsilon{}, EpsilonSmeared{}}

// ByName resolves a database key to its format.
func ByName(name string) (Format, error) {
	for _, f := range Formats {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown database key %q", name)
}

// keyWord packs the shared portion of the second key word for the wide-hash formats:
// 32 low hash bits, a 27-bit format-A reverse move, level and result. The low bit is
// unused.
func keyWord(hashLo32 uint64, rm uint32, level Level, result board.Result) uint64 {
	return hashLo32<<32 | uint64(rm)<<5 | uint64(level)<<3 | uint64(result)<<1
}

// Beta is the 24-byte format: 96-bit hash, format-A reverse move, 32-bit count and
// 32-bit Elo diff. No game references.
type Beta struct{}

func (Beta) Name() string                     { return "db_beta" }
func (Beta) RowSize() int                     { return 24 }
func (Beta) RequiresMatchingEndianness() bool { return false }
func (Beta) NullReverseMove() uint32          { return codec.NullReverseMoveA }

func (Beta) MaskHash(k board.ZobristKey) board.ZobristKey {
	return board.ZobristKey{Hi: k.Hi, Lo: k.Lo &^ 0xffffffff}
}

func (Beta) PackReverseMove(pos *board.Position, rm codec.ReverseMove) uint32 {
	return codec.PackReverseMoveA(pos, rm)
}

func (Beta) UnpackReverseMove(pos *board.Position, bits uint32) (codec.ReverseMove, bool) {
	return codec.UnpackReverseMoveA(pos, bits)
}

func (f Beta) AppendEntry(dst []byte, e Entry) []byte {
	var row [24]byte
	binary.BigEndian.PutUint64(row[0:], e.Hash.Hi)
	binary.BigEndian.PutUint64(row[8:], keyWord(e.Hash.Lo>>32, e.RM, e.Level, e.Result))
	binary.BigEndian.PutUint32(row[16:], saturate32(e.Count))
	binary.BigEndian.PutUint32(row[20:], uint32(int32(clampElo(e.EloDiff))))
	return append(dst, row[:]...)
}

func (f Beta) DecodeEntry(src []byte) (Entry, int) {
	w0 := binary.BigEndian.Uint64(src[0:])
	w1 := binary.BigEndian.Uint64(src[8:])
	return Entry{
		Hash:    board.ZobristKey{Hi: w0, Lo: w1 >> 32 << 32},
		RM:      uint32(w1 >> 5 & (1<<27 - 1)),
		Level:   Level(w1 >> 3 & 0x3),
		Result:  board.Result(w1 >> 1 & 0x3),
		Count:   uint64(binary.BigEndian.Uint32(src[16:])),
		EloDiff: int64(int32(binary.BigEndian.Uint32(src[20:]))),
	}, 24
}

// Delta is the 32-byte format: everything Beta stores, plus first and last game
// references. Requires matching endianness per the manifest contract.
type Delta struct{}

func (Delta) Name() string                     { return "db_delta" }
func (Delta) RowSize() int                     { return 32 }
func (Delta) RequiresMatchingEndianness() bool { return true }
func (Delta) NullReverseMove() uint32          { return codec.NullReverseMoveA }

func (Delta) MaskHash(k board.ZobristKey) board.ZobristKey {
	return board.ZobristKey{Hi: k.Hi, Lo: k.Lo &^ 0xffffffff}
}

func (Delta) PackReverseMove(pos *board.Position, rm codec.ReverseMove) uint32 {
	return codec.PackReverseMoveA(pos, rm)
}

func (Delta) UnpackReverseMove(pos *board.Position, bits uint32) (codec.ReverseMove, bool) {
	return codec.UnpackReverseMoveA(pos, bits)
}

func (f Delta) AppendEntry(dst []byte, e Entry) []byte {
	var row [32]byte
	binary.BigEndian.PutUint64(row[0:], e.Hash.Hi)
	binary.BigEndian.PutUint64(row[8:], keyWord(e.Hash.Lo>>32, e.RM, e.Level, e.Result))
	binary.BigEndian.PutUint32(row[16:], saturate32(e.Count))
	binary.BigEndian.PutUint32(row[20:], uint32(int32(clampElo(e.EloDiff))))
	binary.BigEndian.PutUint32(row[24:], e.First)
	binary.BigEndian.PutUint32(row[28:], e.Last)
	return append(dst, row[:]...)
}

func (f Delta) DecodeEntry(src []byte) (Entry, int) {
	w0 := binary.BigEndian.Uint64(src[0:])
	w1 := binary.BigEndian.Uint64(src[8:])
	return Entry{
		Hash:    board.ZobristKey{Hi: w0, Lo: w1 >> 32 << 32},
		RM:      uint32(w1 >> 5 & (1<<27 - 1)),
		Level:   Level(w1 >> 3 & 0x3),
		Result:  board.Result(w1 >> 1 & 0x3),
		Count:   uint64(binary.BigEndian.Uint32(src[16:])),
		EloDiff: int64(int32(binary.BigEndian.Uint32(src[20:]))),
		First:   binary.BigEndian.Uint32(src[24:]),
		Last:    binary.BigEndian.Uint32(src[28:]),
	}, 32
}

// Epsilon is the dense 16-byte format: 96-bit hash, format-B reverse move and an
// in-key count. The count is stored minus one (0 encodes 1) and saturates at 256;
// no Elo diff and no game references. Requires matching endianness.
type Epsilon struct{}

func (Epsilon) Name() string                     { return "db_epsilon" }
func (Epsilon) RowSize() int                     { return 16 }
func (Epsilon) RequiresMatchingEndianness() bool { return true }
func (Epsilon) NullReverseMove() uint32          { return codec.NullReverseMoveB }

func (Epsilon) MaskHash(k board.ZobristKey) board.ZobristKey {
	return board.ZobristKey{Hi: k.Hi, Lo: k.Lo &^ 0xffffffff}
}

func (Epsilon) PackReverseMove(pos *board.Position, rm codec.ReverseMove) uint32 {
	return codec.PackReverseMoveB(pos, rm)
}

func (Epsilon) UnpackReverseMove(pos *board.Position, bits uint32) (codec.ReverseMove, bool) {
	return codec.UnpackReverseMoveB(pos, bits)
}

func (f Epsilon) AppendEntry(dst []byte, e Entry) []byte {
	count := e.Count
	if count > 256 {
		count = 256
	}

	var row [16]byte
	binary.BigEndian.PutUint64(row[0:], e.Hash.Hi)
	w1 := e.Hash.Lo>>32<<32 | uint64(e.RM)<<12 | uint64(e.Level)<<10 | uint64(e.Result)<<8 | (count - 1)
	binary.BigEndian.PutUint64(row[8:], w1)
	return append(dst, row[:]...)
}

func (f Epsilon) DecodeEntry(src []byte) (Entry, int) {
	w0 := binary.BigEndian.Uint64(src[0:])
	w1 := binary.BigEndian.Uint64(src[8:])
	return Entry{
		Hash:   board.ZobristKey{Hi: w0, Lo: w1 >> 32 << 32},
		RM:     uint32(w1 >> 12 & (1<<20 - 1)),
		Level:  Level(w1 >> 10 & 0x3),
		Result: board.Result(w1 >> 8 & 0x3),
		Count:  w1&0xff + 1,
	}, 16
}

func saturate32(v uint64) uint32 {
	if v > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(v)
}

func clampElo(v int64) int64 {
	const limit = 1<<31 - 1
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Package entry defines the fixed-size index records of the position database, their
// comparators and their on-disk formats.
//
// One logical entry summarizes the statistics of a single (position, reverse move,
// level, result) tuple. On disk an entry is one or more fixed-size rows, depending on
// the format; rows are big-endian and laid out so that byte-lexicographic order equals
// entry order.
package entry

import (
	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
)

// Level is the level of play a game was recorded at. 2 bits.
type Level uint8

const (
	Human Level = iota
	Engine
	Server

	NumLevels = 3
)

func (l Level) String() string {
	switch l {
	case Human:
		return "human"
	case Engine:
		return "engine"
	case Server:
		return "server"
	default:
		return "?"
	}
}

// ParseLevel parses a level name.
func ParseLevel(str string) (Level, bool) {
	switch str {
	case "human":
		return Human, true
	case "engine":
		return Engine, true
	case "server":
		return Server, true
	default:
		return 0, false
	}
}

// Entry is one logical index record. The hash is pre-masked to the width retained by
// the database format, so that in-memory order equals on-disk order.
type Entry struct {
	Hash    board.ZobristKey
	RM      uint32 // packed reverse move, format-specific width
	Level   Level
	Result  board.Result
	Count   uint64
	EloDiff int64
	First   uint32 // smallest game index
	Last    uint32 // largest game index
}

// New creates an entry for a single occurrence of a position.
func New(f Format, after *board.Position, rm *codec.ReverseMove, level Level, result board.Result, eloDiff int64, gameIdx uint32) Entry {
	bits := f.NullReverseMove()
	if rm != nil {
		bits = f.PackReverseMove(after, *rm)
	}
	return Entry{
		Hash:    f.MaskHash(after.Zobrist()),
		RM:      bits,
		Level:   level,
		Result:  result,
		Count:   1,
		EloDiff: eloDiff,
		First:   gameIdx,
		Last:    gameIdx,
	}
}

// Combine merges two entries sharing the full key: counts add, Elo diffs add,
// first-game is the minimum, last-game the maximum.
func Combine(a, b Entry) Entry {
	ret := a
	ret.Count += b.Count
	ret.EloDiff += b.EloDiff
	if b.First < ret.First {
		ret.First = b.First
	}
	if b.Last > ret.Last {
		ret.Last = b.Last
	}
	return ret
}

// Less is a strict weak ordering over entries. The merge and search algorithms are
// generic over the comparator kind.
type Less func(a, b Entry) bool

// LessWithoutReverseMove compares the (masked) hash portion only.
func LessWithoutReverseMove(a, b Entry) bool {
	return a.Hash.Less(b.Hash)
}

// EqualWithoutReverseMove reports hash equality.
func EqualWithoutReverseMove(a, b Entry) bool {
	return a.Hash == b.Hash
}

// LessWithReverseMove compares the hash, then the packed reverse move.
func LessWithReverseMove(a, b Entry) bool {
	if a.Hash != b.Hash {
		return a.Hash.Less(b.Hash)
	}
	return a.RM < b.RM
}

// EqualWithReverseMove reports hash and reverse-move equality.
func EqualWithReverseMove(a, b Entry) bool {
	return a.Hash == b.Hash && a.RM == b.RM
}

// LessFull compares the hash, reverse move, level and result.
func LessFull(a, b Entry) bool {
	if a.Hash != b.Hash {
		return a.Hash.Less(b.Hash)
	}
	if a.RM != b.RM {
		return a.RM < b.RM
	}
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	return a.Result < b.Result
}

// EqualFull reports equality of the full key.
func EqualFull(a, b Entry) bool {
	return a.Hash == b.Hash && a.RM == b.RM && a.Level == b.Level && a.Result == b.Result
}

// SortAndCombine sorts the entries under LessFull and merges adjacent equal-keyed
// entries in place, returning the shortened slice.
func SortAndCombine(entries []Entry) []Entry {
	sortEntries(entries)

	out := 0
	for i := 0; i < len(entries); {
		acc := entries[i]
		for i++; i < len(entries) && EqualFull(acc, entries[i]); i++ {
			acc = Combine(acc, entries[i])
		}
		entries[out] = acc
		out++
	}
	return entries[:out]
}

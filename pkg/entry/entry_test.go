package entry

import (
	"math/rand"
	"testing"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomEntry(r *rand.Rand, f Format) Entry {
	rmBits := uint32(27)
	if f.NullReverseMove() == codec.NullReverseMoveB {
		rmBits = 20
	}
	e := Entry{
		Hash:    f.MaskHash(board.ZobristKey{Hi: r.Uint64(), Lo: r.Uint64()}),
		RM:      r.Uint32() % (1<<rmBits - 1),
		Level:   Level(r.Intn(NumLevels)),
		Result:  board.Result(r.Intn(4)),
		Count:   uint64(r.Intn(200)) + 1,
		EloDiff: int64(r.Intn(1600)) - 800,
		First:   r.Uint32() / 2,
	}
	e.Last = e.First + r.Uint32()%1000
	return e
}

func TestComparators(t *testing.T) {
	a := Entry{Hash: board.ZobristKey{Hi: 1, Lo: 2 << 32}, RM: 3, Level: Human, Result: board.Draw}

	same := a
	same.Count = 42
	assert.True(t, EqualFull(a, same))
	assert.False(t, LessFull(a, same))
	assert.False(t, LessFull(same, a))

	rm := a
	rm.RM = 4
	assert.True(t, EqualWithoutReverseMove(a, rm))
	assert.False(t, EqualWithReverseMove(a, rm))
	assert.True(t, LessWithReverseMove(a, rm))
	assert.True(t, LessFull(a, rm))
	assert.False(t, LessWithoutReverseMove(a, rm))

	lvl := a
	lvl.Level = Server
	assert.True(t, EqualWithReverseMove(a, lvl))
	assert.False(t, EqualFull(a, lvl))
	assert.True(t, LessFull(a, lvl))

	hash := a
	hash.Hash.Hi = 2
	assert.True(t, LessWithoutReverseMove(a, hash))
	assert.True(t, LessWithReverseMove(a, hash))
	assert.True(t, LessFull(a, hash))
}

func TestCombine(t *testing.T) {
	a := Entry{Count: 3, EloDiff: 100, First: 10, Last: 20}
	b := Entry{Count: 2, EloDiff: -250, First: 5, Last: 15}

	c := Combine(a, b)
	assert.Equal(t, uint64(5), c.Count)
	assert.Equal(t, int64(-150), c.EloDiff)
	assert.Equal(t, uint32(5), c.First)
	assert.Equal(t, uint32(20), c.Last)
}

func TestSortAndCombine(t *testing.T) {
	key := board.ZobristKey{Hi: 7, Lo: 1 << 40}
	entries := []Entry{
		{Hash: key, RM: 2, Count: 1, First: 3, Last: 3},
		{Hash: key, RM: 1, Count: 1, First: 2, Last: 2},
		{Hash: key, RM: 2, Count: 1, First: 1, Last: 1},
	}

	out := SortAndCombine(entries)
	require.Len(t, out, 2)
	assert.Equal(t, uint32(1), out[0].RM)
	assert.Equal(t, uint32(2), out[1].RM)
	assert.Equal(t, uint64(2), out[1].Count)
	assert.Equal(t, uint32(1), out[1].First)
	assert.Equal(t, uint32(3), out[1].Last)
}

func TestSortAndCombinePartitionInvariance(t *testing.T) {
	// Merging a stream in any partitioning yields the same multiset.
	r := rand.New(rand.NewSource(21))

	var all []Entry
	for i := 0; i < 500; i++ {
		e := randomEntry(r, Beta{})
		e.Hash.Hi %= 16 // force collisions
		e.Hash.Lo = 0
		e.RM %= 4
		all = append(all, e)
	}

	whole := SortAndCombine(append([]Entry{}, all...))

	half1 := SortAndCombine(append([]Entry{}, all[:250]...))
	half2 := SortAndCombine(append([]Entry{}, all[250:]...))
	again := SortAndCombine(append(append([]Entry{}, half1...), half2...))

	assert.Equal(t, whole, again)
}

func TestFormatRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(22))

	for _, f := range Formats {
		for i := 0; i < 200; i++ {
			e := randomEntry(r, f)
			if f.Name() == "db_epsilon" {
				e.EloDiff, e.First, e.Last = 0, 0, 0
			}
			if f.Name() == "db_beta" {
				e.First, e.Last = 0, 0
			}
			if f.Name() == "db_epsilon_smeared_a" {
				e.First, e.Last = 0, 0
			}

			buf := f.AppendEntry(nil, e)
			assert.Zero(t, len(buf)%f.RowSize(), "%v: partial row", f.Name())

			decoded, n := f.DecodeEntry(buf)
			assert.Equal(t, len(buf), n, "%v: consumed", f.Name())
			assert.Equal(t, e, decoded, "%v: roundtrip", f.Name())
		}
	}
}

func TestEpsilonCountSaturates(t *testing.T) {
	f := Epsilon{}
	e := Entry{Hash: board.ZobristKey{Hi: 1}, Count: 100000}

	decoded, _ := f.DecodeEntry(f.AppendEntry(nil, e))
	assert.Equal(t, uint64(256), decoded.Count)
}

func TestSmearedWideEntry(t *testing.T) {
	f := EpsilonSmeared{}

	e := Entry{
		Hash:    f.MaskHash(board.ZobristKey{Hi: 0x1234, Lo: 0xfedcba9876543210}),
		RM:      12345,
		Level:   Server,
		Result:  board.WhiteWins,
		Count:   1<<32 - 1,
		EloDiff: 800,
	}

	buf := f.AppendEntry(nil, e)
	assert.Equal(t, 16*16, len(buf)) // count needs all sixteen rows

	decoded, n := f.DecodeEntry(buf)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, e, decoded)

	// Re-encoding is stable.
	assert.Equal(t, buf, f.AppendEntry(nil, decoded))
}

func TestSmearedNegativeElo(t *testing.T) {
	f := EpsilonSmeared{}

	e := Entry{
		Hash:    f.MaskHash(board.ZobristKey{Hi: 9, Lo: 1 << 63}),
		RM:      7,
		Count:   2,
		EloDiff: -5000,
	}

	decoded, _ := f.DecodeEntry(f.AppendEntry(nil, e))
	assert.Equal(t, e, decoded)
}

func TestSmearedSingleRow(t *testing.T) {
	f := EpsilonSmeared{}

	e := Entry{Hash: board.ZobristKey{Hi: 1}, Count: 4, EloDiff: 100}
	buf := f.AppendEntry(nil, e)
	assert.Equal(t, 16, len(buf))

	decoded, n := f.DecodeEntry(buf)
	assert.Equal(t, 16, n)
	assert.Equal(t, e, decoded)
}

func TestSmearedStreamDecoding(t *testing.T) {
	// Back-to-back logical entries with different keys decode independently.
	f := EpsilonSmeared{}

	a := Entry{Hash: board.ZobristKey{Hi: 1}, RM: 1, Count: 1000, EloDiff: 8000}
	b := Entry{Hash: board.ZobristKey{Hi: 1}, RM: 2, Count: 1}

	buf := f.AppendEntry(nil, a)
	buf = f.AppendEntry(buf, b)

	decodedA, n := f.DecodeEntry(buf)
	assert.Equal(t, a, decodedA)
	decodedB, m := f.DecodeEntry(buf[n:])
	assert.Equal(t, b, decodedB)
	assert.Equal(t, len(buf), n+m)
}

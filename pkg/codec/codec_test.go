package codec

import (
	"math/rand"
	"testing"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/board/fen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walk plays random legal moves and invokes fn with each (prev, move, next) triple.
func walk(t *testing.T, r *rand.Rand, plies int, fn func(prev *board.Position, m board.Move, next *board.Position)) {
	t.Helper()

	pos := board.Initial()
	for i := 0; i < plies; i++ {
		moves := pos.LegalMoves()
		if len(moves) == 0 {
			return
		}
		m := moves[r.Intn(len(moves))]
		next, ok := pos.Apply(m)
		require.True(t, ok)

		fn(pos, m, next)
		pos = next
	}
}

func TestLongMoveRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(2))

	for game := 0; game < 20; game++ {
		walk(t, r, 80, func(prev *board.Position, m board.Move, next *board.Position) {
			bits := LongMoveBits(m)
			decoded := MoveFromLongBits(prev, bits)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestMoveIndexRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for game := 0; game < 20; game++ {
		walk(t, r, 80, func(prev *board.Position, m board.Move, next *board.Position) {
			idx, ok := MoveToIndex(prev, m)
			require.True(t, ok)

			decoded, ok := MoveFromIndex(prev, idx)
			require.True(t, ok)
			assert.Equal(t, m, decoded)

			assert.False(t, RequiresLongMoveIndex(prev))
		})
	}
}

func TestReverseMoveRoundtripA(t *testing.T) {
	r := rand.New(rand.NewSource(4))

	for game := 0; game < 25; game++ {
		walk(t, r, 100, func(prev *board.Position, m board.Move, next *board.Position) {
			rm := NewReverseMove(prev, m)

			bits := PackReverseMoveA(next, rm)
			assert.Less(t, bits, uint32(1)<<reverseMoveBitsA)

			decoded, ok := UnpackReverseMoveA(next, bits)
			require.True(t, ok)
			assert.Equal(t, rm, decoded, "move %v in %v", m, prev)
		})
	}
}

func TestReverseMoveRoundtripB(t *testing.T) {
	r := rand.New(rand.NewSource(5))

	for game := 0; game < 25; game++ {
		walk(t, r, 100, func(prev *board.Position, m board.Move, next *board.Position) {
			rm := NewReverseMove(prev, m)

			bits := PackReverseMoveB(next, rm)
			assert.Less(t, bits, uint32(1)<<reverseMoveBitsB)

			decoded, ok := UnpackReverseMoveB(next, bits)
			require.True(t, ok)
			assert.Equal(t, rm, decoded, "move %v in %v", m, prev)
		})
	}
}

func TestReverseMovePromotions(t *testing.T) {
	// White pawn on b7 can promote by push to b8 or capture to a8/c8.
	pos, _, _, err := fen.Decode("r1r1k3/1P6/8/8/8/8/8/4K3 w - - 0 1")
	require.NoError(t, err)

	promos := 0
	for _, m := range pos.LegalMoves() {
		if !m.Type.IsPromotion() {
			continue
		}
		promos++

		next, ok := pos.Apply(m)
		require.True(t, ok)
		rm := NewReverseMove(pos, m)

		decodedA, ok := UnpackReverseMoveA(next, PackReverseMoveA(next, rm))
		require.True(t, ok)
		assert.Equal(t, rm, decodedA)

		decodedB, ok := UnpackReverseMoveB(next, PackReverseMoveB(next, rm))
		require.True(t, ok)
		assert.Equal(t, rm, decodedB)
	}
	assert.Equal(t, 12, promos)
}

func TestReverseMoveEnPassant(t *testing.T) {
	pos, _, _, err := fen.Decode("4k3/8/8/8/4Pp2/8/8/4K3 b - e3 0 1")
	require.NoError(t, err)

	m, ok := pos.FindLegalMove(board.Move{From: board.F4, To: board.E3})
	require.True(t, ok)
	require.Equal(t, board.EnPassant, m.Type)

	next, ok := pos.Apply(m)
	require.True(t, ok)
	rm := NewReverseMove(pos, m)
	assert.True(t, rm.HadEP)
	assert.Equal(t, board.FileE, rm.OldEPFile)

	decodedA, ok := UnpackReverseMoveA(next, PackReverseMoveA(next, rm))
	require.True(t, ok)
	assert.Equal(t, rm, decodedA)

	decodedB, ok := UnpackReverseMoveB(next, PackReverseMoveB(next, rm))
	require.True(t, ok)
	assert.Equal(t, rm, decodedB)
}

func TestNullReverseMove(t *testing.T) {
	pos := board.Initial()

	_, ok := UnpackReverseMoveA(pos, NullReverseMoveA)
	assert.False(t, ok)
	_, ok = UnpackReverseMoveB(pos, NullReverseMoveB)
	assert.False(t, ok)
}

package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialPosition(t *testing.T) {
	pos := Initial()

	assert.Equal(t, White, pos.SideToMove())
	assert.Equal(t, FullCastlingRights, pos.Castling())
	assert.Equal(t, 32, pos.Occupied().PopCount())

	c, piece, ok := pos.PieceAt(E1)
	require.True(t, ok)
	assert.Equal(t, White, c)
	assert.Equal(t, King, piece)

	_, ok = pos.EnPassant()
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	pos := Initial()

	next, ok := pos.Apply(Move{Type: Jump, Piece: Pawn, From: E2, To: E4})
	require.True(t, ok)

	ep, ok := next.EnPassant()
	require.True(t, ok)
	assert.Equal(t, E3, ep)
	assert.Equal(t, Black, next.SideToMove())
	assert.True(t, next.IsEmpty(E2))

	c, piece, ok := next.PieceAt(E4)
	require.True(t, ok)
	assert.Equal(t, White, c)
	assert.Equal(t, Pawn, piece)

	// The original is unchanged.
	assert.True(t, pos.IsEmpty(E4))
	assert.Equal(t, White, pos.SideToMove())
}

func TestApplyCastle(t *testing.T) {
	pos := Initial()
	moves := []Move{
		{Type: Jump, Piece: Pawn, From: E2, To: E4},
		{Type: Jump, Piece: Pawn, From: E7, To: E5},
		{Type: Normal, Piece: Knight, From: G1, To: F3},
		{Type: Normal, Piece: Knight, From: B8, To: C6},
		{Type: Normal, Piece: Bishop, From: F1, To: C4},
		{Type: Normal, Piece: Bishop, From: F8, To: C5},
	}
	for _, m := range moves {
		next, ok := pos.Apply(m)
		require.True(t, ok, "move %v", m)
		pos = next
	}

	next, ok := pos.Apply(Move{Type: KingSideCastle, Piece: King, From: E1, To: G1})
	require.True(t, ok)

	_, piece, _ := next.PieceAt(G1)
	assert.Equal(t, King, piece)
	_, piece, _ = next.PieceAt(F1)
	assert.Equal(t, Rook, piece)
	assert.True(t, next.IsEmpty(H1))
	assert.True(t, next.IsEmpty(E1))
	assert.False(t, next.Castling().IsAllowed(WhiteKingSideCastle))
	assert.False(t, next.Castling().IsAllowed(WhiteQueenSideCastle))
	assert.True(t, next.Castling().IsAllowed(BlackKingSideCastle))
}

func TestApplyIllegal(t *testing.T) {
	// Moving a pinned piece is rejected.
	pieces := []Placement{
		{E1, White, King},
		{E2, White, Rook},
		{E8, Black, King},
		{E7, Black, Queen},
	}
	pos, err := NewPosition(pieces, White, NoCastlingRights, 0)
	require.NoError(t, err)

	_, ok := pos.Apply(Move{Type: Normal, Piece: Rook, From: E2, To: A2})
	assert.False(t, ok)

	_, ok = pos.Apply(Move{Type: Normal, Piece: Rook, From: E2, To: E5})
	assert.True(t, ok)
}

func TestZobrist(t *testing.T) {
	pos := Initial()
	h := pos.Zobrist()

	// Stable across runs: the table is built from a fixed seed.
	assert.Equal(t, h, Initial().Zobrist())

	next, ok := pos.Apply(Move{Type: Jump, Piece: Pawn, From: E2, To: E4})
	require.True(t, ok)
	assert.NotEqual(t, h, next.Zobrist())

	// Transpositions hash equal: Nf3 Nf6 Ng1 Ng8 returns to the start position.
	moves := []Move{
		{Type: Normal, Piece: Knight, From: G1, To: F3},
		{Type: Normal, Piece: Knight, From: G8, To: F6},
		{Type: Normal, Piece: Knight, From: F3, To: G1},
		{Type: Normal, Piece: Knight, From: F6, To: G8},
	}
	cur := pos
	for _, m := range moves {
		cur, ok = cur.Apply(m)
		require.True(t, ok)
	}
	assert.Equal(t, h, cur.Zobrist())
}

func perft(pos *Position, depth int) int {
	if depth == 0 {
		return 1
	}
	ret := 0
	for _, m := range pos.LegalMoves() {
		next, ok := pos.Apply(m)
		if !ok {
			continue
		}
		ret += perft(next, depth-1)
	}
	return ret
}

func TestPerft(t *testing.T) {
	pos := Initial()

	assert.Equal(t, 20, perft(pos, 1))
	assert.Equal(t, 400, perft(pos, 2))
	assert.Equal(t, 8902, perft(pos, 3))
}

func TestLegalMovesCanonicalOrder(t *testing.T) {
	moves := Initial().LegalMoves()
	require.Len(t, moves, 20)

	for i := 1; i < len(moves); i++ {
		a, b := moves[i-1], moves[i]
		less := a.Piece < b.Piece ||
			(a.Piece == b.Piece && a.From < b.From) ||
			(a.Piece == b.Piece && a.From == b.From && a.To < b.To) ||
			(a.Piece == b.Piece && a.From == b.From && a.To == b.To && a.Promotion < b.Promotion)
		assert.True(t, less, "moves out of order: %v before %v", a, b)
	}
}

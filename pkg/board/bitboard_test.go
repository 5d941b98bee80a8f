package board

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttackboardVectors(t *testing.T) {
	tests := []struct {
		piece    Piece
		sq       Square
		occupied Bitboard
		expected Bitboard
	}{
		{Bishop, C7, 0x401f7ac78bc80f1c, 0x0a000a0000000000},
		{Rook, B1, 0x26ebdcf08553011a, 0x000000000002020d},
		{Queen, G2, 0x6f23d32e2a0fd7fa, 0x0000404850e0b0e0},
	}

	for _, tt := range tests {
		actual := Attackboard(tt.occupied, tt.sq, tt.piece)
		assert.Equal(t, tt.expected, actual, "attacks(%v, %v, %x)", tt.piece, tt.sq, uint64(tt.occupied))
	}
}

// slowAttacks is a reference implementation by square-at-a-time enumeration.
func slowAttacks(piece Piece, sq Square, occupied Bitboard) Bitboard {
	deltas := map[Piece][][2]int{
		Knight: {{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}},
		King:   {{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}},
		Bishop: {{1, 1}, {1, -1}, {-1, -1}, {-1, 1}},
		Rook:   {{0, 1}, {1, 0}, {0, -1}, {-1, 0}},
	}

	sliders := map[Piece]bool{Bishop: true, Rook: true, Queen: true}

	dirs := deltas[piece]
	if piece == Queen {
		dirs = append(append([][2]int{}, deltas[Bishop]...), deltas[Rook]...)
	}

	var ret Bitboard
	for _, d := range dirs {
		f, r := sq.File().V()+d[0], sq.Rank().V()+d[1]
		for 0 <= f && f < 8 && 0 <= r && r < 8 {
			next := NewSquare(File(f), Rank(r))
			ret |= BitMask(next)
			if !sliders[piece] || occupied.IsSet(next) {
				break
			}
			f += d[0]
			r += d[1]
		}
	}
	return ret
}

func TestAttackboardAgainstReference(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	pieces := []Piece{Knight, Bishop, Rook, Queen, King}

	for i := 0; i < 1000; i++ {
		piece := pieces[r.Intn(len(pieces))]
		sq := Square(r.Intn(64))
		occupied := Bitboard(r.Uint64()) &^ BitMask(sq)

		expected := slowAttacks(piece, sq, occupied)
		actual := Attackboard(occupied, sq, piece)
		assert.Equal(t, expected, actual, "attacks(%v, %v, %x)", piece, sq, uint64(occupied))
	}
}

func TestAttackboardEmptyOccupancy(t *testing.T) {
	// Empty occupancy returns pseudo-attacks.
	assert.Equal(t, Bitboard(0x8041221400142241), BishopAttackboard(EmptyBitboard, D4))
	assert.Equal(t, Bitboard(0x08080808f7080808), RookAttackboard(EmptyBitboard, D4))
}

func TestBitboardOps(t *testing.T) {
	bb := BitMask(A1) | BitMask(D4) | BitMask(H8)

	assert.Equal(t, 3, bb.PopCount())
	assert.Equal(t, A1, bb.FirstPopSquare())
	assert.Equal(t, H8, bb.LastPopSquare())

	assert.Equal(t, D4, bb.NthPopSquare(1))
	assert.Equal(t, 1, bb.PopIndex(D4))
	assert.Equal(t, 2, bb.PopIndex(H8))

	first := bb.PopFirst()
	assert.Equal(t, A1, first)
	assert.Equal(t, 2, bb.PopCount())
}

func TestPawnCaptureboard(t *testing.T) {
	assert.Equal(t, BitMask(B3), PawnCaptureboard(White, BitMask(A2)))
	assert.Equal(t, BitMask(A3)|BitMask(C3), PawnCaptureboard(White, BitMask(B2)))
	assert.Equal(t, BitMask(G6), PawnCaptureboard(Black, BitMask(H7)))
}

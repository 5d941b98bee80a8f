// Package codec contains the fixed-width move and reverse-move codecs used by the game
// container and the position index. All codecs are total over legal inputs and round-trip
// exactly; malformed bits are a caller bug.
package codec

import (
	"github.com/herohde/posdb/pkg/board"
)

// moveClass is the 2-bit move family used on the wire. The full MoveType is recovered
// from the position context on decode.
type moveClass uint8

const (
	classNormal moveClass = iota
	classPromotion
	classCastle
	classEnPassant
)

func classOf(t board.MoveType) moveClass {
	switch {
	case t.IsPromotion():
		return classPromotion
	case t.IsCastle():
		return classCastle
	case t == board.EnPassant:
		return classEnPassant
	default:
		return classNormal
	}
}

// promoBits maps a promotion piece to its 2-bit code: Knight=0, Bishop=1, Rook=2, Queen=3.
func promoBits(p board.Piece) uint16 {
	if p.IsValid() {
		return uint16(p - board.Knight)
	}
	return 0
}

func promoPiece(bits uint16) board.Piece {
	return board.Knight + board.Piece(bits&0x3)
}

// LongMoveBits packs a move into the 2-byte long encoding: (to:6, from:6, type:2,
// promotionPiece:2), to in the high bits. Castling is represented with the king from/to
// squares and en passant with the pawn from/to squares.
func LongMoveBits(m board.Move) uint16 {
	return uint16(m.To)<<10 | uint16(m.From)<<4 | uint16(classOf(m.Type))<<2 | promoBits(m.Promotion)
}

// MoveFromLongBits reconstructs the fully-annotated move from the 2-byte long encoding,
// using the position the move is made from for context.
func MoveFromLongBits(pos *board.Position, bits uint16) board.Move {
	to := board.Square(bits >> 10 & 0x3f)
	from := board.Square(bits >> 4 & 0x3f)
	class := moveClass(bits >> 2 & 0x3)

	_, piece, _ := pos.PieceAt(from)
	_, victim, captures := pos.PieceAt(to)

	m := board.Move{Piece: piece, From: from, To: to}
	switch class {
	case classCastle:
		if to.File() > from.File() {
			m.Type = board.KingSideCastle
		} else {
			m.Type = board.QueenSideCastle
		}

	case classEnPassant:
		m.Type = board.EnPassant
		m.Capture = board.Pawn

	case classPromotion:
		m.Promotion = promoPiece(bits)
		if captures {
			m.Type = board.CapturePromotion
			m.Capture = victim
		} else {
			m.Type = board.Promotion
		}

	default:
		m.Type = pawnOrNormalType(piece, from, to, captures)
		m.Capture = victim
	}
	return m
}

func pawnOrNormalType(piece board.Piece, from, to board.Square, captures bool) board.MoveType {
	if captures {
		return board.Capture
	}
	if piece == board.Pawn {
		if to > from && to-from == 16 || from > to && from-to == 16 {
			return board.Jump
		}
		return board.Push
	}
	return board.Normal
}

// RequiresLongMoveIndex returns true iff the position has more than 255 legal moves, in
// which case the index-based encoding uses 2 bytes for every move from it. The width is
// determined by the position, not the index value.
func RequiresLongMoveIndex(pos *board.Position) bool {
	return len(pos.LegalMoves()) > 255
}

// MoveToIndex returns the index of the move in the canonical legal-move enumeration of
// the position. Returns false iff the move is not legal in the position.
func MoveToIndex(pos *board.Position, m board.Move) (int, bool) {
	for i, legal := range pos.LegalMoves() {
		if legal.Equals(m) {
			return i, true
		}
	}
	return 0, false
}

// MoveFromIndex returns the move with the given index in the canonical legal-move
// enumeration of the position. Returns false iff out of range.
func MoveFromIndex(pos *board.Position, idx int) (board.Move, bool) {
	moves := pos.LegalMoves()
	if idx < 0 || idx >= len(moves) {
		return board.Move{}, false
	}
	return moves[idx], true
}

package codec

import (
	"github.com/herohde/posdb/pkg/board"
)

// ReverseMove encodes what is needed to undo a move from the position it produced: the
// move itself (with its captured piece, if any) plus the castling rights and en passant
// state of the prior position.
type ReverseMove struct {
	Move board.Move

	OldCastling board.Castling
	HadEP       bool
	OldEPFile   board.File
}

// NewReverseMove captures the retraction context for a move made from prev.
func NewReverseMove(prev *board.Position, m board.Move) ReverseMove {
	ret := ReverseMove{Move: m, OldCastling: prev.Castling()}
	if ep, ok := prev.EnPassant(); ok {
		ret.HadEP = true
		ret.OldEPFile = ep.File()
	}
	return ret
}

// Format A packs a reverse move into 27 bits:
//
//	(toSquare:6, from:6, type:2, promoted:2, capturedPieceType:3, oldCastlingRights:4,
//	 hadEp:1, oldEpFile:3)
//
// with toSquare in the high bits. The from square is carried explicitly; decoding needs
// the position only to recover the moving piece and move family details.
const (
	// NullReverseMoveA is the "no retraction" sentinel. It decodes to no move: the
	// en-passant class with an H8 target cannot occur in a legal game.
	NullReverseMoveA uint32 = 1<<27 - 1

	reverseMoveBitsA = 27
)

// PackReverseMoveA packs the reverse move. pos is the position after the move.
func PackReverseMoveA(pos *board.Position, rm ReverseMove) uint32 {
	m := rm.Move
	bits := uint32(m.To)<<21 | uint32(m.From)<<15 |
		uint32(classOf(m.Type))<<13 | uint32(promoBits(m.Promotion))<<11 |
		uint32(m.Capture)<<8 | uint32(rm.OldCastling)<<4
	if rm.HadEP {
		bits |= 1 << 3
	}
	return bits | uint32(rm.OldEPFile)
}

// UnpackReverseMoveA reconstructs the exact reverse move from 27 bits. pos is the
// position after the move.
func UnpackReverseMoveA(pos *board.Position, bits uint32) (ReverseMove, bool) {
	if bits == NullReverseMoveA {
		return ReverseMove{}, false
	}

	to := board.Square(bits >> 21 & 0x3f)
	from := board.Square(bits >> 15 & 0x3f)
	class := moveClass(bits >> 13 & 0x3)
	captured := board.Piece(bits >> 8 & 0x7)

	rm := ReverseMove{
		OldCastling: board.Castling(bits >> 4 & 0xf),
		HadEP:       bits>>3&0x1 != 0,
		OldEPFile:   board.File(bits & 0x7),
	}

	// The moved piece stands on the to square in pos; for promotions it is the
	// promoted piece and the mover was a pawn.
	_, atTo, _ := pos.PieceAt(to)

	m := board.Move{Piece: atTo, From: from, To: to, Capture: captured}
	switch class {
	case classCastle:
		m.Piece = board.King
		if to.File() > from.File() {
			m.Type = board.KingSideCastle
		} else {
			m.Type = board.QueenSideCastle
		}

	case classEnPassant:
		m.Piece = board.Pawn
		m.Type = board.EnPassant
		m.Capture = board.Pawn

	case classPromotion:
		m.Piece = board.Pawn
		m.Promotion = board.Knight + board.Piece(bits>>11&0x3)
		if captured != board.NoPiece {
			m.Type = board.CapturePromotion
		} else {
			m.Type = board.Promotion
		}

	default:
		m.Type = pawnOrNormalType(atTo, from, to, captured != board.NoPiece)
	}

	rm.Move = m
	return rm, true
}

// Format B packs a reverse move into 20 bits:
//
//	(toSquareIndex:4, destinationIndex:5, capturedPieceType:3, oldCastlingRights:4,
//	 hadEp:1, oldEpFile:3)
//
// toSquareIndex is the rank of the to square within the moving side's occupied bitboard
// of pos (k'th set bit). destinationIndex enumerates move families per the piece standing
// on the to square:
//
//	Pawn:            0..3  = to-from displacement seen from the side that moved
//	                         (8 push, 16 jump, 7 and 9 captures); en passant is
//	                         inferred from the old en passant state.
//	Knight..Queen:   0..26 = rank of the from square within the piece's attack set of
//	                         the to square (LSB order); 27..29 = promotion push /
//	                         capture from a lower file / capture from a higher file.
//	King:            0..7  = rank within the king attack set; 28/29 = king/queen-side
//	                         castle.
//
// The sentinel (toSquareIndex=1, destinationIndex=31) encodes "no retraction".
const (
	NullReverseMoveB uint32 = 1<<16 | 31<<11

	reverseMoveBitsB = 20

	destPromotionPush     = 27
	destPromotionCaptureA = 28
	destPromotionCaptureH = 29
	destCastleKingSide    = 28
	destCastleQueenSide   = 29
)

// pawn displacement family. The to-from delta for the side that moved, in family order.
var pawnDeltas = [4]int8{8, 16, 7, 9}

// PackReverseMoveB packs the reverse move into 20 bits. pos is the position after the
// move; the from square is re-derived from the piece layout on decode.
func PackReverseMoveB(pos *board.Position, rm ReverseMove) uint32 {
	m := rm.Move
	moved := pos.SideToMove().Opponent()

	toIdx := uint32(pos.Pieces(moved).PopIndex(m.To))
	destIdx := uint32(destinationIndex(pos, moved, m))

	bits := toIdx<<16 | destIdx<<11 | uint32(m.Capture)<<8 | uint32(rm.OldCastling)<<4
	if rm.HadEP {
		bits |= 1 << 3
	}
	return bits | uint32(rm.OldEPFile)
}

func destinationIndex(pos *board.Position, moved board.Color, m board.Move) int {
	switch {
	case m.Type.IsCastle():
		if m.Type == board.KingSideCastle {
			return destCastleKingSide
		}
		return destCastleQueenSide

	case m.Type.IsPromotion():
		switch {
		case m.From.File() == m.To.File():
			return destPromotionPush
		case m.From.File() < m.To.File():
			return destPromotionCaptureA
		default:
			return destPromotionCaptureH
		}

	case m.Piece == board.Pawn:
		delta := int8(m.To) - int8(m.From)
		if moved == board.Black {
			delta = -delta
		}
		for i, d := range pawnDeltas {
			if d == delta {
				return i
			}
		}
		panic("invalid pawn displacement")

	default:
		attacks := board.Attackboard(pos.Occupied(), m.To, m.Piece)
		return attacks.PopIndex(m.From)
	}
}

// UnpackReverseMoveB reconstructs the exact reverse move from 20 bits. pos is the
// position after the move.
func UnpackReverseMoveB(pos *board.Position, bits uint32) (ReverseMove, bool) {
	if bits == NullReverseMoveB {
		return ReverseMove{}, false
	}

	toIdx := int(bits >> 16 & 0xf)
	destIdx := int(bits >> 11 & 0x1f)
	captured := board.Piece(bits >> 8 & 0x7)

	rm := ReverseMove{
		OldCastling: board.Castling(bits >> 4 & 0xf),
		HadEP:       bits>>3&0x1 != 0,
		OldEPFile:   board.File(bits & 0x7),
	}

	moved := pos.SideToMove().Opponent()
	to := pos.Pieces(moved).NthPopSquare(toIdx)
	_, atTo, _ := pos.PieceAt(to)

	m := board.Move{Piece: atTo, To: to, Capture: captured}
	switch {
	case atTo == board.King && destIdx >= destCastleKingSide:
		m.Piece = board.King
		m.From = board.NewSquare(board.FileE, to.Rank())
		if destIdx == destCastleKingSide {
			m.Type = board.KingSideCastle
		} else {
			m.Type = board.QueenSideCastle
		}

	case atTo >= board.Knight && atTo <= board.Queen && destIdx >= destPromotionPush:
		m.Piece = board.Pawn
		m.Promotion = atTo
		m.From = promotionOrigin(moved, to, destIdx)
		if captured != board.NoPiece {
			m.Type = board.CapturePromotion
		} else {
			m.Type = board.Promotion
		}

	case atTo == board.Pawn:
		delta := pawnDeltas[destIdx]
		if moved == board.White {
			m.From = to - board.Square(delta)
		} else {
			m.From = to + board.Square(delta)
		}
		if captured == board.Pawn && rm.HadEP && to == epTargetSquare(moved, rm.OldEPFile) && destIdx >= 2 {
			m.Type = board.EnPassant
		} else {
			m.Type = pawnOrNormalType(board.Pawn, m.From, to, captured != board.NoPiece)
		}

	default:
		attacks := board.Attackboard(pos.Occupied(), to, atTo)
		m.From = attacks.NthPopSquare(destIdx)
		if captured != board.NoPiece {
			m.Type = board.Capture
		} else {
			m.Type = board.Normal
		}
	}

	rm.Move = m
	return rm, true
}

func promotionOrigin(moved board.Color, to board.Square, destIdx int) board.Square {
	switch destIdx {
	case destPromotionPush:
		if moved == board.White {
			return to - 8
		}
		return to + 8

	case destPromotionCaptureA:
		// The from file is below the to file.
		if moved == board.White {
			return to - 9
		}
		return to + 7

	default:
		if moved == board.White {
			return to - 7
		}
		return to + 9
	}
}

// epTargetSquare returns the en passant target square for the given file, from the
// perspective of the side that captured: a white capture lands on rank 6, black on rank 3.
func epTargetSquare(moved board.Color, f board.File) board.Square {
	if moved == board.White {
		return board.NewSquare(f, board.Rank6)
	}
	return board.NewSquare(f, board.Rank3)
}

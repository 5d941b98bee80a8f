package bcgn

import (
	"encoding/binary"
	"fmt"

	"github.com/herohde/posdb/pkg/board"
)

// CompressedPositionSize is the size of a compressed position: an 8-byte occupancy
// bitboard followed by 16 bytes of 4-bit piece codes, one nibble per occupied square in
// ascending square order (low nibble of each byte first).
const CompressedPositionSize = 24

// Nibble codes. The special values fold side-to-move, castling rights and the en passant
// pawn into piece codes, which is what makes 24 bytes sufficient.
const (
	nibbleWhitePawn = iota
	nibbleWhiteKnight
	nibbleWhiteBishop
	nibbleWhiteRook
	nibbleWhiteQueen
	nibbleWhiteKing
	nibbleBlackPawn
	nibbleBlackKnight
	nibbleBlackBishop
	nibbleBlackRook
	nibbleBlackQueen
	nibbleBlackKing
	nibbleEnPassantPawn   // pawn that just jumped; color follows from its rank
	nibbleWhiteCastleRook // white rook on its home square with the castling right intact
	nibbleBlackCastleRook
	nibbleBlackKingToMove // black king, and black is the side to move
)

var pieceNibbles = [board.NumColors][board.NumPieces]byte{
	{0, nibbleWhitePawn, nibbleWhiteKnight, nibbleWhiteBishop, nibbleWhiteRook, nibbleWhiteQueen, nibbleWhiteKing},
	{0, nibbleBlackPawn, nibbleBlackKnight, nibbleBlackBishop, nibbleBlackRook, nibbleBlackQueen, nibbleBlackKing},
}

// CompressPosition encodes the position into 24 bytes. Implementations must agree
// bit-exact: the layout is part of the container format.
func CompressPosition(pos *board.Position) [CompressedPositionSize]byte {
	var out [CompressedPositionSize]byte

	occupied := pos.Occupied()
	binary.BigEndian.PutUint64(out[:8], uint64(occupied))

	epPawn := board.NumSquares // invalid
	if ep, ok := pos.EnPassant(); ok {
		if ep.Rank() == board.Rank3 {
			epPawn = board.NewSquare(ep.File(), board.Rank4)
		} else {
			epPawn = board.NewSquare(ep.File(), board.Rank5)
		}
	}

	i := 0
	for bb := occupied; bb != 0; i++ {
		sq := bb.PopFirst()
		c, piece, _ := pos.PieceAt(sq)

		nibble := pieceNibbles[c][piece]
		switch {
		case piece == board.Pawn && sq == epPawn:
			nibble = nibbleEnPassantPawn
		case piece == board.Rook && c == board.White && hasCastleRight(pos, board.White, sq):
			nibble = nibbleWhiteCastleRook
		case piece == board.Rook && c == board.Black && hasCastleRight(pos, board.Black, sq):
			nibble = nibbleBlackCastleRook
		case piece == board.King && c == board.Black && pos.SideToMove() == board.Black:
			nibble = nibbleBlackKingToMove
		}

		out[8+i/2] |= nibble << (4 * uint(i%2))
	}
	return out
}

func hasCastleRight(pos *board.Position, c board.Color, sq board.Square) bool {
	switch {
	case c == board.White && sq == board.A1:
		return pos.Castling().IsAllowed(board.WhiteQueenSideCastle)
	case c == board.White && sq == board.H1:
		return pos.Castling().IsAllowed(board.WhiteKingSideCastle)
	case c == board.Black && sq == board.A8:
		return pos.Castling().IsAllowed(board.BlackQueenSideCastle)
	case c == board.Black && sq == board.H8:
		return pos.Castling().IsAllowed(board.BlackKingSideCastle)
	default:
		return false
	}
}

// DecompressPosition decodes a 24-byte compressed position.
func DecompressPosition(buf []byte) (*board.Position, error) {
	if len(buf) < CompressedPositionSize {
		return nil, fmt.Errorf("short compressed position: %v bytes", len(buf))
	}

	occupied := board.Bitboard(binary.BigEndian.Uint64(buf[:8]))

	var pieces []board.Placement
	var castling board.Castling
	var ep board.Square
	turn := board.White

	i := 0
	for bb := occupied; bb != 0; i++ {
		sq := bb.PopFirst()
		nibble := buf[8+i/2] >> (4 * uint(i%2)) & 0xf

		var c board.Color
		var piece board.Piece
		switch nibble {
		case nibbleEnPassantPawn:
			piece = board.Pawn
			if sq.Rank() == board.Rank4 {
				c = board.White
				ep = board.NewSquare(sq.File(), board.Rank3)
			} else {
				c = board.Black
				ep = board.NewSquare(sq.File(), board.Rank6)
			}

		case nibbleWhiteCastleRook:
			c, piece = board.White, board.Rook
			if sq == board.A1 {
				castling |= board.WhiteQueenSideCastle
			} else {
				castling |= board.WhiteKingSideCastle
			}

		case nibbleBlackCastleRook:
			c, piece = board.Black, board.Rook
			if sq == board.A8 {
				castling |= board.BlackQueenSideCastle
			} else {
				castling |= board.BlackKingSideCastle
			}

		case nibbleBlackKingToMove:
			c, piece = board.Black, board.King
			turn = board.Black

		default:
			c = board.Color(nibble / 6)
			piece = board.Pawn + board.Piece(nibble%6)
		}

		pieces = append(pieces, board.Placement{Square: sq, Color: c, Piece: piece})
	}

	pos, err := board.NewPosition(pieces, turn, castling, ep)
	if err != nil {
		return nil, fmt.Errorf("invalid compressed position: %v", err)
	}
	return pos, nil
}

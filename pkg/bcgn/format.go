// Package bcgn implements the BCGN binary game container: a densely packed, random-
// skippable stream of games used as the database ingestion format.
//
// A file is a fixed 32-byte header followed by length-prefixed game records:
//
//	magic      "BCGN"
//	version    u8 (0)
//	compLevel  u8 (0 = long move encoding; 1 = index-based)
//	auxComp    u8 (0 = none; 1/2 reserved)
//	reserved   25 bytes, zero
//
// Each game record is:
//
//	totalLen  u16 BE   length of the entire record, including these 2 bytes
//	headerLen u16 BE   length of the header portion
//	plyCountAndResult u16 BE  (ply:14 high bits, result:2 low bits)
//	date      u16 BE year, u8 month, u8 day (0 = unknown component)
//	whiteElo, blackElo, round  u16 BE each
//	eco       u8 category ('A'..'E' or 0), u8 index
//	flags     u8 (bit0 = has additional tags, bit1 = has custom start position)
//	[flags bit1] 24-byte compressed start position
//	whitePlayer, blackPlayer, event, site  each (u8 len)(bytes)
//	[flags bit0] u8 tag count, then count x ((u8 len)(bytes), (u8 len)(bytes))
//	movetext  totalLen - headerLen bytes
package bcgn

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader indicates a bad file header: wrong magic, unknown version or
	// compression, or nonzero reserved bytes.
	ErrInvalidHeader = errors.New("bcgn: invalid header")
	// ErrTruncated indicates an unterminated game record at EOF.
	ErrTruncated = errors.New("bcgn: truncated file")
	// ErrGameTooLong indicates a game whose record cannot be represented (or read back)
	// within the 16-bit record length.
	ErrGameTooLong = errors.New("bcgn: game too long")
)

// Compression is the move encoding used for the movetext of every game in a file.
type Compression uint8

const (
	// CompressionLong encodes every move as 2 bytes.
	CompressionLong Compression = 0
	// CompressionIndex encodes each move as its index in the canonical legal-move
	// enumeration: 1 byte, or 2 bytes for positions with more than 255 legal moves.
	CompressionIndex Compression = 1
)

func (c Compression) IsValid() bool {
	return c == CompressionLong || c == CompressionIndex
}

const (
	magic = "BCGN"

	// Version is the only supported container version.
	Version uint8 = 0

	// FileHeaderSize is the size of the fixed file header.
	FileHeaderSize = 32

	// MaxGameLen is the largest representable record length. A record of exactly this
	// size cannot be distinguished from corruption and is rejected on both ends.
	MaxGameLen = 1<<16 - 1

	// gameFixedSize is the size of the fixed portion of a game record.
	gameFixedSize = 19

	// MinBufferSize is the smallest read buffer the reader accepts.
	MinBufferSize = 128 << 10
)

// Header is the decoded file header.
type Header struct {
	Version     uint8
	Compression Compression
	Aux         uint8
}

// Encode writes the 32-byte file header.
func (h Header) Encode() []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf, magic)
	buf[4] = h.Version
	buf[5] = uint8(h.Compression)
	buf[6] = h.Aux
	return buf
}

// DecodeHeader validates and decodes a 32-byte file header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < FileHeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%v bytes)", ErrInvalidHeader, len(buf))
	}
	if string(buf[:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, buf[:4])
	}

	h := Header{Version: buf[4], Compression: Compression(buf[5]), Aux: buf[6]}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unknown version %v", ErrInvalidHeader, h.Version)
	}
	if !h.Compression.IsValid() {
		return Header{}, fmt.Errorf("%w: unknown compression %v", ErrInvalidHeader, h.Compression)
	}
	if h.Aux != 0 {
		return Header{}, fmt.Errorf("%w: unsupported aux compression %v", ErrInvalidHeader, h.Aux)
	}
	for _, b := range buf[7:FileHeaderSize] {
		if b != 0 {
			return Header{}, fmt.Errorf("%w: nonzero reserved bytes", ErrInvalidHeader)
		}
	}
	return h, nil
}

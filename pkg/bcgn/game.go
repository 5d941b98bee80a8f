package bcgn

import (
	"encoding/binary"
	"fmt"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
)

// Date is a game date with 0 for unknown components.
type Date struct {
	Year  uint16
	Month uint8
	Day   uint8
}

func (d Date) String() string {
	return fmt.Sprintf("%04d.%02d.%02d", d.Year, d.Month, d.Day)
}

// ECO is an Encyclopaedia of Chess Openings code, such as "B72". A zero category means
// unknown.
type ECO struct {
	Category byte // 'A'..'E'
	Index    uint8
}

func (e ECO) String() string {
	if e.Category == 0 {
		return "-"
	}
	return fmt.Sprintf("%c%02d", e.Category, e.Index)
}

// Tag is an additional PGN-style key/value pair.
type Tag struct {
	Name, Value string
}

// GameHeader is the decoded header portion of a game record. String fields are limited
// to 255 bytes and must not contain NUL.
type GameHeader struct {
	PlyCount uint16 // 14 bits
	Result   board.Result
	Date     Date
	WhiteElo uint16
	BlackElo uint16
	Round    uint16
	ECO      ECO

	White, Black string
	Event, Site  string

	Tags []Tag

	// StartPosition is the custom start position, if any. Nil means the standard
	// initial position.
	StartPosition *board.Position
}

// Start returns the position the game starts from.
func (h *GameHeader) Start() *board.Position {
	if h.StartPosition != nil {
		return h.StartPosition
	}
	return board.Initial()
}

// Game is a single game of a BCGN file. The movetext borrows from the reader's current
// buffer and is invalidated by advancing the reader.
type Game struct {
	Header   GameHeader
	movetext []byte
	comp     Compression
}

// Positions returns a pull iterator over the game's moves and the positions they
// produce, starting from the game's start position.
func (g *Game) Positions() *PositionIterator {
	return &PositionIterator{
		pos:       g.Header.Start(),
		movetext:  g.movetext,
		comp:      g.comp,
		remaining: int(g.Header.PlyCount),
	}
}

// PositionIterator replays a game's movetext one ply at a time. It owns its position;
// the values returned by Prev/Move/Position are valid until the next call to Next.
type PositionIterator struct {
	pos       *board.Position
	prev      *board.Position
	move      board.Move
	movetext  []byte
	comp      Compression
	remaining int
	err       error
}

// Next advances one ply. Returns false at the end of the game or on malformed movetext.
func (it *PositionIterator) Next() bool {
	if it.err != nil || it.remaining == 0 {
		return false
	}

	var m board.Move
	switch it.comp {
	case CompressionLong:
		if len(it.movetext) < 2 {
			it.err = fmt.Errorf("%w: movetext underrun", ErrTruncated)
			return false
		}
		m = codec.MoveFromLongBits(it.pos, binary.BigEndian.Uint16(it.movetext))
		it.movetext = it.movetext[2:]

	default:
		width := 1
		if codec.RequiresLongMoveIndex(it.pos) {
			width = 2
		}
		if len(it.movetext) < width {
			it.err = fmt.Errorf("%w: movetext underrun", ErrTruncated)
			return false
		}
		idx := int(it.movetext[0])
		if width == 2 {
			idx = int(binary.BigEndian.Uint16(it.movetext))
		}
		it.movetext = it.movetext[width:]

		var ok bool
		m, ok = codec.MoveFromIndex(it.pos, idx)
		if !ok {
			it.err = fmt.Errorf("invalid move index %v", idx)
			return false
		}
	}

	next, ok := it.pos.Apply(m)
	if !ok {
		it.err = fmt.Errorf("illegal move %v", m)
		return false
	}

	it.prev, it.move, it.pos = it.pos, m, next
	it.remaining--
	return true
}

// Prev returns the position the last move was made from.
func (it *PositionIterator) Prev() *board.Position {
	return it.prev
}

// Move returns the last move.
func (it *PositionIterator) Move() board.Move {
	return it.move
}

// Position returns the position after the last move.
func (it *PositionIterator) Position() *board.Position {
	return it.pos
}

// Err returns the first movetext error, if any.
func (it *PositionIterator) Err() error {
	return it.err
}

const (
	flagHasTags        = 1 << 0
	flagHasCustomStart = 1 << 1
)

// encodeGame serializes a full game record. The movetext must already be encoded with
// the container's compression.
func encodeGame(h *GameHeader, movetext []byte) ([]byte, error) {
	if h.PlyCount > 1<<14-1 {
		return nil, fmt.Errorf("%w: %v plies", ErrGameTooLong, h.PlyCount)
	}

	headerLen := gameFixedSize
	if h.StartPosition != nil {
		headerLen += CompressedPositionSize
	}
	strs := []string{h.White, h.Black, h.Event, h.Site}
	for _, s := range strs {
		if len(s) > 255 {
			return nil, fmt.Errorf("string field too long: %v bytes", len(s))
		}
		headerLen += 1 + len(s)
	}
	if len(h.Tags) > 0 {
		if len(h.Tags) > 255 {
			return nil, fmt.Errorf("too many tags: %v", len(h.Tags))
		}
		headerLen++
		for _, tag := range h.Tags {
			if len(tag.Name) > 255 || len(tag.Value) > 255 {
				return nil, fmt.Errorf("tag too long: %v", tag.Name)
			}
			headerLen += 2 + len(tag.Name) + len(tag.Value)
		}
	}

	total := headerLen + len(movetext)
	if total >= MaxGameLen {
		return nil, fmt.Errorf("%w: %v bytes", ErrGameTooLong, total)
	}

	buf := make([]byte, 0, total)
	var tmp [2]byte

	u16 := func(v uint16) {
		binary.BigEndian.PutUint16(tmp[:], v)
		buf = append(buf, tmp[0], tmp[1])
	}

	u16(uint16(total))
	u16(uint16(headerLen))
	u16(h.PlyCount<<2 | uint16(h.Result)&0x3)
	u16(h.Date.Year)
	buf = append(buf, h.Date.Month, h.Date.Day)
	u16(h.WhiteElo)
	u16(h.BlackElo)
	u16(h.Round)
	buf = append(buf, h.ECO.Category, h.ECO.Index)

	var flags byte
	if len(h.Tags) > 0 {
		flags |= flagHasTags
	}
	if h.StartPosition != nil {
		flags |= flagHasCustomStart
	}
	buf = append(buf, flags)

	if h.StartPosition != nil {
		cp := CompressPosition(h.StartPosition)
		buf = append(buf, cp[:]...)
	}
	for _, s := range strs {
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	if len(h.Tags) > 0 {
		buf = append(buf, byte(len(h.Tags)))
		for _, tag := range h.Tags {
			buf = append(buf, byte(len(tag.Name)))
			buf = append(buf, tag.Name...)
			buf = append(buf, byte(len(tag.Value)))
			buf = append(buf, tag.Value...)
		}
	}

	buf = append(buf, movetext...)
	return buf, nil
}

// decodeGame parses one game record from the start of buf. Returns the game and the
// total record length.
func decodeGame(buf []byte, comp Compression) (*Game, int, error) {
	if len(buf) < gameFixedSize {
		return nil, 0, fmt.Errorf("%w: short record", ErrTruncated)
	}

	total := int(binary.BigEndian.Uint16(buf))
	headerLen := int(binary.BigEndian.Uint16(buf[2:]))
	if total >= MaxGameLen {
		return nil, 0, fmt.Errorf("%w: record of %v bytes", ErrGameTooLong, total)
	}
	if total < gameFixedSize || headerLen < gameFixedSize || headerLen > total || total > len(buf) {
		return nil, 0, fmt.Errorf("%w: inconsistent record lengths %v/%v", ErrTruncated, headerLen, total)
	}

	var h GameHeader

	pr := binary.BigEndian.Uint16(buf[4:])
	h.PlyCount = pr >> 2
	h.Result = board.Result(pr & 0x3)
	h.Date = Date{Year: binary.BigEndian.Uint16(buf[6:]), Month: buf[8], Day: buf[9]}
	h.WhiteElo = binary.BigEndian.Uint16(buf[10:])
	h.BlackElo = binary.BigEndian.Uint16(buf[12:])
	h.Round = binary.BigEndian.Uint16(buf[14:])
	h.ECO = ECO{Category: buf[16], Index: buf[17]}
	flags := buf[18]

	rest := buf[gameFixedSize:headerLen]

	if flags&flagHasCustomStart != 0 {
		if len(rest) < CompressedPositionSize {
			return nil, 0, fmt.Errorf("%w: short start position", ErrTruncated)
		}
		pos, err := DecompressPosition(rest[:CompressedPositionSize])
		if err != nil {
			return nil, 0, err
		}
		h.StartPosition = pos
		rest = rest[CompressedPositionSize:]
	}

	readString := func() (string, error) {
		if len(rest) < 1 {
			return "", fmt.Errorf("%w: short string", ErrTruncated)
		}
		n := int(rest[0])
		if len(rest) < 1+n {
			return "", fmt.Errorf("%w: short string", ErrTruncated)
		}
		s := string(rest[1 : 1+n])
		rest = rest[1+n:]
		return s, nil
	}

	var err error
	if h.White, err = readString(); err != nil {
		return nil, 0, err
	}
	if h.Black, err = readString(); err != nil {
		return nil, 0, err
	}
	if h.Event, err = readString(); err != nil {
		return nil, 0, err
	}
	if h.Site, err = readString(); err != nil {
		return nil, 0, err
	}

	if flags&flagHasTags != 0 {
		if len(rest) < 1 {
			return nil, 0, fmt.Errorf("%w: short tag count", ErrTruncated)
		}
		count := int(rest[0])
		rest = rest[1:]
		for i := 0; i < count; i++ {
			name, err := readString()
			if err != nil {
				return nil, 0, err
			}
			value, err := readString()
			if err != nil {
				return nil, 0, err
			}
			h.Tags = append(h.Tags, Tag{Name: name, Value: value})
		}
	}

	return &Game{Header: h, movetext: buf[headerLen:total], comp: comp}, total, nil
}

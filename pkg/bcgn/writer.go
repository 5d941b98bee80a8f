package bcgn

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
	"github.com/seekerror/logw"
)

// DefaultWriteBufferSize is the default size of each of the writer's two buffers. It must
// hold at least one maximum-size game.
const DefaultWriteBufferSize = 1 << 20

// Writer writes a BCGN file. Games are staged with the per-game setters and sealed with
// EndGame. Serialized games accumulate in a front buffer; when the front buffer cannot
// be guaranteed to hold another maximum-size game, the buffers are swapped and the full
// one is persisted by a single background task. Not thread-safe.
type Writer struct {
	out  io.Writer
	comp Compression

	front, back []byte
	pending     chan error // outstanding background flush, if non-nil

	game *GameBuilder
}

// NewWriter creates a writer and emits the file header.
func NewWriter(ctx context.Context, out io.Writer, comp Compression) (*Writer, error) {
	if !comp.IsValid() {
		return nil, fmt.Errorf("invalid compression: %v", comp)
	}

	w := &Writer{
		out:   out,
		comp:  comp,
		front: make([]byte, 0, DefaultWriteBufferSize),
		back:  make([]byte, 0, DefaultWriteBufferSize),
	}
	if _, err := out.Write(Header{Version: Version, Compression: comp}.Encode()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	logw.Debugf(ctx, "BCGN writer initialized: compression=%v", comp)
	return w, nil
}

// Game returns the builder for the current game, creating it if needed.
func (w *Writer) Game() *GameBuilder {
	if w.game == nil {
		w.game = newGameBuilder(w.comp)
	}
	return w.game
}

// ResetGame discards the current game without writing it. The writer remains usable.
func (w *Writer) ResetGame() {
	w.game = nil
}

// EndGame serializes the current game into the front buffer, flushing in the background
// as needed. On error, notably ErrGameTooLong, the game is not written and the writer
// remains usable after ResetGame.
func (w *Writer) EndGame() error {
	g := w.Game()

	rec, err := encodeGame(&g.header, g.movetext)
	if err != nil {
		return err
	}

	w.front = append(w.front, rec...)
	w.game = nil

	if cap(w.front)-len(w.front) < MaxGameLen {
		if err := w.swap(); err != nil {
			return err
		}
	}
	return nil
}

// swap exchanges the buffers and persists the filled one in the background. At most one
// flush is outstanding; a second swap first waits for the previous one.
func (w *Writer) swap() error {
	if err := w.wait(); err != nil {
		return err
	}

	full := w.front
	w.front, w.back = w.back[:0], full

	w.pending = make(chan error, 1)
	go func(buf []byte, done chan<- error) {
		_, err := w.out.Write(buf)
		done <- err
	}(full, w.pending)
	return nil
}

func (w *Writer) wait() error {
	if w.pending == nil {
		return nil
	}
	err := <-w.pending
	w.pending = nil
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes all buffered games and waits for the background task. It does not close
// the underlying writer.
func (w *Writer) Close() error {
	if err := w.wait(); err != nil {
		return err
	}
	if len(w.front) > 0 {
		if _, err := w.out.Write(w.front); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		w.front = w.front[:0]
	}
	return nil
}

// GameBuilder stages a single game. Moves are encoded incrementally against a running
// position, so they must be pushed in game order.
type GameBuilder struct {
	header   GameHeader
	movetext []byte
	comp     Compression
	pos      *board.Position
}

func newGameBuilder(comp Compression) *GameBuilder {
	return &GameBuilder{comp: comp, pos: board.Initial()}
}

func (g *GameBuilder) SetResult(r board.Result) *GameBuilder { g.header.Result = r; return g }
func (g *GameBuilder) SetDate(d Date) *GameBuilder           { g.header.Date = d; return g }
func (g *GameBuilder) SetWhiteElo(elo uint16) *GameBuilder   { g.header.WhiteElo = elo; return g }
func (g *GameBuilder) SetBlackElo(elo uint16) *GameBuilder   { g.header.BlackElo = elo; return g }
func (g *GameBuilder) SetRound(round uint16) *GameBuilder    { g.header.Round = round; return g }
func (g *GameBuilder) SetECO(eco ECO) *GameBuilder           { g.header.ECO = eco; return g }
func (g *GameBuilder) SetWhite(name string) *GameBuilder     { g.header.White = name; return g }
func (g *GameBuilder) SetBlack(name string) *GameBuilder     { g.header.Black = name; return g }
func (g *GameBuilder) SetEvent(event string) *GameBuilder    { g.header.Event = event; return g }
func (g *GameBuilder) SetSite(site string) *GameBuilder      { g.header.Site = site; return g }
func (g *GameBuilder) AddTag(name, value string) *GameBuilder {
	g.header.Tags = append(g.header.Tags, Tag{Name: name, Value: value})
	return g
}

// SetStartPosition sets a custom start position. Must be called before any moves.
func (g *GameBuilder) SetStartPosition(pos *board.Position) *GameBuilder {
	g.header.StartPosition = pos
	g.pos = pos
	return g
}

// PushMove appends a legal move to the movetext.
func (g *GameBuilder) PushMove(m board.Move) error {
	switch g.comp {
	case CompressionLong:
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], codec.LongMoveBits(m))
		g.movetext = append(g.movetext, buf[0], buf[1])

	default:
		idx, ok := codec.MoveToIndex(g.pos, m)
		if !ok {
			return fmt.Errorf("illegal move %v in %v", m, g.pos)
		}
		if codec.RequiresLongMoveIndex(g.pos) {
			var buf [2]byte
			binary.BigEndian.PutUint16(buf[:], uint16(idx))
			g.movetext = append(g.movetext, buf[0], buf[1])
		} else {
			g.movetext = append(g.movetext, byte(idx))
		}
	}

	next, ok := g.pos.Apply(m)
	if !ok {
		return fmt.Errorf("illegal move %v in %v", m, g.pos)
	}
	g.pos = next
	g.header.PlyCount++
	return nil
}

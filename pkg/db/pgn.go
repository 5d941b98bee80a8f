package db

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/herohde/posdb/pkg/bcgn"
	"github.com/herohde/posdb/pkg/board"
)

// ingestPGN ingests a PGN file. The reader is deliberately small: tag pairs plus SAN
// movetext, with comments, variations and NAGs skipped rather than parsed. Moves are
// resolved by matching each token against the SAN rendering of the legal moves.
func (ing *ingester) ingestPGN(ctx context.Context, path string) (ImportStats, error) {
	var stats ImportStats

	f, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	s := newPGNScanner(f)
	for {
		game, err := s.next()
		if err != nil {
			return stats, err
		}
		if game == nil {
			return stats, nil
		}

		header := game.header()
		it := &pgnPlyIterator{pos: board.Initial(), tokens: game.movetext}

		ok, err := ing.ingestGame(ctx, &header, it)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.SkippedGames++
			continue
		}
		stats.Games++
		stats.Positions += int64(header.PlyCount) + 1
	}
}

type pgnGame struct {
	tags     map[string]string
	movetext []string

	// Tokenizer state carried across movetext lines: comments and variations may
	// span line breaks.
	depth     int
	inComment bool
}

func (g *pgnGame) header() bcgn.GameHeader {
	h := bcgn.GameHeader{
		Result:   board.ParseResult(g.tags["Result"]),
		White:    g.tags["White"],
		Black:    g.tags["Black"],
		Event:    g.tags["Event"],
		Site:     g.tags["Site"],
		PlyCount: uint16(len(g.movetext)),
	}

	if v, err := strconv.ParseUint(g.tags["WhiteElo"], 10, 16); err == nil {
		h.WhiteElo = uint16(v)
	}
	if v, err := strconv.ParseUint(g.tags["BlackElo"], 10, 16); err == nil {
		h.BlackElo = uint16(v)
	}
	if v, err := strconv.ParseUint(g.tags["Round"], 10, 16); err == nil {
		h.Round = uint16(v)
	}
	if eco := g.tags["ECO"]; len(eco) == 3 && 'A' <= eco[0] && eco[0] <= 'E' {
		if idx, err := strconv.ParseUint(eco[1:], 10, 8); err == nil {
			h.ECO = bcgn.ECO{Category: eco[0], Index: uint8(idx)}
		}
	}
	if parts := strings.Split(g.tags["Date"], "."); len(parts) == 3 {
		y, _ := strconv.ParseUint(strings.Replace(parts[0], "?", "0", -1), 10, 16)
		m, _ := strconv.ParseUint(strings.Replace(parts[1], "?", "0", -1), 10, 8)
		d, _ := strconv.ParseUint(strings.Replace(parts[2], "?", "0", -1), 10, 8)
		h.Date = bcgn.Date{Year: uint16(y), Month: uint8(m), Day: uint8(d)}
	}
	return h
}

// pgnScanner splits a PGN stream into games.
type pgnScanner struct {
	s *bufio.Scanner
}

func newPGNScanner(f *os.File) *pgnScanner {
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 1<<20), 1<<20)
	return &pgnScanner{s: s}
}

// next returns the next game, or nil at EOF.
func (ps *pgnScanner) next() (*pgnGame, error) {
	game := &pgnGame{tags: map[string]string{}}
	inTags := true

	for ps.s.Scan() {
		line := strings.TrimSpace(ps.s.Text())

		switch {
		case line == "":
			if !inTags && len(game.movetext) > 0 {
				return game, nil
			}
			if len(game.tags) > 0 {
				inTags = false
			}

		case strings.HasPrefix(line, "["):
			if !inTags && len(game.movetext) > 0 {
				// Next game's tag section began without a separating blank line.
				return game, fmt.Errorf("%w: missing blank line between games", ErrPGNSyntax)
			}
			name, value, ok := parseTagPair(line)
			if !ok {
				return nil, fmt.Errorf("%w: bad tag pair %q", ErrPGNSyntax, line)
			}
			game.tags[name] = value

		default:
			inTags = false
			tokens, done := tokenizeMovetext(line, game)
			game.movetext = append(game.movetext, tokens...)
			if done {
				return game, nil
			}
		}
	}
	if err := ps.s.Err(); err != nil {
		return nil, err
	}

	if len(game.tags) > 0 || len(game.movetext) > 0 {
		return game, nil
	}
	return nil, nil
}

func parseTagPair(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return "", "", false
	}
	inner := line[1 : len(line)-1]

	i := strings.IndexByte(inner, ' ')
	if i < 0 {
		return "", "", false
	}
	name := inner[:i]
	value := strings.TrimSpace(inner[i+1:])
	if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
		return "", "", false
	}
	return name, value[1 : len(value)-1], true
}

var resultTokens = map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}

// tokenizeMovetext extracts SAN tokens from one movetext line, skipping comments,
// variations, NAGs and move numbers. Returns done=true when a result token terminates
// the game.
func tokenizeMovetext(line string, game *pgnGame) ([]string, bool) {
	var ret []string

	for _, field := range strings.Fields(line) {
		for field != "" {
			switch {
			case game.inComment:
				if i := strings.IndexByte(field, '}'); i >= 0 {
					game.inComment = false
					field = field[i+1:]
				} else {
					field = ""
				}

			case strings.HasPrefix(field, "{"):
				game.inComment = true
				field = field[1:]

			case strings.HasPrefix(field, "("):
				game.depth++
				field = field[1:]

			case strings.HasPrefix(field, ")"):
				game.depth--
				field = field[1:]

			default:
				token := field
				if i := strings.IndexAny(field, "{()"); i >= 0 {
					token, field = field[:i], field[i:]
				} else {
					field = ""
				}

				token = strings.TrimSpace(token)
				if token == "" || game.depth > 0 {
					continue
				}
				if resultTokens[token] {
					if game.tags["Result"] == "" {
						game.tags["Result"] = token
					}
					return ret, true
				}
				if strings.HasPrefix(token, "$") {
					continue
				}
				token = strings.TrimRight(token, ")")
				if san := stripMoveNumber(token); san != "" {
					ret = append(ret, san)
				}
			}
		}
	}
	return ret, false
}

// stripMoveNumber removes a leading "12." or "12..." prefix, returning the SAN part.
func stripMoveNumber(token string) string {
	i := 0
	for i < len(token) && '0' <= token[i] && token[i] <= '9' {
		i++
	}
	if i == 0 {
		return token
	}
	rest := strings.TrimLeft(token[i:], ".")
	return rest
}

// pgnPlyIterator replays SAN tokens against the running position.
type pgnPlyIterator struct {
	pos    *board.Position
	prev   *board.Position
	move   board.Move
	tokens []string
	err    error
}

func (it *pgnPlyIterator) Next() bool {
	if it.err != nil || len(it.tokens) == 0 {
		return false
	}

	token := it.tokens[0]
	it.tokens = it.tokens[1:]

	m, ok := resolveSAN(it.pos, token)
	if !ok {
		it.err = fmt.Errorf("%w: unresolvable move %q", ErrPGNSyntax, token)
		return false
	}

	next, ok := it.pos.Apply(m)
	if !ok {
		it.err = fmt.Errorf("%w: illegal move %q", ErrPGNSyntax, token)
		return false
	}

	it.prev, it.move, it.pos = it.pos, m, next
	return true
}

func (it *pgnPlyIterator) Prev() *board.Position     { return it.prev }
func (it *pgnPlyIterator) Move() board.Move          { return it.move }
func (it *pgnPlyIterator) Position() *board.Position { return it.pos }
func (it *pgnPlyIterator) Err() error                { return it.err }

// resolveSAN matches a SAN token against the legal moves of the position by rendering
// each candidate. Writer and reader thereby share one enumeration, and disambiguation
// comes out correct by construction.
func resolveSAN(pos *board.Position, token string) (board.Move, bool) {
	token = strings.TrimRight(token, "+#!?")

	moves := pos.LegalMoves()
	for _, m := range moves {
		if sanOf(pos, m, moves) == token {
			return m, true
		}
	}
	return board.Move{}, false
}

// sanOf renders a move in Standard Algebraic Notation, without check decorations.
func sanOf(pos *board.Position, m board.Move, legal []board.Move) string {
	switch m.Type {
	case board.KingSideCastle:
		return "O-O"
	case board.QueenSideCastle:
		return "O-O-O"
	}

	var sb strings.Builder

	if m.Piece != board.Pawn {
		sb.WriteString(strings.ToUpper(m.Piece.String()))
		sb.WriteString(disambiguation(m, legal))
	}

	if m.Type.IsCapture() {
		if m.Piece == board.Pawn {
			sb.WriteString(m.From.File().String())
		}
		sb.WriteString("x")
	}

	sb.WriteString(strings.ToLower(m.To.String()))

	if m.Promotion.IsValid() {
		sb.WriteString("=")
		sb.WriteString(strings.ToUpper(m.Promotion.String()))
	}
	return sb.String()
}

// disambiguation returns the minimal from-square qualifier for an officer move: file
// first, then rank, then both.
func disambiguation(m board.Move, legal []board.Move) string {
	sameFile, sameRank, ambiguous := false, false, false
	for _, o := range legal {
		if o.Piece != m.Piece || o.To != m.To || o.From == m.From {
			continue
		}
		ambiguous = true
		if o.From.File() == m.From.File() {
			sameFile = true
		}
		if o.From.Rank() == m.From.Rank() {
			sameRank = true
		}
	}

	switch {
	case !ambiguous:
		return ""
	case !sameFile:
		return m.From.File().String()
	case !sameRank:
		return m.From.Rank().String()
	default:
		return strings.ToLower(m.From.String())
	}
}

package bcgn

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/board/fen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundtrip(t *testing.T) {
	h := Header{Version: Version, Compression: CompressionIndex}
	decoded, err := DecodeHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestHeaderInvalid(t *testing.T) {
	base := Header{Version: Version, Compression: CompressionLong}.Encode()

	bad := append([]byte{}, base...)
	copy(bad, "BCGX")
	_, err := DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad = append([]byte{}, base...)
	bad[4] = 9 // version
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad = append([]byte{}, base...)
	bad[5] = 7 // compression
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad = append([]byte{}, base...)
	bad[6] = 1 // aux reserved
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad = append([]byte{}, base...)
	bad[20] = 1 // reserved
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestReaderInvalidMagic(t *testing.T) {
	ctx := context.Background()

	buf := Header{Version: Version, Compression: CompressionLong}.Encode()
	copy(buf, "BCGX")

	_, err := NewReader(ctx, bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestCompressPositionRoundtrip(t *testing.T) {
	tests := []string{
		fen.Initial,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		"rnbqkbnr/pp1ppppp/8/8/2pPP3/8/PPP2PPP/RNBQKBNR b KQkq d3 0 2",
		"r3k2r/8/8/8/8/8/8/R3K2R b KQkq - 0 1",
		"8/8/8/4k3/8/8/4P3/4K3 w - - 0 40",
		"4k3/8/8/8/8/8/8/2QRKR2 b - - 0 1",
	}

	for _, tt := range tests {
		pos, _, _, err := fen.Decode(tt)
		require.NoError(t, err)

		cp := CompressPosition(pos)
		decoded, err := DecompressPosition(cp[:])
		require.NoError(t, err, "decompress %v", tt)

		assert.Equal(t, pos.Zobrist(), decoded.Zobrist(), "position %v", tt)
		assert.Equal(t, pos.SideToMove(), decoded.SideToMove(), "turn %v", tt)
		assert.Equal(t, pos.Castling(), decoded.Castling(), "castling %v", tt)
	}
}

func writeGames(t *testing.T, comp Compression, games int, plies int, seed int64) *bytes.Buffer {
	t.Helper()
	ctx := context.Background()

	var buf bytes.Buffer
	w, err := NewWriter(ctx, &buf, comp)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(seed))
	for i := 0; i < games; i++ {
		g := w.Game().
			SetWhite("white").SetBlack("black").
			SetEvent("event").SetSite("site").
			SetDate(Date{Year: 2021, Month: 6, Day: 15}).
			SetWhiteElo(2000).SetBlackElo(1950).
			SetResult(board.Draw).
			SetECO(ECO{Category: 'B', Index: 20})

		pos := board.Initial()
		for ply := 0; ply < plies; ply++ {
			moves := pos.LegalMoves()
			if len(moves) == 0 {
				break
			}
			m := moves[r.Intn(len(moves))]
			require.NoError(t, g.PushMove(m))
			pos, _ = pos.Apply(m)
		}
		require.NoError(t, w.EndGame())
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestRoundtrip(t *testing.T) {
	ctx := context.Background()

	for _, comp := range []Compression{CompressionLong, CompressionIndex} {
		buf := writeGames(t, comp, 25, 60, int64(comp)+7)

		r, err := NewReader(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)

		games := 0
		for r.Next() {
			g := r.Game()
			games++

			assert.Equal(t, "white", g.Header.White)
			assert.Equal(t, board.Draw, g.Header.Result)
			assert.Equal(t, Date{Year: 2021, Month: 6, Day: 15}, g.Header.Date)
			assert.Equal(t, uint16(2000), g.Header.WhiteElo)

			plies := 0
			it := g.Positions()
			for it.Next() {
				plies++
			}
			require.NoError(t, it.Err())
			assert.Equal(t, int(g.Header.PlyCount), plies)
		}
		require.NoError(t, r.Err())
		assert.Equal(t, 25, games)
		require.NoError(t, r.Close())
	}
}

func TestRoundtripSmallBuffer(t *testing.T) {
	// Exercise the leftover-prefix path: many games with a buffer close to the minimum.
	ctx := context.Background()

	buf := writeGames(t, CompressionLong, 3000, 30, 11)
	require.Greater(t, buf.Len(), MinBufferSize)

	r, err := NewReader(ctx, bytes.NewReader(buf.Bytes()), WithBufferSize(MinBufferSize))
	require.NoError(t, err)

	games := 0
	for r.Next() {
		games++
	}
	require.NoError(t, r.Err())
	assert.Equal(t, 3000, games)
}

func TestEmptyGame(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	w, err := NewWriter(ctx, &buf, CompressionLong)
	require.NoError(t, err)

	w.Game() // no setters, no moves
	require.NoError(t, w.EndGame())
	require.NoError(t, w.Close())

	// Fixed header plus four empty strings.
	assert.Equal(t, FileHeaderSize+gameFixedSize+4, buf.Len())

	r, err := NewReader(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.True(t, r.Next())
	assert.Equal(t, uint16(0), r.Game().Header.PlyCount)
	assert.False(t, r.Next())
	require.NoError(t, r.Err())
}

func TestCustomStartPositionAndTags(t *testing.T) {
	ctx := context.Background()

	start, _, _, err := fen.Decode("8/8/8/4k3/8/8/4P3/4K3 w - - 0 40")
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(ctx, &buf, CompressionIndex)
	require.NoError(t, err)

	g := w.Game().SetStartPosition(start).AddTag("Annotator", "someone")
	m, ok := start.FindLegalMove(board.Move{From: board.E2, To: board.E4})
	require.True(t, ok)
	require.NoError(t, g.PushMove(m))
	require.NoError(t, w.EndGame())
	require.NoError(t, w.Close())

	r, err := NewReader(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.True(t, r.Next())

	got := r.Game()
	require.NotNil(t, got.Header.StartPosition)
	assert.Equal(t, start.Zobrist(), got.Header.StartPosition.Zobrist())
	assert.Equal(t, []Tag{{"Annotator", "someone"}}, got.Header.Tags)

	it := got.Positions()
	require.True(t, it.Next())
	assert.Equal(t, m, it.Move())
	assert.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestGameTooLong(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	w, err := NewWriter(ctx, &buf, CompressionLong)
	require.NoError(t, err)

	g := w.Game()
	for i := 0; i < 200; i++ {
		g.AddTag(strings.Repeat("k", 255), strings.Repeat("v", 255))
	}
	err = w.EndGame()
	assert.ErrorIs(t, err, ErrGameTooLong)

	// The writer remains usable after a reset.
	w.ResetGame()
	w.Game().SetWhite("ok")
	require.NoError(t, w.EndGame())
	require.NoError(t, w.Close())
}

func TestTruncatedFile(t *testing.T) {
	ctx := context.Background()

	buf := writeGames(t, CompressionLong, 3, 30, 13)
	data := buf.Bytes()[:buf.Len()-5]

	r, err := NewReader(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	for r.Next() {
	}
	assert.ErrorIs(t, r.Err(), ErrTruncated)
}

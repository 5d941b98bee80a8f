package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/herohde/posdb/pkg/bcgn"
	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/codec"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/seekerror/logw"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ImportStats summarizes one import.
type ImportStats struct {
	Files        int64 `json:"files"`
	Games        int64 `json:"games"`
	SkippedGames int64 `json:"skippedGames"`
	Positions    int64 `json:"positions"`
}

// Import ingests PGN or BCGN files at the given level. With more than one configured
// thread, the input files are partitioned into blocks processed by parallel workers;
// completed files are retained even if a worker fails (append-only semantics).
func (d *DB) Import(ctx context.Context, paths []string, level entry.Level) (ImportStats, error) {
	var games, skipped, positions atomic.Int64

	workers := d.opts.Threads
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		block := paths[w*len(paths)/workers : (w+1)*len(paths)/workers]
		g.Go(func() error {
			ing, err := d.newIngester(gctx, level)
			if err != nil {
				return err
			}

			for _, path := range block {
				st, err := ing.ingestFile(gctx, path)
				games.Add(st.Games)
				skipped.Add(st.SkippedGames)
				positions.Add(st.Positions)
				if err != nil {
					return fmt.Errorf("import %v: %w", path, err)
				}
				logw.Infof(gctx, "Imported %v: %v games (%v skipped), %v positions", path, st.Games, st.SkippedGames, st.Positions)
			}
			return ing.flush(gctx)
		})
	}

	err := g.Wait()

	stats := ImportStats{
		Files:        int64(len(paths)),
		Games:        games.Load(),
		SkippedGames: skipped.Load(),
		Positions:    positions.Load(),
	}
	if err != nil {
		return stats, err
	}
	return stats, d.part.CollectFutureFiles(ctx)
}

// idStride is the file-id block reserved per ingest worker at a time. Workers slot
// their outputs into the partition's ordered file set without id collisions; unused
// tail ids of a block are simply gaps.
const idStride = 64

// ingester accumulates entries into a pooled buffer and hands full buffers to the
// store pipeline, using pre-reserved file-id blocks.
type ingester struct {
	d     *DB
	level entry.Level
	buf   []entry.Entry

	idBase  uint32
	idsLeft uint32
}

func (d *DB) newIngester(ctx context.Context, level entry.Level) (*ingester, error) {
	buf, err := d.part.Pipeline().GetEmptyBuffer(ctx)
	if err != nil {
		return nil, err
	}
	return &ingester{d: d, level: level, buf: buf}, nil
}

func (ing *ingester) emit(ctx context.Context, e entry.Entry) error {
	ing.buf = append(ing.buf, e)
	if len(ing.buf) < cap(ing.buf) {
		return nil
	}
	return ing.flush(ctx)
}

func (ing *ingester) nextFileID() uint32 {
	if ing.idsLeft == 0 {
		ing.idBase = ing.d.part.ReserveIDs(idStride)
		ing.idsLeft = idStride
	}
	id := ing.idBase
	ing.idBase++
	ing.idsLeft--
	return id
}

func (ing *ingester) flush(ctx context.Context) error {
	if len(ing.buf) == 0 {
		return nil
	}
	if _, err := ing.d.part.StoreUnorderedWithID(ctx, ing.nextFileID(), ing.buf); err != nil {
		return err
	}

	buf, err := ing.d.part.Pipeline().GetEmptyBuffer(ctx)
	if err != nil {
		return err
	}
	ing.buf = buf
	return nil
}

func (ing *ingester) ingestFile(ctx context.Context, path string) (ImportStats, error) {
	if strings.EqualFold(filepath.Ext(path), ".pgn") {
		return ing.ingestPGN(ctx, path)
	}
	return ing.ingestBCGN(ctx, path)
}

func (ing *ingester) ingestBCGN(ctx context.Context, path string) (ImportStats, error) {
	var stats ImportStats

	f, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	r, err := bcgn.NewReader(ctx, f)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	for r.Next() {
		g := r.Game()

		ok, err := ing.ingestGame(ctx, &g.Header, g.Positions())
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.SkippedGames++
			continue
		}
		stats.Games++
		stats.Positions += int64(g.Header.PlyCount) + 1
	}
	return stats, r.Err()
}

// plyIterator is the per-game position source shared by the BCGN and PGN paths.
type plyIterator interface {
	Next() bool
	Prev() *board.Position
	Move() board.Move
	Position() *board.Position
	Err() error
}

// ingestGame emits one entry per position reached, including the start position with a
// null retraction. Returns false iff the game was skipped for a movetext error.
//
// The game's entries are staged locally and only committed, together with its header
// record, once the whole game has decoded cleanly: a mid-game error must contribute
// nothing to the database, and the shared buffer may flush to an immutable file at
// any point.
func (ing *ingester) ingestGame(ctx context.Context, h *bcgn.GameHeader, it plyIterator) (bool, error) {
	d := ing.d
	eloDiff := int64(h.WhiteElo) - int64(h.BlackElo)

	staged := []entry.Entry{
		entry.New(d.format, h.Start(), nil, ing.level, h.Result, eloDiff, 0),
	}
	for it.Next() {
		rm := codec.NewReverseMove(it.Prev(), it.Move())
		staged = append(staged, entry.New(d.format, it.Position(), &rm, ing.level, h.Result, eloDiff, 0))
	}

	if err := it.Err(); err != nil {
		logw.Warningf(ctx, "Skipped malformed game '%v - %v': %v", h.White, h.Black, err)
		return false, nil
	}

	gameIdx, err := d.registerGame(ing.level, PackedGameHeader{
		Result:   h.Result,
		Date:     h.Date,
		PlyCount: h.PlyCount,
		ECO:      h.ECO,
		Event:    h.Event,
		White:    h.White,
		Black:    h.Black,
	})
	if err != nil {
		return false, err
	}

	for _, e := range staged {
		e.First, e.Last = uint32(gameIdx), uint32(gameIdx)
		if err := ing.emit(ctx, e); err != nil {
			return false, err
		}
	}
	return true, nil
}

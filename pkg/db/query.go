package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/board/fen"
	"github.com/herohde/posdb/pkg/entry"
)

// Request is a JSON query: aggregate statistics for a set of positions, optionally
// filtered by level, optionally grouped by retraction.
type Request struct {
	// Positions are the queried positions, as FEN.
	Positions []RequestPosition `json:"positions"`
	// Levels restricts the aggregation to the named levels. Empty means all.
	Levels []string `json:"levels,omitempty"`
	// Retractions asks, for each position, which reverse moves lead to it and with
	// what statistics.
	Retractions bool `json:"retractions,omitempty"`
	// Headers attaches first/last game headers where the format stores them.
	Headers bool `json:"headers,omitempty"`
}

// RequestPosition is one queried position.
type RequestPosition struct {
	FEN string `json:"fen"`
}

// Response is the JSON answer, one result per requested position.
type Response struct {
	Results []PositionResult `json:"results"`
}

// PositionResult aggregates everything known about one position. A failing position
// reports its errors without poisoning the rest of the response.
type PositionResult struct {
	FEN         string            `json:"fen"`
	Stats       *PositionStats    `json:"stats,omitempty"`
	Retractions []RetractionStats `json:"retractions,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
}

// PositionStats is the aggregate array indexed by level and result.
type PositionStats struct {
	Levels map[string]ResultStats `json:"levels"`
	Total  Aggregate              `json:"total"`
}

// ResultStats maps game results ("1-0" etc) to aggregates.
type ResultStats map[string]Aggregate

// Aggregate is the summed statistics of a set of entries.
type Aggregate struct {
	Count     uint64   `json:"count"`
	EloDiff   int64    `json:"eloDiff"`
	FirstGame *GameRef `json:"firstGame,omitempty"`
	LastGame  *GameRef `json:"lastGame,omitempty"`
}

// GameRef is a resolved game reference.
type GameRef struct {
	Index uint64 `json:"index"`
	White string `json:"white,omitempty"`
	Black string `json:"black,omitempty"`
	Event string `json:"event,omitempty"`
	Date  string `json:"date,omitempty"`
}

// RetractionStats is the aggregate for one reverse move into the position.
type RetractionStats struct {
	Move  string    `json:"move"`
	Stats Aggregate `json:"stats"`
}

// ExecuteQuery answers a request against the partition.
func (d *DB) ExecuteQuery(ctx context.Context, req *Request) (*Response, error) {
	levels, err := parseLevels(req.Levels)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	for _, rp := range req.Positions {
		result := PositionResult{FEN: rp.FEN}

		pos, _, _, err := fen.Decode(rp.FEN)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%v: %v", ErrInvalidQueryPosition, err))
			resp.Results = append(resp.Results, result)
			continue
		}

		result.Stats = d.queryPosition(pos, levels, req.Headers)
		if req.Retractions {
			result.Retractions = d.queryRetractions(pos, levels)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func parseLevels(names []string) (map[entry.Level]bool, error) {
	if len(names) == 0 {
		return nil, nil // all
	}
	ret := map[entry.Level]bool{}
	for _, name := range names {
		level, ok := entry.ParseLevel(name)
		if !ok {
			return nil, fmt.Errorf("%w: level %q", ErrUnsupportedSelector, name)
		}
		ret[level] = true
	}
	return ret, nil
}

// queryPosition aggregates all entries for the position's key, per level and result.
func (d *DB) queryPosition(pos *board.Position, levels map[entry.Level]bool, headers bool) *PositionStats {
	key := d.format.MaskHash(pos.Zobrist())

	type cell struct {
		agg         Aggregate
		first, last uint32
		seen        bool
	}
	var cells [entry.NumLevels][board.NumResults]cell

	d.part.ScanKey(key, func(e entry.Entry) bool {
		if e.Level >= entry.NumLevels {
			return true
		}
		if levels != nil && !levels[e.Level] {
			return true
		}
		c := &cells[e.Level][e.Result]
		c.agg.Count += e.Count
		c.agg.EloDiff += e.EloDiff
		if !c.seen || e.First < c.first {
			c.first = e.First
		}
		if !c.seen || e.Last > c.last {
			c.last = e.Last
		}
		c.seen = true
		return true
	})

	_, refs := d.format.(entry.Delta) // only Delta rows store game references

	stats := &PositionStats{Levels: map[string]ResultStats{}}
	for level := entry.Human; level <= entry.Server; level++ {
		for result := board.Unknown; result < board.NumResults; result++ {
			c := cells[level][result]
			if !c.seen {
				continue
			}

			if headers && refs {
				c.agg.FirstGame = d.gameRef(level, uint64(c.first))
				c.agg.LastGame = d.gameRef(level, uint64(c.last))
			}

			rs, ok := stats.Levels[level.String()]
			if !ok {
				rs = ResultStats{}
				stats.Levels[level.String()] = rs
			}
			rs[result.String()] = c.agg

			stats.Total.Count += c.agg.Count
			stats.Total.EloDiff += c.agg.EloDiff
		}
	}
	return stats
}

// queryRetractions enumerates the entries around the position's key ignoring the
// reverse-move portion, grouped by reverse move.
func (d *DB) queryRetractions(pos *board.Position, levels map[entry.Level]bool) []RetractionStats {
	key := d.format.MaskHash(pos.Zobrist())

	groups := map[uint32]*Aggregate{}
	d.part.ScanKey(key, func(e entry.Entry) bool {
		if levels != nil && !levels[e.Level] {
			return true
		}
		agg, ok := groups[e.RM]
		if !ok {
			agg = &Aggregate{}
			groups[e.RM] = agg
		}
		agg.Count += e.Count
		agg.EloDiff += e.EloDiff
		return true
	})

	var ret []RetractionStats
	for bits, agg := range groups {
		rm, ok := d.format.UnpackReverseMove(pos, bits)
		name := "-"
		if ok {
			name = rm.Move.String()
		}
		ret = append(ret, RetractionStats{Move: name, Stats: *agg})
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Move < ret[j].Move
	})
	return ret
}

// gameRef resolves a game index against the level's header store.
func (d *DB) gameRef(level entry.Level, gameIdx uint64) *GameRef {
	ref := &GameRef{Index: gameIdx}
	if h, ok := d.headers[level].Lookup(gameIdx); ok {
		ref.White, ref.Black, ref.Event = h.White, h.Black, h.Event
		ref.Date = h.Date.String()
	}
	return ref
}

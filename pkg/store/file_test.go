package store

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func synthEntries(r *rand.Rand, f entry.Format, n int) []entry.Entry {
	entries := make([]entry.Entry, 0, n)
	for i := 0; i < n; i++ {
		e := entry.Entry{
			Hash:    f.MaskHash(board.ZobristKey{Hi: r.Uint64(), Lo: r.Uint64()}),
			RM:      r.Uint32() & (1<<20 - 1),
			Level:   entry.Level(r.Intn(entry.NumLevels)),
			Result:  board.Result(r.Intn(4)),
			Count:   1,
			EloDiff: int64(r.Intn(400)) - 200,
			First:   uint32(i),
			Last:    uint32(i),
		}
		entries = append(entries, e)
	}
	return entries
}

func writeTestFile(t *testing.T, dir string, f entry.Format, entries []entry.Entry, granularity int) *File {
	t.Helper()

	sorted := entry.SortAndCombine(append([]entry.Entry{}, entries...))
	path := filepath.Join(dir, "0")
	_, err := WriteEntryFile(path, f, sorted, granularity)
	require.NoError(t, err)

	file, err := OpenFile(path, 0, f)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })
	return file
}

func TestFileScanAscending(t *testing.T) {
	r := rand.New(rand.NewSource(31))
	format := entry.Beta{}

	file := writeTestFile(t, t.TempDir(), format, synthEntries(r, format, 5000), 64)
	require.NoError(t, file.Verify())

	var prev entry.Entry
	first := true
	count := 0
	file.Scan(func(e entry.Entry) bool {
		if !first {
			assert.True(t, entry.LessFull(prev, e))
		}
		prev, first = e, false
		count++
		return true
	})
	assert.Equal(t, int(file.Rows()), count)
}

func TestFileScanRange(t *testing.T) {
	r := rand.New(rand.NewSource(32))
	format := entry.Beta{}

	// Few distinct hashes so every range has multiple entries.
	var entries []entry.Entry
	hashes := make([]board.ZobristKey, 16)
	for i := range hashes {
		hashes[i] = format.MaskHash(board.ZobristKey{Hi: r.Uint64(), Lo: r.Uint64()})
	}
	for i := 0; i < 4000; i++ {
		e := entry.Entry{
			Hash:  hashes[r.Intn(len(hashes))],
			RM:    r.Uint32() & (1<<27 - 2),
			Count: 1,
		}
		entries = append(entries, e)
	}

	file := writeTestFile(t, t.TempDir(), format, entries, 32)

	for _, h := range hashes {
		// Reference count by full scan.
		var expected uint64
		file.Scan(func(e entry.Entry) bool {
			if e.Hash == h {
				expected += e.Count
			}
			return true
		})

		var actual uint64
		file.ScanRange(h, func(e entry.Entry) bool {
			assert.Equal(t, h, e.Hash)
			actual += e.Count
			return true
		})
		assert.Equal(t, expected, actual)
	}

	// Absent key yields nothing.
	absent := format.MaskHash(board.ZobristKey{Hi: 0xdeadbeef, Lo: 0})
	file.ScanRange(absent, func(e entry.Entry) bool {
		t.Errorf("unexpected entry for absent key: %v", e)
		return true
	})
}

func TestSingleEntryFile(t *testing.T) {
	format := entry.Delta{}
	e := entry.Entry{Hash: board.ZobristKey{Hi: 42}, Count: 1, First: 7, Last: 7}

	file := writeTestFile(t, t.TempDir(), format, []entry.Entry{e}, 1024)
	require.NoError(t, file.Verify())

	assert.Equal(t, int64(1), file.Rows())
	require.Len(t, file.Index(), 1)

	found := 0
	file.ScanRange(e.Hash, func(got entry.Entry) bool {
		assert.Equal(t, e, got)
		found++
		return true
	})
	assert.Equal(t, 1, found)
}

func TestWriteEntryFileRejectsNonMonotone(t *testing.T) {
	format := entry.Beta{}
	entries := []entry.Entry{
		{Hash: board.ZobristKey{Hi: 2}, Count: 1},
		{Hash: board.ZobristKey{Hi: 1}, Count: 1},
	}

	dir := t.TempDir()
	_, err := WriteEntryFile(filepath.Join(dir, "0"), format, entries, 0)
	assert.ErrorIs(t, err, ErrNonMonotone)

	// Partial output is not left behind.
	_, err = os.Stat(filepath.Join(dir, "0"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSmearedFormat(t *testing.T) {
	r := rand.New(rand.NewSource(33))
	format := entry.EpsilonSmeared{}

	entries := synthEntries(r, format, 2000)
	for i := range entries {
		entries[i].First, entries[i].Last = 0, 0
		entries[i].Count = uint64(r.Intn(100000)) + 1
		entries[i].EloDiff = int64(r.Intn(10000)) - 5000
	}

	file := writeTestFile(t, t.TempDir(), format, entries, 128)
	require.NoError(t, file.Verify())

	// Rows exceed logical entries: wide counts smear across rows.
	logical := 0
	file.Scan(func(entry.Entry) bool { logical++; return true })
	assert.Greater(t, int(file.Rows()), logical)
}

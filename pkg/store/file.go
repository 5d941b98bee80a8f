// Package store implements the storage engine of the position database: immutable,
// strictly ascending entry files with sparse range indices, the asynchronous store
// pipeline that produces them, and the partition that owns and merges them.
package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/entry"
)

var (
	// ErrNonMonotone indicates an entry file that is not strictly ascending.
	ErrNonMonotone = errors.New("store: non-monotone entry file")
	// ErrCorruptFile indicates an entry or index file with an impossible size, or a
	// range index that is inconsistent with its entries.
	ErrCorruptFile = errors.New("store: corrupt file")
)

// DefaultIndexGranularity is the approximate number of logical entries per sparse
// index slot.
const DefaultIndexGranularity = 1024

// IndexSlot maps a key-without-reverse-move to the byte offset of the first entry with
// that key in the file.
type IndexSlot struct {
	Key    board.ZobristKey
	Offset uint64
}

const indexSlotSize = 24

// RangeIndex is the sparse, ascending key-to-offset index of one entry file.
type RangeIndex []IndexSlot

// bounds returns conservative byte offsets [start, end) within which every entry whose
// hash equals key must lie. size is the entry file size.
func (ri RangeIndex) bounds(key board.ZobristKey, size int64) (int64, int64) {
	// Start at the greatest slot strictly below the key, or at the file start if there
	// is none: the key's run, if present, begins at or after that offset.
	i := sort.Search(len(ri), func(i int) bool {
		return !ri[i].Key.Less(key)
	})

	start := int64(0)
	if i > 0 {
		start = int64(ri[i-1].Offset)
	}

	end := size
	for ; i < len(ri); i++ {
		if key.Less(ri[i].Key) {
			end = int64(ri[i].Offset)
			break
		}
	}
	return start, end
}

// Encode serializes the index: M x (16-byte key, u64 offset), big-endian, ascending.
func (ri RangeIndex) Encode() []byte {
	buf := make([]byte, 0, len(ri)*indexSlotSize)
	var tmp [indexSlotSize]byte
	for _, slot := range ri {
		binary.BigEndian.PutUint64(tmp[0:], slot.Key.Hi)
		binary.BigEndian.PutUint64(tmp[8:], slot.Key.Lo)
		binary.BigEndian.PutUint64(tmp[16:], slot.Offset)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// DecodeRangeIndex parses an index file payload.
func DecodeRangeIndex(buf []byte) (RangeIndex, error) {
	if len(buf)%indexSlotSize != 0 {
		return nil, fmt.Errorf("%w: index size %v", ErrCorruptFile, len(buf))
	}

	ret := make(RangeIndex, 0, len(buf)/indexSlotSize)
	for i := 0; i < len(buf); i += indexSlotSize {
		ret = append(ret, IndexSlot{
			Key: board.ZobristKey{
				Hi: binary.BigEndian.Uint64(buf[i:]),
				Lo: binary.BigEndian.Uint64(buf[i+8:]),
			},
			Offset: binary.BigEndian.Uint64(buf[i+16:]),
		})
	}
	return ret, nil
}

// fileWriter streams logical entries to an entry file, building the range index as it
// writes. Output goes to a temporary path and is renamed on Close, so partial files
// are never visible.
type fileWriter struct {
	path        string
	f           *os.File
	w           *bufio.Writer
	format      entry.Format
	granularity int

	index    RangeIndex
	scratch  []byte
	offset   uint64
	count    int64
	prev     entry.Entry
	sinceIdx int
}

func newFileWriter(path string, format entry.Format, granularity int) (*fileWriter, error) {
	if granularity <= 0 {
		granularity = DefaultIndexGranularity
	}

	f, err := os.Create(tmpPath(path))
	if err != nil {
		return nil, fmt.Errorf("create %v: %w", path, err)
	}
	return &fileWriter{
		path:        path,
		f:           f,
		w:           bufio.NewWriterSize(f, 1<<20),
		format:      format,
		granularity: granularity,
	}, nil
}

// Add appends a logical entry. Entries must arrive in strictly ascending LessFull order.
func (fw *fileWriter) Add(e entry.Entry) error {
	if fw.count > 0 && !entry.LessFull(fw.prev, e) {
		return fmt.Errorf("%w: %v !< %v", ErrNonMonotone, fw.prev, e)
	}
	runStart := fw.count == 0 || e.Hash != fw.prev.Hash
	fw.prev = e

	// Slots are placed only where a new hash begins, so each points at the first
	// entry with its key.
	if runStart && (fw.count == 0 || fw.sinceIdx >= fw.granularity) {
		fw.index = append(fw.index, IndexSlot{Key: e.Hash, Offset: fw.offset})
		fw.sinceIdx = 0
	}
	fw.sinceIdx++
	fw.count++

	fw.scratch = fw.format.AppendEntry(fw.scratch[:0], e)
	n, err := fw.w.Write(fw.scratch)
	fw.offset += uint64(n)
	if err != nil {
		return fmt.Errorf("write %v: %w", fw.path, err)
	}
	return nil
}

// Close flushes, writes the index file and moves both into place. On error the partial
// output is unlinked.
func (fw *fileWriter) Close() (RangeIndex, error) {
	err := fw.w.Flush()
	if err == nil {
		err = fw.f.Sync()
	}
	if cerr := fw.f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.WriteFile(tmpPath(indexPath(fw.path)), fw.index.Encode(), 0644)
	}
	if err == nil {
		err = os.Rename(tmpPath(fw.path), fw.path)
	}
	if err == nil {
		err = os.Rename(tmpPath(indexPath(fw.path)), indexPath(fw.path))
	}

	if err != nil {
		fw.Abort()
		return nil, err
	}
	return fw.index, nil
}

// Abort discards the partial output.
func (fw *fileWriter) Abort() {
	_ = fw.f.Close()
	_ = os.Remove(tmpPath(fw.path))
	_ = os.Remove(tmpPath(indexPath(fw.path)))
}

// WriteEntryFile writes sorted, combined entries as one immutable file with its range
// index. Used for direct stores and by the pipeline writer.
func WriteEntryFile(path string, format entry.Format, entries []entry.Entry, granularity int) (RangeIndex, error) {
	fw, err := newFileWriter(path, format, granularity)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := fw.Add(e); err != nil {
			fw.Abort()
			return nil, err
		}
	}
	return fw.Close()
}

func tmpPath(path string) string {
	return path + ".tmp"
}

func indexPath(path string) string {
	return path + ".idx"
}

// File is an immutable, memory-mapped entry file with its sparse range index. Safe for
// concurrent readers.
type File struct {
	id   uint32
	path string

	f      *os.File
	data   mmap.MMap
	format entry.Format
	index  RangeIndex
}

// OpenFile maps an entry file and reads its range index.
func OpenFile(path string, id uint32, format entry.Format) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size()%int64(format.RowSize()) != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v bytes is not whole rows of %v", ErrCorruptFile, info.Size(), format.RowSize())
	}

	var data mmap.MMap
	if info.Size() > 0 {
		data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap %v: %w", path, err)
		}
	}

	raw, err := os.ReadFile(indexPath(path))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read index: %w", err)
	}
	index, err := DecodeRangeIndex(raw)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{id: id, path: path, f: f, data: data, format: format, index: index}, nil
}

// ID returns the file's partition-unique id.
func (f *File) ID() uint32 {
	return f.id
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Size returns the entry payload size in bytes.
func (f *File) Size() int64 {
	return int64(len(f.data))
}

// Rows returns the number of physical rows.
func (f *File) Rows() int64 {
	return int64(len(f.data)) / int64(f.format.RowSize())
}

// Index returns the sparse range index.
func (f *File) Index() RangeIndex {
	return f.index
}

// At decodes the logical entry starting at the given byte offset.
func (f *File) At(offset int64) (entry.Entry, int64) {
	e, n := f.format.DecodeEntry(f.data[offset:])
	return e, int64(n)
}

// Scan iterates all logical entries in order. Stops early if fn returns false.
func (f *File) Scan(fn func(entry.Entry) bool) {
	for off := int64(0); off < f.Size(); {
		e, n := f.At(off)
		if !fn(e) {
			return
		}
		off += n
	}
}

// ScanRange iterates all logical entries whose hash equals key, using the sparse index
// for a bounded lookup. Stops early if fn returns false.
func (f *File) ScanRange(key board.ZobristKey, fn func(entry.Entry) bool) {
	start, end := f.index.bounds(key, f.Size())

	for off := start; off < end; {
		e, n := f.At(off)
		off += n

		if e.Hash == key {
			if !fn(e) {
				return
			}
		} else if key.Less(e.Hash) {
			return
		}
	}
}

// Close unmaps and closes the file.
func (f *File) Close() error {
	var err error
	if f.data != nil {
		err = f.data.Unmap()
		f.data = nil
	}
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Remove closes and deletes the file and its index.
func (f *File) Remove() error {
	err := f.Close()
	if rerr := os.Remove(f.path); err == nil {
		err = rerr
	}
	if rerr := os.Remove(indexPath(f.path)); err == nil {
		err = rerr
	}
	return err
}

// Verify checks that the file is strictly ascending and that its range index is
// consistent with the entry payload.
func (f *File) Verify() error {
	var prev entry.Entry
	first := true
	slot := 0

	for off := int64(0); off < f.Size(); {
		e, n := f.At(off)

		if !first && !entry.LessFull(prev, e) {
			return fmt.Errorf("%w: at offset %v", ErrNonMonotone, off)
		}

		if slot < len(f.index) && f.index[slot].Offset == uint64(off) {
			if f.index[slot].Key != e.Hash {
				return fmt.Errorf("%w: index slot %v key mismatch at offset %v", ErrCorruptFile, slot, off)
			}
			slot++
		} else if slot < len(f.index) && f.index[slot].Offset < uint64(off) {
			return fmt.Errorf("%w: index slot %v points inside an entry", ErrCorruptFile, slot)
		}

		prev, first = e, false
		off += n
	}

	if slot != len(f.index) {
		return fmt.Errorf("%w: %v unused index slots", ErrCorruptFile, len(f.index)-slot)
	}
	if f.Size() > 0 && len(f.index) == 0 {
		return fmt.Errorf("%w: missing index", ErrCorruptFile)
	}
	return nil
}

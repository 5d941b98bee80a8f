package db

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/herohde/posdb/pkg/bcgn"
	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/seekerror/stdlib/pkg/lang"
)

// PackedGameHeader is one record of a per-level game header store. It translates a game
// index into human-readable metadata on query. On disk:
//
//	u64 gameIdx
//	u8  payloadSize (of this record)
//	u8  resultCode (0..3)
//	u16 year, u8 month, u8 day
//	u16 plyCount (0xFFFF = unknown)
//	u16 eco (category, index)
//	(u8 len)(bytes) for event, white, black
type PackedGameHeader struct {
	GameIdx  uint64
	Result   board.Result
	Date     bcgn.Date
	PlyCount uint16
	ECO      bcgn.ECO

	Event, White, Black string
}

const (
	headerFixedSize = 18
	// PlyCountUnknown marks an unknown ply count.
	PlyCountUnknown uint16 = 0xFFFF
)

func (h PackedGameHeader) encode() []byte {
	// The payload size is a single byte; string fields are truncated to fit.
	event, white, black := h.Event, h.White, h.Black
	for budget := 255 - headerFixedSize - 3; len(event)+len(white)+len(black) > budget; {
		longest := &event
		if len(*longest) < len(white) {
			longest = &white
		}
		if len(*longest) < len(black) {
			longest = &black
		}
		*longest = (*longest)[:len(*longest)/2]
	}

	size := headerFixedSize + 3 + len(event) + len(white) + len(black)
	buf := make([]byte, 0, size)

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], h.GameIdx)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(size), byte(h.Result))
	binary.BigEndian.PutUint16(tmp[:], h.Date.Year)
	buf = append(buf, tmp[0], tmp[1], h.Date.Month, h.Date.Day)
	binary.BigEndian.PutUint16(tmp[:], h.PlyCount)
	buf = append(buf, tmp[0], tmp[1])
	buf = append(buf, h.ECO.Category, h.ECO.Index)

	for _, s := range []string{event, white, black} {
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeGameHeader(buf []byte) (PackedGameHeader, error) {
	if len(buf) < headerFixedSize+3 {
		return PackedGameHeader{}, fmt.Errorf("short game header: %v bytes", len(buf))
	}

	h := PackedGameHeader{
		GameIdx:  binary.BigEndian.Uint64(buf),
		Result:   board.Result(buf[9]),
		Date:     bcgn.Date{Year: binary.BigEndian.Uint16(buf[10:]), Month: buf[12], Day: buf[13]},
		PlyCount: binary.BigEndian.Uint16(buf[14:]),
		ECO:      bcgn.ECO{Category: buf[16], Index: buf[17]},
	}

	rest := buf[headerFixedSize:]
	for _, dst := range []*string{&h.Event, &h.White, &h.Black} {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return PackedGameHeader{}, fmt.Errorf("short game header string")
		}
		*dst = string(rest[1 : 1+rest[0]])
		rest = rest[1+rest[0]:]
	}
	return h, nil
}

// HeaderStore is an append-only game header store: a variable-length payload file plus
// a fixed-length offset index with one u64 per record. Records are appended in game
// index order, so lookups are binary searches over the offset index.
type HeaderStore struct {
	payloadPath, indexPath string

	mu      sync.Mutex
	payload *os.File
	index   *os.File
	offset  uint64
	count   int64
	lastIdx uint64
}

// OpenHeaderStore opens or creates the header store for a level, e.g. "_human".
func OpenHeaderStore(dir string, level entry.Level) (*HeaderStore, error) {
	base := filepath.Join(dir, "_"+level.String())

	payload, err := os.OpenFile(base, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	index, err := os.OpenFile(base+".idx", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		_ = payload.Close()
		return nil, err
	}

	hs := &HeaderStore{payloadPath: base, indexPath: base + ".idx", payload: payload, index: index}

	pinfo, err := payload.Stat()
	if err != nil {
		_ = hs.Close()
		return nil, err
	}
	iinfo, err := index.Stat()
	if err != nil {
		_ = hs.Close()
		return nil, err
	}
	hs.offset = uint64(pinfo.Size())
	hs.count = iinfo.Size() / 8

	if hs.count > 0 {
		last, err := hs.At(hs.count - 1)
		if err != nil {
			_ = hs.Close()
			return nil, err
		}
		hs.lastIdx = last.GameIdx
	}
	return hs, nil
}

// Append adds a header record. Game indices must be appended in ascending order.
func (hs *HeaderStore) Append(h PackedGameHeader) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.appendLocked(h)
}

// AppendWith allocates a game index and appends its record under one critical section,
// so that concurrent appenders cannot interleave allocation and append out of order.
func (hs *HeaderStore) AppendWith(alloc func() uint64, h PackedGameHeader) (uint64, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	h.GameIdx = alloc()
	return h.GameIdx, hs.appendLocked(h)
}

func (hs *HeaderStore) appendLocked(h PackedGameHeader) error {
	rec := h.encode()
	if _, err := hs.payload.WriteAt(rec, int64(hs.offset)); err != nil {
		return err
	}

	var off [8]byte
	binary.BigEndian.PutUint64(off[:], hs.offset)
	if _, err := hs.index.WriteAt(off[:], hs.count*8); err != nil {
		return err
	}

	hs.offset += uint64(len(rec))
	hs.count++
	hs.lastIdx = h.GameIdx
	return nil
}

// Count returns the number of records.
func (hs *HeaderStore) Count() int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.count
}

// LastGameIdx returns the largest appended game index, if any.
func (hs *HeaderStore) LastGameIdx() lang.Optional[uint64] {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.count == 0 {
		return lang.Optional[uint64]{}
	}
	return lang.Some(hs.lastIdx)
}

// At reads the n'th record.
func (hs *HeaderStore) At(n int64) (PackedGameHeader, error) {
	var off [8]byte
	if _, err := hs.index.ReadAt(off[:], n*8); err != nil {
		return PackedGameHeader{}, err
	}
	offset := int64(binary.BigEndian.Uint64(off[:]))

	var rec [255]byte
	m, err := hs.payload.ReadAt(rec[:], offset)
	if m < headerFixedSize+3 && err != nil {
		return PackedGameHeader{}, err
	}
	return decodeGameHeader(rec[:m])
}

// Lookup finds the record for a game index, by binary search.
func (hs *HeaderStore) Lookup(gameIdx uint64) (PackedGameHeader, bool) {
	hs.mu.Lock()
	count := hs.count
	hs.mu.Unlock()

	var found *PackedGameHeader
	sort.Search(int(count), func(i int) bool {
		h, err := hs.At(int64(i))
		if err != nil {
			return true
		}
		if h.GameIdx == gameIdx {
			found = &h
		}
		return h.GameIdx >= gameIdx
	})

	if found == nil {
		return PackedGameHeader{}, false
	}
	return *found, true
}

// Size returns the payload size in bytes.
func (hs *HeaderStore) Size() int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return int64(hs.offset)
}

// Close closes both files.
func (hs *HeaderStore) Close() error {
	err := hs.payload.Close()
	if cerr := hs.index.Close(); err == nil {
		err = cerr
	}
	return err
}

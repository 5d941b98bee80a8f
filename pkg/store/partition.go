package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/btree"
	"github.com/herohde/posdb/pkg/board"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/seekerror/logw"
)

// ErrFileIDCollision indicates two partition files with the same id.
var ErrFileIDCollision = errors.New("store: file id collision")

// maxMergeFanIn bounds the number of files merged in one round, which bounds the peak
// temp-dir footprint of a round to the size of its inputs.
const maxMergeFanIn = 64

// fileSlot is one id slot of the partition: either a resolved file or a pending future.
type fileSlot struct {
	id     uint32
	file   *File
	future *FutureFile
}

// FutureFile is a placeholder for a file being produced by the pipeline. It keeps id
// allocation monotone by registration time under concurrent stores.
type FutureFile struct {
	ID     uint32
	Path   string
	Future Future
}

// Partition owns a directory of immutable entry files with unique, monotonically
// assigned numeric ids, and the pipeline that produces new ones. Files are only ever
// created by stores and merges, and destroyed by the merge that replaced them.
type Partition struct {
	path   string
	format entry.Format
	pl     *Pipeline

	mu     sync.Mutex
	files  *btree.BTreeG[*fileSlot]
	nextID uint32
}

// NewPartition opens (or creates) the partition directory, attaching any existing
// entry files.
func NewPartition(ctx context.Context, path string, format entry.Format, opt PipelineOptions) (*Partition, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}

	p := &Partition{
		path:   path,
		format: format,
		pl:     NewPipeline(ctx, format, opt),
		files:  btree.NewG(8, func(a, b *fileSlot) bool { return a.id < b.id }),
	}

	list, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, de := range list {
		id, err := strconv.ParseUint(de.Name(), 10, 32)
		if err != nil {
			continue // index, manifest, lock or foreign file
		}

		f, err := OpenFile(filepath.Join(path, de.Name()), uint32(id), format)
		if err != nil {
			return nil, fmt.Errorf("open file %v: %w", de.Name(), err)
		}
		if _, found := p.files.ReplaceOrInsert(&fileSlot{id: f.ID(), file: f}); found {
			return nil, fmt.Errorf("%w: %v", ErrFileIDCollision, f.ID())
		}
		if uint32(id) >= p.nextID {
			p.nextID = uint32(id) + 1
		}
	}

	logw.Infof(ctx, "Partition %v: %v files, next id %v", path, p.files.Len(), p.nextID)
	return p, nil
}

// Pipeline returns the partition's store pipeline.
func (p *Partition) Pipeline() *Pipeline {
	return p.pl
}

// Path returns the partition directory.
func (p *Partition) Path() string {
	return p.path
}

// NextID allocates the next file id. Monotone by registration time.
func (p *Partition) NextID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocID()
}

func (p *Partition) allocID() uint32 {
	id := p.nextID
	p.nextID++
	return id
}

// ReserveIDs reserves a contiguous block of ids, for parallel ingest workers that slot
// their outputs into the partition without collisions.
func (p *Partition) ReserveIDs(n uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID += n
	return id
}

// StoreUnordered schedules a buffer of entries as a new file via the pipeline. The
// placeholder is registered immediately under the allocated id.
func (p *Partition) StoreUnordered(ctx context.Context, entries []entry.Entry) (*FutureFile, error) {
	p.mu.Lock()
	id := p.allocID()
	p.mu.Unlock()

	return p.storeWithID(ctx, id, entries, false)
}

// StoreUnorderedWithID is StoreUnordered against a pre-reserved id.
func (p *Partition) StoreUnorderedWithID(ctx context.Context, id uint32, entries []entry.Entry) (*FutureFile, error) {
	return p.storeWithID(ctx, id, entries, false)
}

// StoreOrdered writes already-sorted, already-combined entries as one new file.
func (p *Partition) StoreOrdered(ctx context.Context, entries []entry.Entry) (*FutureFile, error) {
	p.mu.Lock()
	id := p.allocID()
	p.mu.Unlock()

	return p.storeWithID(ctx, id, entries, true)
}

func (p *Partition) storeWithID(ctx context.Context, id uint32, entries []entry.Entry, ordered bool) (*FutureFile, error) {
	path := filepath.Join(p.path, strconv.FormatUint(uint64(id), 10))

	var fut Future
	var err error
	if ordered {
		fut, err = p.pl.ScheduleOrdered(ctx, path, entries)
	} else {
		fut, err = p.pl.ScheduleUnordered(ctx, path, entries)
	}
	if err != nil {
		return nil, err
	}

	ff := &FutureFile{ID: id, Path: path, Future: fut}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, found := p.files.ReplaceOrInsert(&fileSlot{id: id, future: ff}); found {
		return nil, fmt.Errorf("%w: %v", ErrFileIDCollision, id)
	}
	return ff, nil
}

// CollectFutureFiles waits for all pending placeholders to become real files.
func (p *Partition) CollectFutureFiles(ctx context.Context) error {
	p.mu.Lock()
	var pending []*fileSlot
	p.files.Ascend(func(s *fileSlot) bool {
		if s.future != nil {
			pending = append(pending, s)
		}
		return true
	})
	p.mu.Unlock()

	for _, s := range pending {
		if _, err := s.future.Future.Await(ctx); err != nil {
			return err
		}
		f, err := OpenFile(s.future.Path, s.id, p.format)
		if err != nil {
			return err
		}

		p.mu.Lock()
		s.file, s.future = f, nil
		p.mu.Unlock()
	}
	return nil
}

// Files returns the resolved files in id order.
func (p *Partition) Files() []*File {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ret []*File
	p.files.Ascend(func(s *fileSlot) bool {
		if s.file != nil {
			ret = append(ret, s.file)
		}
		return true
	})
	return ret
}

// Rows returns the total number of physical rows across resolved files.
func (p *Partition) Rows() int64 {
	var ret int64
	for _, f := range p.Files() {
		ret += f.Rows()
	}
	return ret
}

// ScanKey iterates, across all files, every entry whose hash equals the key.
func (p *Partition) ScanKey(key board.ZobristKey, fn func(entry.Entry) bool) {
	for _, f := range p.Files() {
		stop := false
		f.ScanRange(key, func(e entry.Entry) bool {
			if !fn(e) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// MergeAll merges all files of the partition into one, in rounds of bounded fan-in.
// Intermediate outputs are written to the temp dirs (round-robin); inputs are deleted
// at the end of the round that consumed them. The final output is written into the
// partition under a fresh id.
func (p *Partition) MergeAll(ctx context.Context, tempDirs []string, progress ProgressFunc) error {
	return p.mergeAll(ctx, p.path, tempDirs, progress, true)
}

// ReplicateMergeAll merges all files into a single file "0" (plus index) in dest,
// leaving the partition's inputs untouched.
func (p *Partition) ReplicateMergeAll(ctx context.Context, dest string, tempDirs []string, progress ProgressFunc) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return p.mergeAll(ctx, dest, tempDirs, progress, false)
}

func (p *Partition) mergeAll(ctx context.Context, dest string, tempDirs []string, progress ProgressFunc, replace bool) error {
	if err := p.CollectFutureFiles(ctx); err != nil {
		return err
	}

	inputs := p.Files()
	if len(inputs) == 0 || (len(inputs) == 1 && replace) {
		return nil
	}
	if len(tempDirs) == 0 {
		tempDirs = []string{p.path}
	}

	// Rows can only shrink under combining, so the input total bounds progress.
	var total int64
	for _, f := range inputs {
		total += f.Rows()
	}
	logw.Infof(ctx, "Merging %v files, %v rows", len(inputs), total)

	var done int64
	tmpSeq := 0

	owned := map[*File]bool{}
	for _, f := range inputs {
		owned[f] = true
	}

	round := append([]*File{}, inputs...)
	for {
		batch := round
		if len(batch) > maxMergeFanIn {
			batch = batch[:maxMergeFanIn]
		}
		rest := round[len(batch):]
		final := len(rest) == 0

		var path string
		if final {
			path = filepath.Join(dest, strconv.FormatUint(uint64(p.NextIDFor(replace)), 10))
		} else {
			path = filepath.Join(tempDirs[tmpSeq%len(tempDirs)], fmt.Sprintf("merge-%v", tmpSeq))
		}
		tmpSeq++

		fw, err := newFileWriter(path, p.format, p.pl.opt.IndexGranularity)
		if err != nil {
			return err
		}
		done, err = mergeFiles(batch, fw, progress, done, total)
		if err != nil {
			fw.Abort()
			return err
		}
		if _, err := fw.Close(); err != nil {
			return err
		}

		// Round end: delete consumed inputs. A replicated merge keeps the partition's
		// own files; intermediates are always consumed.
		for _, f := range batch {
			if owned[f] {
				if !replace {
					continue
				}
				p.removeSlot(f.ID(), f)
			}
			if err := f.Remove(); err != nil {
				logw.Warningf(ctx, "Failed to remove merged input %v: %v", f.Path(), err)
			}
		}

		if final {
			out, err := OpenFile(path, idFromPath(path), p.format)
			if err != nil {
				return err
			}
			if replace {
				p.mu.Lock()
				p.files.ReplaceOrInsert(&fileSlot{id: out.ID(), file: out})
				p.mu.Unlock()
			} else {
				_ = out.Close()
			}
			logw.Infof(ctx, "Merge complete: %v (%v rows in)", path, total)
			return nil
		}

		mid, err := OpenFile(path, uint32(tmpSeq), p.format)
		if err != nil {
			return err
		}
		round = append(append([]*File{}, rest...), mid)
	}
}

// NextIDFor returns a fresh id for a merge output: partition-allocated when replacing,
// zero for a replicated output directory.
func (p *Partition) NextIDFor(replace bool) uint32 {
	if replace {
		return p.NextID()
	}
	return 0
}

// removeSlot detaches the slot for id if it holds the given file. Returns true iff the
// file was owned by the partition.
func (p *Partition) removeSlot(id uint32, f *File) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.files.Get(&fileSlot{id: id}); ok && s.file == f {
		p.files.Delete(&fileSlot{id: id})
		return true
	}
	return false
}

func idFromPath(path string) uint32 {
	id, _ := strconv.ParseUint(filepath.Base(path), 10, 32)
	return uint32(id)
}

// Verify read-checks every file: strict ascending order and index consistency.
func (p *Partition) Verify(ctx context.Context) error {
	for _, f := range p.Files() {
		if err := f.Verify(); err != nil {
			return fmt.Errorf("file %v: %w", f.ID(), err)
		}
	}
	return nil
}

// Close drains the pipeline and closes all files.
func (p *Partition) Close() error {
	err := p.pl.Close()
	for _, f := range p.Files() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

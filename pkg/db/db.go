package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/herohde/posdb/pkg/store"
	"github.com/seekerror/logw"
	"go.uber.org/atomic"
)

const lockName = "LOCK"

// Options are database open options.
type Options struct {
	// Memory is the approximate entry buffer memory budget for ingestion.
	Memory datasize.ByteSize
	// Threads is the number of parallel ingest workers. Default 1.
	Threads int
	// IndexGranularity overrides the range-index spacing of new files.
	IndexGranularity int
}

// Option is a database open option.
type Option func(*Options)

// WithMemory sets the ingest memory budget.
func WithMemory(size datasize.ByteSize) Option {
	return func(o *Options) {
		o.Memory = size
	}
}

// WithThreads sets the parallel ingest worker count.
func WithThreads(n int) Option {
	return func(o *Options) {
		o.Threads = n
	}
}

// DB is an append-only analytical database of chess positions: a single partition of
// immutable entry files plus per-level game header stores, guarded by a lock file
// against concurrent write sessions.
type DB struct {
	path   string
	format entry.Format
	opts   Options

	part    *store.Partition
	headers [entry.NumLevels]*HeaderStore

	nextGame atomic.Uint64
	lock     *os.File
}

// Create initializes an empty database with the given key at path.
func Create(ctx context.Context, key, path string) error {
	format, err := entry.ByName(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownDbKey, err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(path, manifestName)); err == nil {
		return fmt.Errorf("%w: database exists at %v", ErrInvalidManifest, path)
	}
	if err := writeManifest(path, format); err != nil {
		return err
	}

	logw.Infof(ctx, "Created %v database: %v", key, path)
	return nil
}

// Open attaches to a database: loads the manifest, acquires the lock and opens the
// partition and header stores.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	var opt Options
	for _, fn := range opts {
		fn(&opt)
	}
	if opt.Threads <= 0 {
		opt.Threads = 1
	}

	format, err := readManifest(path)
	if err != nil {
		return nil, err
	}

	lock, err := os.OpenFile(filepath.Join(path, lockName), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrLockHeld, filepath.Join(path, lockName))
		}
		return nil, err
	}

	d := &DB{path: path, format: format, opts: opt, lock: lock}

	plOpts := store.PipelineOptions{
		SortWorkers:      opt.Threads,
		IndexGranularity: opt.IndexGranularity,
	}
	if opt.Memory > 0 {
		// Split the budget across the pooled buffers. In-memory entries are larger
		// than their rows; 64 bytes covers every format.
		plOpts.Buffers = 2 * opt.Threads
		plOpts.BufferCap = int(opt.Memory) / (64 * plOpts.Buffers)
		if plOpts.BufferCap < 1024 {
			plOpts.BufferCap = 1024
		}
	}

	d.part, err = store.NewPartition(ctx, path, format, plOpts)
	if err != nil {
		d.release()
		return nil, err
	}

	for level := entry.Human; level <= entry.Server; level++ {
		d.headers[level], err = OpenHeaderStore(path, level)
		if err != nil {
			d.release()
			return nil, err
		}
		if last, ok := d.headers[level].LastGameIdx().V(); ok && last+1 > d.nextGame.Load() {
			d.nextGame.Store(last + 1)
		}
	}

	logw.Infof(ctx, "Opened %v database: %v (%v files, %v games)", format.Name(), path, len(d.part.Files()), d.nextGame.Load())
	return d, nil
}

// Format returns the entry format.
func (d *DB) Format() entry.Format {
	return d.format
}

// Path returns the database root.
func (d *DB) Path() string {
	return d.path
}

// Partition returns the underlying partition.
func (d *DB) Partition() *store.Partition {
	return d.part
}

// Merge compacts the partition's files into one.
func (d *DB) Merge(ctx context.Context, tempDirs []string) error {
	last := int64(-1)
	return d.part.MergeAll(ctx, tempDirs, func(done, total int64) {
		if total > 0 && done*10/total != last {
			last = done * 10 / total
			logw.Infof(ctx, "Merge progress: %v/%v rows", done, total)
		}
	})
}

// Verify read-checks all entry files and the manifest.
func (d *DB) Verify(ctx context.Context) error {
	if _, err := readManifest(d.path); err != nil {
		return err
	}
	return d.part.Verify(ctx)
}

// Info summarizes database contents.
type Info struct {
	Key     string           `json:"key"`
	Files   int              `json:"files"`
	Rows    int64            `json:"rows"`
	Bytes   int64            `json:"bytes"`
	Games   uint64           `json:"games"`
	ByLevel map[string]int64 `json:"gamesByLevel"`
}

// Info returns counts and sizes.
func (d *DB) Info() Info {
	info := Info{
		Key:     d.format.Name(),
		Games:   d.nextGame.Load(),
		ByLevel: map[string]int64{},
	}
	for _, f := range d.part.Files() {
		info.Files++
		info.Rows += f.Rows()
		info.Bytes += f.Size()
	}
	for level := entry.Human; level <= entry.Server; level++ {
		info.ByLevel[level.String()] = d.headers[level].Count()
	}
	return info
}

// registerGame assigns the next game index and appends the header record, as one
// atomic step so that header stores stay sorted by game index.
func (d *DB) registerGame(level entry.Level, h PackedGameHeader) (uint64, error) {
	return d.headers[level].AppendWith(func() uint64 {
		return d.nextGame.Inc() - 1
	}, h)
}

// Close drains the pipeline, closes all files and releases the lock.
func (d *DB) Close(ctx context.Context) error {
	var err error
	if d.part != nil {
		err = d.part.Close()
	}
	for _, hs := range d.headers {
		if hs != nil {
			if cerr := hs.Close(); err == nil {
				err = cerr
			}
		}
	}
	d.release()
	return err
}

func (d *DB) release() {
	if d.lock != nil {
		_ = d.lock.Close()
		_ = os.Remove(filepath.Join(d.path, lockName))
		d.lock = nil
	}
}

// Destroy deletes all database files under path. The database must not be open.
func Destroy(ctx context.Context, path string) error {
	if _, err := os.Stat(filepath.Join(path, manifestName)); err != nil {
		if os.IsNotExist(err) {
			return ErrMissingManifest
		}
		return err
	}
	if _, err := os.Stat(filepath.Join(path, lockName)); err == nil {
		return ErrLockHeld
	}

	logw.Infof(ctx, "Destroying database: %v", path)
	return os.RemoveAll(path)
}

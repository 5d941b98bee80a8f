package store

import (
	"context"
	"errors"
	"sync"

	"github.com/herohde/posdb/pkg/entry"
	"github.com/seekerror/logw"
	"go.uber.org/atomic"
)

// ErrPipelineShutDown indicates a schedule attempt on a closed pipeline.
var ErrPipelineShutDown = errors.New("store: pipeline shut down")

// PipelineOptions configure the store pipeline.
type PipelineOptions struct {
	// SortWorkers is the number of concurrent sort workers. Default 1.
	SortWorkers int
	// Buffers is the number of recycled entry buffers. The pool caps ingestion memory.
	// Default 4.
	Buffers int
	// BufferCap is the entry capacity of each pooled buffer. Default 128k entries.
	BufferCap int
	// QueueDepth bounds the sort and write queues. Default 4.
	QueueDepth int
	// IndexGranularity is the range-index spacing of produced files.
	IndexGranularity int
}

func (o *PipelineOptions) normalize() {
	if o.SortWorkers <= 0 {
		o.SortWorkers = 1
	}
	if o.Buffers <= 0 {
		o.Buffers = 4
	}
	if o.BufferCap <= 0 {
		o.BufferCap = 1 << 17
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 4
	}
	if o.IndexGranularity <= 0 {
		o.IndexGranularity = DefaultIndexGranularity
	}
}

type storeResult struct {
	index RangeIndex
	err   error
}

type storeJob struct {
	path    string
	entries []entry.Entry
	sorted  bool
	promise chan storeResult
}

// Future resolves to the range index of a stored file.
type Future struct {
	c <-chan storeResult
}

// Await blocks until the file is written.
func (f Future) Await(ctx context.Context) (RangeIndex, error) {
	select {
	case res := <-f.c:
		return res.index, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pipeline turns streams of entry buffers into immutable, sorted, range-indexed files
// concurrently with ingestion. Three roles are connected by bounded queues:
//
//	producer -> [sort queue] -> sort workers -> [write queue] -> writer
//
// Producers block when the queues are full; the writer is single-threaded so that write
// order equals schedule order on any single path. Buffers are pooled: GetEmptyBuffer
// blocks until one is free, capping memory use. Close drains in order: sort queue, then
// write queue, then buffer return.
type Pipeline struct {
	format entry.Format
	opt    PipelineOptions

	sortQ  chan *storeJob
	writeQ chan *storeJob
	pool   chan []entry.Entry

	sorters    sync.WaitGroup
	writerDone chan struct{}

	mu     sync.Mutex
	closed atomic.Bool
}

// NewPipeline creates and starts a pipeline.
func NewPipeline(ctx context.Context, format entry.Format, opt PipelineOptions) *Pipeline {
	opt.normalize()

	p := &Pipeline{
		format:     format,
		opt:        opt,
		sortQ:      make(chan *storeJob, opt.QueueDepth),
		writeQ:     make(chan *storeJob, opt.QueueDepth),
		pool:       make(chan []entry.Entry, opt.Buffers),
		writerDone: make(chan struct{}),
	}
	for i := 0; i < opt.Buffers; i++ {
		p.pool <- make([]entry.Entry, 0, opt.BufferCap)
	}

	for i := 0; i < opt.SortWorkers; i++ {
		p.sorters.Add(1)
		go p.sortWorker(ctx)
	}
	go p.writer(ctx)

	logw.Debugf(ctx, "Store pipeline started: %v sorters, %v buffers of %v entries", opt.SortWorkers, opt.Buffers, opt.BufferCap)
	return p
}

// GetEmptyBuffer blocks until a pooled buffer is free.
func (p *Pipeline) GetEmptyBuffer(ctx context.Context) ([]entry.Entry, error) {
	select {
	case buf := <-p.pool:
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ScheduleUnordered schedules a buffer of entries in arbitrary order to be sorted,
// combined and written to path. The buffer is surrendered to the pipeline.
func (p *Pipeline) ScheduleUnordered(ctx context.Context, path string, entries []entry.Entry) (Future, error) {
	return p.schedule(ctx, p.sortQ, &storeJob{path: path, entries: entries, promise: make(chan storeResult, 1)})
}

// ScheduleOrdered schedules an already-sorted, already-combined buffer, skipping the
// sort step. The caller guarantees the ordering.
func (p *Pipeline) ScheduleOrdered(ctx context.Context, path string, entries []entry.Entry) (Future, error) {
	return p.schedule(ctx, p.writeQ, &storeJob{path: path, entries: entries, sorted: true, promise: make(chan storeResult, 1)})
}

func (p *Pipeline) schedule(ctx context.Context, q chan *storeJob, job *storeJob) (Future, error) {
	// The lock pins the closed check to the send, so Close cannot close a queue with a
	// send in flight.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return Future{}, ErrPipelineShutDown
	}

	select {
	case q <- job:
		return Future{c: job.promise}, nil
	case <-ctx.Done():
		return Future{}, ctx.Err()
	}
}

// Close drains the pipeline: no further scheduling is accepted, in-flight buffers are
// sorted and written, and the workers exit.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return nil
	}
	close(p.sortQ)
	p.mu.Unlock()

	p.sorters.Wait()
	close(p.writeQ)
	<-p.writerDone
	return nil
}

func (p *Pipeline) sortWorker(ctx context.Context) {
	defer p.sorters.Done()

	for job := range p.sortQ {
		job.entries = entry.SortAndCombine(job.entries)
		job.sorted = true
		p.writeQ <- job
	}
}

func (p *Pipeline) writer(ctx context.Context) {
	defer close(p.writerDone)

	for job := range p.writeQ {
		index, err := WriteEntryFile(job.path, p.format, job.entries, p.opt.IndexGranularity)
		if err != nil {
			logw.Warningf(ctx, "Store of %v failed: %v", job.path, err)
		}
		job.promise <- storeResult{index: index, err: err}

		// Return the buffer to the pool. Foreign (non-pooled) buffers are dropped if
		// the pool is full.
		select {
		case p.pool <- job.entries[:0]:
		default:
		}
	}
}

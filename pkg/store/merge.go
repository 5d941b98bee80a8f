package store

import (
	"container/heap"

	"github.com/herohde/posdb/pkg/entry"
)

// ProgressFunc reports merge progress as rows consumed out of the total.
type ProgressFunc func(done, total int64)

// mergeCursor walks the logical entries of one input file.
type mergeCursor struct {
	file *File
	off  int64
	cur  entry.Entry
	rows int64 // rows consumed by cur
}

func newMergeCursor(f *File) *mergeCursor {
	c := &mergeCursor{file: f}
	if !c.advance() {
		return nil
	}
	return c
}

func (c *mergeCursor) advance() bool {
	if c.off >= c.file.Size() {
		return false
	}
	e, n := c.file.At(c.off)
	c.cur = e
	c.rows = n / int64(c.file.format.RowSize())
	c.off += n
	return true
}

type cursorHeap []*mergeCursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return entry.LessFull(h[i].cur, h[j].cur) }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*mergeCursor)) }
func (h *cursorHeap) Pop() interface{} {
	n := len(*h)
	ret := (*h)[n-1]
	*h = (*h)[:n-1]
	return ret
}

// mergeFiles performs a k-way merge of the inputs into the writer: a priority queue
// over file cursors keyed by LessFull; equal-full-keyed heads are coalesced via Combine
// so the output contains each logical key exactly once. The inputs must individually be
// strictly ascending; progress is reported in consumed rows against total.
func mergeFiles(inputs []*File, fw *fileWriter, progress ProgressFunc, done, total int64) (int64, error) {
	h := make(cursorHeap, 0, len(inputs))
	for _, f := range inputs {
		if c := newMergeCursor(f); c != nil {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	const progressStep = 1 << 18
	nextReport := done + progressStep

	pop := func() (entry.Entry, bool) {
		if h.Len() == 0 {
			return entry.Entry{}, false
		}
		c := h[0]
		e := c.cur
		done += c.rows
		if c.advance() {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
		return e, true
	}

	acc, ok := pop()
	for ok {
		var next entry.Entry
		next, ok = pop()
		for ok && entry.EqualFull(acc, next) {
			acc = entry.Combine(acc, next)
			next, ok = pop()
		}

		if err := fw.Add(acc); err != nil {
			return done, err
		}
		acc = next

		if progress != nil && done >= nextReport {
			progress(done, total)
			nextReport = done + progressStep
		}
	}

	if progress != nil {
		progress(done, total)
	}
	return done, nil
}

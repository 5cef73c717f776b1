package extsort

import (
	"container/heap"

	"go.uber.org/multierr"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// cursorHeap is a min-heap of cursors ordered by their current key.
type cursorHeap []*recordio.Cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	return h[i].Key().Compare(h[j].Key()) < 0
}

func (h cursorHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *cursorHeap) Push(x any) {
	*h = append(*h, x.(*recordio.Cursor))
}

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}

// merge performs the k-way merge of sorted spills into a new workspace file.
// One cursor per spill is open for the duration of the merge.
func (s *Sorter) merge(spills []string, order records.Ordering) (out recordio.Stream, err error) {
	fs := s.store.Fs()

	cursors := make([]*recordio.Cursor, 0, len(spills))
	closeCursors := func() (cerr error) {
		for _, c := range cursors {
			multierr.AppendInto(&cerr, c.Close())
		}
		cursors = nil
		return cerr
	}
	defer func() {
		if cursors != nil {
			multierr.AppendInto(&err, closeCursors())
			out = recordio.Stream{}
		}
	}()

	h := make(cursorHeap, 0, len(spills))
	for _, path := range spills {
		c, oerr := recordio.OpenCursor(fs, path, order, s.codec)
		if oerr != nil {
			return recordio.Stream{}, oerr
		}
		cursors = append(cursors, c)
		if !c.Exhausted() {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	w, err := recordio.CreateTemp(s.store, "sorted-*", recordio.Plain)
	if err != nil {
		return recordio.Stream{}, err
	}
	defer func() {
		if err != nil {
			_ = w.Abort()
		}
	}()

	for h.Len() > 0 {
		c := heap.Pop(&h).(*recordio.Cursor)
		rec, cerr := c.Consume()
		if cerr != nil {
			return recordio.Stream{}, cerr
		}
		if err = w.Write(rec); err != nil {
			return recordio.Stream{}, err
		}
		if !c.Exhausted() {
			heap.Push(&h, c)
		}
	}
	// The spills are fully read; release them before the output is finished so
	// a failed close still aborts it.
	if err = closeCursors(); err != nil {
		return recordio.Stream{}, err
	}
	return w.Finish(order)
}

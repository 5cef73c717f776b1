// Package extsort sorts record files that do not fit in memory. Input is cut
// into batches bounded by an estimated footprint, each batch is sorted and
// spilled to the workspace, and the spills are merged through a min-heap of
// cursors.
//
// Records with equal keys are emitted in an unspecified order, whether they
// share a batch or not: the sort is not stable. Multiplicity is always
// preserved.
package extsort

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// recordOverhead over-approximates the fixed cost of one buffered record: the
// string header, the batch entry and the key struct.
const recordOverhead = 64

// EstimateSize is the footprint charged against the budget for rec. The
// variable part counts the record text and a possible copy of it in the key.
func EstimateSize(rec string) int64 {
	return recordOverhead + 2*int64(len(rec))
}

// Stats describes one Sort call.
type Stats struct {
	Records int64
	Batches int
}

// Sorter holds immutable settings. The ordering is passed on every call so
// that no sort can silently inherit the ordering of a previous stage.
type Sorter struct {
	store  recordio.Store
	budget int64
	codec  recordio.Codec
}

// Option configures a Sorter.
type Option func(*Sorter)

// WithSpillCodec sets the framing of spilled batches.
func WithSpillCodec(c recordio.Codec) Option {
	return func(s *Sorter) { s.codec = c }
}

// New returns a Sorter that keeps at most budget estimated bytes in memory.
func New(store recordio.Store, budget int64, opts ...Option) *Sorter {
	s := &Sorter{store: store, budget: budget}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Budget is the estimated number of bytes a batch may hold.
func (s *Sorter) Budget() int64 { return s.budget }

type entry struct {
	key records.Key
	rec string
}

// Sort writes the records of in, ordered by order, to a new workspace file.
// The input file is left untouched. On error no output remains and every
// spilled batch has been removed.
func (s *Sorter) Sort(ctx context.Context, in recordio.Stream, order records.Ordering) (out recordio.Stream, stats Stats, err error) {
	log := zerolog.Ctx(ctx)
	fs := s.store.Fs()

	var spills []string
	defer func() {
		for _, p := range spills {
			if rerr := fs.Remove(p); rerr != nil && err == nil {
				err = fmt.Errorf("failed to remove batch %s: %w", p, rerr)
			}
		}
	}()

	r, err := recordio.Open(fs, in.Path, recordio.Plain)
	if err != nil {
		return recordio.Stream{}, stats, err
	}
	defer r.Close()

	var (
		batch []entry
		size  int64
	)
	for r.Next() {
		rec := r.Record()
		key, kerr := order.Key(rec)
		if kerr != nil {
			return recordio.Stream{}, stats, fmt.Errorf("sort %s by %s: %w", in.Path, order.Name, kerr)
		}
		cost := EstimateSize(rec)
		if len(batch) > 0 && size+cost > s.budget {
			if err = ctx.Err(); err != nil {
				return recordio.Stream{}, stats, err
			}
			path, serr := s.spill(batch)
			if serr != nil {
				return recordio.Stream{}, stats, serr
			}
			spills = append(spills, path)
			log.Debug().Str("batch", path).Int("records", len(batch)).Int64("estimate", size).Msg("spilled sorted batch")
			batch = batch[:0]
			size = 0
		}
		batch = append(batch, entry{key: key, rec: rec})
		size += cost
		stats.Records++
	}
	if err = r.Err(); err != nil {
		return recordio.Stream{}, stats, err
	}

	if len(spills) == 0 {
		stats.Batches = 1
		out, err = s.writeBatch(batch, "sorted-*", recordio.Plain, order)
		return out, stats, err
	}

	if len(batch) > 0 {
		path, serr := s.spill(batch)
		if serr != nil {
			return recordio.Stream{}, stats, serr
		}
		spills = append(spills, path)
	}
	batch = nil
	stats.Batches = len(spills)

	out, err = s.merge(spills, order)
	if err != nil {
		return recordio.Stream{}, stats, err
	}
	log.Debug().Str("output", out.Path).Int("batches", stats.Batches).Int64("records", out.Count).Msg("merged sorted batches")
	return out, stats, nil
}

func sortBatch(batch []entry) {
	slices.SortFunc(batch, func(a, b entry) int { return a.key.Compare(b.key) })
}

func (s *Sorter) spill(batch []entry) (string, error) {
	out, err := s.writeBatch(batch, "sorted_batch-*", s.codec, records.Unordered)
	if err != nil {
		return "", err
	}
	return out.Path, nil
}

func (s *Sorter) writeBatch(batch []entry, pattern string, codec recordio.Codec, order records.Ordering) (recordio.Stream, error) {
	sortBatch(batch)
	w, err := recordio.CreateTemp(s.store, pattern, codec)
	if err != nil {
		return recordio.Stream{}, err
	}
	for _, e := range batch {
		if err := w.Write(e.rec); err != nil {
			_ = w.Abort()
			return recordio.Stream{}, err
		}
	}
	return w.Finish(order)
}

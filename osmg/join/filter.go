// Package join implements the two sort-merge joins of the pipeline: a
// semi-join that keeps referenced records and an inner join that rewrites an
// identifier column.
package join

import (
	"fmt"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// Filter keeps the records of input whose key appears in filter. Both streams
// must be sorted by the same ordering. Adjacent equal filter keys count once.
//
// For every distinct filter key the shared input cursor is consumed until the
// first record with that key, which is emitted; later input records with the
// same key are skipped by the next scan. The cursor never rewinds, so a filter
// key without any matching input record drains the rest of the input and no
// later filter key can match. This is correct for deduplicated node tables
// whose every registered id is present; callers with gaps lose records.
func Filter(store recordio.Store, input, filter recordio.Stream) (out recordio.Stream, err error) {
	if err := records.RequireSame("filter", filter.Order, input.Order); err != nil {
		return recordio.Stream{}, err
	}
	fs := store.Fs()

	in, err := recordio.OpenStream(fs, input)
	if err != nil {
		return recordio.Stream{}, err
	}
	defer in.Close()

	keys, err := recordio.OpenStream(fs, filter)
	if err != nil {
		return recordio.Stream{}, err
	}
	defer keys.Close()

	w, err := recordio.CreateTemp(store, "filtered-*", recordio.Plain)
	if err != nil {
		return recordio.Stream{}, err
	}
	defer func() {
		if err != nil {
			_ = w.Abort()
		}
	}()

	var (
		prev    records.Key
		hasPrev bool
	)
	for !keys.Exhausted() {
		key := keys.Key()
		if _, err = keys.Consume(); err != nil {
			return recordio.Stream{}, fmt.Errorf("filter keys %s: %w", filter.Path, err)
		}
		if hasPrev && prev.Compare(key) == 0 {
			continue
		}
		prev, hasPrev = key, true

		for !in.Exhausted() {
			match := in.Key().Compare(key) == 0
			rec, cerr := in.Consume()
			if cerr != nil {
				return recordio.Stream{}, fmt.Errorf("filter input %s: %w", input.Path, cerr)
			}
			if match {
				if err = w.Write(rec); err != nil {
					return recordio.Stream{}, err
				}
				break
			}
		}
	}
	return w.Finish(input.Order)
}

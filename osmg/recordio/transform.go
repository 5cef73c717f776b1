package recordio

import (
	"fmt"

	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// MapFunc rewrites one record. Returning keep=false drops it.
type MapFunc func(rec string) (out string, keep bool, err error)

// Map streams in through fn into a new temporary file tagged with order. The
// caller declares the output ordering because only it knows whether fn
// preserves the input order.
func Map(store Store, in Stream, pattern string, order records.Ordering, fn MapFunc) (out Stream, err error) {
	r, err := Open(store.Fs(), in.Path, Plain)
	if err != nil {
		return Stream{}, err
	}
	defer r.Close()

	w, err := CreateTemp(store, pattern, Plain)
	if err != nil {
		return Stream{}, err
	}
	defer func() {
		if err != nil {
			_ = w.Abort()
		}
	}()

	for r.Next() {
		rec, keep, ferr := fn(r.Record())
		if ferr != nil {
			return Stream{}, fmt.Errorf("failed to transform %s: %w", in.Path, ferr)
		}
		if !keep {
			continue
		}
		if err = w.Write(rec); err != nil {
			return Stream{}, err
		}
	}
	if err = r.Err(); err != nil {
		return Stream{}, err
	}
	return w.Finish(order)
}

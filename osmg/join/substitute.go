package join

import (
	"fmt"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// MappingOrder is the ordering a substitution mapping must be sorted by: the
// old identifier in field 1, the new one in field 0.
var MappingOrder = records.Lexical(1)

// SubstituteStats counts what Substitute did with the target records.
type SubstituteStats struct {
	Emitted int64
	Dropped int64
}

// Substitute replaces field column of every target record with the new id
// the mapping assigns to it. mapping holds newId,oldId[,...] records sorted by
// old id; target must be sorted lexically by column. Target records whose
// value has no mapping entry are dropped, which is how edges that reference
// filtered-out nodes disappear. The result keeps target order but is no
// longer sorted by anything, so it is tagged Unordered.
func Substitute(store recordio.Store, mapping, target recordio.Stream, column int) (out recordio.Stream, stats SubstituteStats, err error) {
	if err := records.RequireSame("substitute mapping", mapping.Order, MappingOrder); err != nil {
		return recordio.Stream{}, stats, err
	}
	joinOrder := records.Lexical(column)
	if err := records.RequireSame("substitute target", target.Order, joinOrder); err != nil {
		return recordio.Stream{}, stats, err
	}
	fs := store.Fs()

	m, err := recordio.OpenStream(fs, mapping)
	if err != nil {
		return recordio.Stream{}, stats, err
	}
	defer m.Close()

	t, err := recordio.Open(fs, target.Path, recordio.Plain)
	if err != nil {
		return recordio.Stream{}, stats, err
	}
	defer t.Close()

	w, err := recordio.CreateTemp(store, "substituted-*", recordio.Plain)
	if err != nil {
		return recordio.Stream{}, stats, err
	}
	defer func() {
		if err != nil {
			_ = w.Abort()
		}
	}()

	for t.Next() {
		rec := t.Record()
		key, kerr := joinOrder.Key(rec)
		if kerr != nil {
			return recordio.Stream{}, stats, fmt.Errorf("substitute target %s: %w", target.Path, kerr)
		}
		for !m.Exhausted() && m.Key().Compare(key) < 0 {
			if _, err = m.Consume(); err != nil {
				return recordio.Stream{}, stats, fmt.Errorf("substitute mapping %s: %w", mapping.Path, err)
			}
		}
		if m.Exhausted() || m.Key().Compare(key) != 0 {
			stats.Dropped++
			continue
		}

		newID, ferr := records.Field(m.Record(), 0)
		if ferr != nil {
			return recordio.Stream{}, stats, ferr
		}
		fields, ferr := records.Split(rec, 0)
		if ferr != nil {
			return recordio.Stream{}, stats, ferr
		}
		fields[column] = newID
		if err = w.Write(records.Join(fields...)); err != nil {
			return recordio.Stream{}, stats, err
		}
		stats.Emitted++
	}
	if err = t.Err(); err != nil {
		return recordio.Stream{}, stats, err
	}
	out, err = w.Finish(records.Unordered)
	return out, stats, err
}

package spatial

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// AssignRecords rewrites id,lat,lon node records to z,id,lat,lon. The output
// is not sorted by z yet.
func AssignRecords(ctx context.Context, store recordio.Store, nodes recordio.Stream) (recordio.Stream, error) {
	out, err := recordio.Map(store, nodes, "zvalues-*", records.Unordered, func(rec string) (string, bool, error) {
		f, err := records.Split(rec, 3)
		if err != nil {
			return "", false, err
		}
		z, err := Assign(f[1], f[2])
		if err != nil {
			return "", false, fmt.Errorf("node %q: %w", rec, err)
		}
		return records.Join(strconv.FormatUint(z, 10), f[0], f[1], f[2]), true, nil
	})
	if err != nil {
		return recordio.Stream{}, err
	}
	zerolog.Ctx(ctx).Debug().Int64("records", out.Count).Msg("assigned z-order values")
	return out, nil
}

// Compact replaces field 0 of a stream sorted by Uint(0) with the record's
// rank, so that z-order values become the dense identifiers 0..N-1. Equal z
// values still get distinct ranks.
func Compact(ctx context.Context, store recordio.Store, zsorted recordio.Stream) (recordio.Stream, error) {
	if err := records.RequireSame("compact", zsorted.Order, records.Uint(0)); err != nil {
		return recordio.Stream{}, err
	}
	var rank uint64
	out, err := recordio.Map(store, zsorted, "compacted-*", records.Uint(0), func(rec string) (string, bool, error) {
		f, err := records.Split(rec, 0)
		if err != nil {
			return "", false, err
		}
		f[0] = strconv.FormatUint(rank, 10)
		rank++
		return records.Join(f...), true, nil
	})
	if err != nil {
		return recordio.Stream{}, err
	}
	zerolog.Ctx(ctx).Debug().Uint64("ids", rank).Msg("compacted identifiers")
	return out, nil
}

// Package verify checks the published graph before it replaces anything: node
// identifiers must be exactly 0..N-1 and every edge endpoint must be a node.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

var ErrIntegrity = errors.New("graph integrity violated")

// Summary describes a verified graph.
type Summary struct {
	Nodes     uint64
	Edges     uint64
	SelfLoops uint64
	// Isolated counts nodes no edge touches.
	Isolated uint64
}

// Graph checks a node stream sorted by Uint(0) and any edge stream.
func Graph(ctx context.Context, fs afero.Fs, nodes, edges recordio.Stream) (Summary, error) {
	if err := records.RequireSame("verify", nodes.Order, records.Uint(0)); err != nil {
		return Summary{}, err
	}

	ids, err := nodeIDs(fs, nodes)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Nodes: ids.GetCardinality()}
	if sum.Nodes > 0 && ids.Maximum() != sum.Nodes-1 {
		return Summary{}, fmt.Errorf("%w: %d node ids but largest is %d", ErrIntegrity, sum.Nodes, ids.Maximum())
	}

	touched := roaring64.New()
	r, err := recordio.Open(fs, edges.Path, recordio.Plain)
	if err != nil {
		return Summary{}, err
	}
	defer r.Close()
	for r.Next() {
		f, err := records.Split(r.Record(), 2)
		if err != nil {
			return Summary{}, err
		}
		var ends [2]uint64
		for i, v := range f {
			id, err := parseID(v)
			if err != nil {
				return Summary{}, fmt.Errorf("%w: edge %q: %v", ErrIntegrity, r.Record(), err)
			}
			if !ids.Contains(id) {
				return Summary{}, fmt.Errorf("%w: edge %q references unknown node %d", ErrIntegrity, r.Record(), id)
			}
			ends[i] = id
		}
		touched.Add(ends[0])
		touched.Add(ends[1])
		if ends[0] == ends[1] {
			sum.SelfLoops++
		}
		sum.Edges++
	}
	if err := r.Err(); err != nil {
		return Summary{}, err
	}
	sum.Isolated = roaring64.AndNot(ids, touched).GetCardinality()

	zerolog.Ctx(ctx).Debug().
		Uint64("nodes", sum.Nodes).
		Uint64("edges", sum.Edges).
		Uint64("isolated", sum.Isolated).
		Msg("graph verified")
	return sum, nil
}

func nodeIDs(fs afero.Fs, nodes recordio.Stream) (*roaring64.Bitmap, error) {
	r, err := recordio.Open(fs, nodes.Path, recordio.Plain)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ids := roaring64.New()
	for r.Next() {
		rec := r.Record()
		f, err := records.Field(rec, 0)
		if err != nil {
			return nil, err
		}
		id, err := parseID(f)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrIntegrity, rec, err)
		}
		if !ids.CheckedAdd(id) {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrIntegrity, id)
		}
	}
	return ids, r.Err()
}

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

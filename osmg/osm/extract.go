package osm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// Extracted holds the three unsorted streams produced from an element source.
type Extracted struct {
	Nodes         recordio.Stream // id,lat,lon
	Edges         recordio.Stream // originId,destinationId
	Registrations recordio.Stream // nodeId
}

// ExtractStats counts the elements seen.
type ExtractStats struct {
	Points        int64
	Paths         int64
	AcceptedPaths int64
	SkippedPaths  int64
	Relations     int64
}

// Extract drains src. Every point becomes a node record. A path whose tags
// the filter accepts registers each of its node references and contributes
// its directed edges; paths with fewer than two nodes are skipped.
func Extract(ctx context.Context, store recordio.Store, src Source, filter *TagFilter) (out Extracted, stats ExtractStats, err error) {
	nodes, err := recordio.CreateTemp(store, "nodes-*", recordio.Plain)
	if err != nil {
		return Extracted{}, stats, err
	}
	edges, err := recordio.CreateTemp(store, "edges-*", recordio.Plain)
	if err != nil {
		_ = nodes.Abort()
		return Extracted{}, stats, err
	}
	regs, err := recordio.CreateTemp(store, "registrations-*", recordio.Plain)
	if err != nil {
		_ = nodes.Abort()
		_ = edges.Abort()
		return Extracted{}, stats, err
	}
	defer func() {
		if err != nil {
			_ = nodes.Abort()
			_ = edges.Abort()
			_ = regs.Abort()
		}
	}()

	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err = ctx.Err(); err != nil {
				return Extracted{}, stats, err
			}
		}
		var el Element
		el, err = src.Next()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			return Extracted{}, stats, err
		}

		switch e := el.(type) {
		case Point:
			stats.Points++
			if err = checkFields(e.ID, e.Lat, e.Lon); err != nil {
				return Extracted{}, stats, fmt.Errorf("node %q: %w", e.ID, err)
			}
			if err = nodes.Write(records.Join(e.ID, e.Lat, e.Lon)); err != nil {
				return Extracted{}, stats, err
			}
		case Path:
			stats.Paths++
			if len(e.Nodes) < 2 || !filter.Accepts(e.Tags) {
				stats.SkippedPaths++
				continue
			}
			if err = checkFields(e.Nodes...); err != nil {
				return Extracted{}, stats, fmt.Errorf("way %q: %w", e.ID, err)
			}
			stats.AcceptedPaths++
			for _, ref := range e.Nodes {
				if err = regs.Write(ref); err != nil {
					return Extracted{}, stats, err
				}
			}
			for _, edge := range Edges(e.Nodes, DirectionOf(e.Tags)) {
				if err = edges.Write(records.Join(edge[0], edge[1])); err != nil {
					return Extracted{}, stats, err
				}
			}
		case Relation:
			stats.Relations++
		default:
			err = fmt.Errorf("unexpected element %T", el)
			return Extracted{}, stats, err
		}
	}

	if out.Nodes, err = nodes.Finish(records.Unordered); err != nil {
		return Extracted{}, stats, err
	}
	if out.Edges, err = edges.Finish(records.Unordered); err != nil {
		return Extracted{}, stats, err
	}
	if out.Registrations, err = regs.Finish(records.Unordered); err != nil {
		return Extracted{}, stats, err
	}

	zerolog.Ctx(ctx).Debug().
		Int64("points", stats.Points).
		Int64("paths", stats.Paths).
		Int64("accepted", stats.AcceptedPaths).
		Int64("edges", out.Edges.Count).
		Msg("extracted elements")
	return out, stats, nil
}

// checkFields rejects values that would break the record format.
func checkFields(values ...string) error {
	for i, v := range values {
		if v == "" || strings.ContainsAny(v, ",\n\r") {
			return &records.MalformedError{Record: strings.Join(values, " "), Field: i, Reason: fmt.Sprintf("invalid value %q", v)}
		}
	}
	return nil
}

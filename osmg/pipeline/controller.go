// Package pipeline runs the conversion from an OSM element stream to the
// published node and edge tables. Every stage names the ordering it needs and
// the streams it hands on carry the ordering they were sorted by, so a stage
// reading the wrong stream fails instead of producing a silently wrong graph.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	internal "github.com/ZanzyTHEbar/osmgraph/osmg"
	"github.com/ZanzyTHEbar/osmgraph/osmg/config"
	"github.com/ZanzyTHEbar/osmgraph/osmg/extsort"
	"github.com/ZanzyTHEbar/osmgraph/osmg/join"
	"github.com/ZanzyTHEbar/osmgraph/osmg/osm"
	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
	"github.com/ZanzyTHEbar/osmgraph/osmg/spatial"
	"github.com/ZanzyTHEbar/osmgraph/osmg/verify"
	"github.com/ZanzyTHEbar/osmgraph/osmg/workspace"
)

// Options are the settings a Controller runs with.
type Options struct {
	MemoryBudget   int64
	CompressSpills bool
	KeepSourceIDs  bool
	Verify         bool
	// TempDir is the parent of the run's workspace; os.TempDir() when empty.
	TempDir string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{MemoryBudget: internal.DefaultMemoryMB * internal.MiB, Verify: true}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MemoryBudget:   cfg.MemoryBudget(),
		CompressSpills: cfg.Sort.CompressSpills,
		KeepSourceIDs:  cfg.Output.KeepSourceIDs,
		Verify:         cfg.Verify,
		TempDir:        cfg.Sort.TempDir,
	}
}

// Controller sequences the stages of a run. It holds no per-run state and
// can be reused; runs must not overlap on the same output directory.
type Controller struct {
	fs      afero.Fs
	opts    Options
	metrics *Metrics
}

// New returns a Controller working on fs. metrics may be nil.
func New(fs afero.Fs, opts Options, metrics *Metrics) *Controller {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Controller{fs: fs, opts: opts, metrics: metrics}
}

func (c *Controller) Metrics() *Metrics { return c.metrics }

// Report summarizes a successful run.
type Report struct {
	RunID        uuid.UUID
	Elements     osm.ExtractStats
	Nodes        int64
	Edges        int64
	DroppedEdges int64
	Graph        *verify.Summary
	NodesFile    string
	EdgesFile    string
	Duration     time.Duration
}

type run struct {
	*Controller
	ctx    context.Context
	log    zerolog.Logger
	ws     *workspace.Workspace
	sorter *extsort.Sorter
}

// Run converts src into nodes.txt and edges.txt inside outputDir. Only paths
// accepted by tags contribute edges; a nil or empty filter accepts all.
// Nothing in outputDir is touched unless every stage succeeded, and the
// temporary workspace is gone when Run returns.
func (c *Controller) Run(ctx context.Context, src osm.Source, tags *osm.TagFilter, outputDir string) (report *Report, err error) {
	started := time.Now()
	ws, err := workspace.Open(c.fs, c.opts.TempDir, uuid.New())
	if err != nil {
		return nil, err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(ws))

	log := zerolog.Ctx(ctx).With().Str("run_id", ws.RunID().String()).Logger()
	ctx = log.WithContext(ctx)

	var opts []extsort.Option
	if c.opts.CompressSpills {
		opts = append(opts, extsort.WithSpillCodec(recordio.S2))
	}
	r := &run{
		Controller: c,
		ctx:        ctx,
		log:        log,
		ws:         ws,
		sorter:     extsort.New(ws, c.opts.MemoryBudget, opts...),
	}
	log.Info().
		Str("workspace", ws.Dir()).
		Int64("memory_budget", r.sorter.Budget()).
		Int("tag_filters", tags.Len()).
		Msg("conversion started")

	report = &Report{RunID: ws.RunID()}
	if err := r.execute(src, tags, outputDir, report); err != nil {
		log.Error().Err(err).Msg("conversion failed")
		return nil, err
	}
	report.Duration = time.Since(started)
	log.Info().
		Int64("nodes", report.Nodes).
		Int64("edges", report.Edges).
		Dur("elapsed", report.Duration).
		Msg("conversion finished")
	return report, nil
}

func (r *run) execute(src osm.Source, tags *osm.TagFilter, outputDir string, report *Report) error {
	var (
		extracted osm.Extracted
		nodes     recordio.Stream // current node table
		regs      recordio.Stream
		mapping   recordio.Stream // newId,oldId,lat,lon by old id
		edges     recordio.Stream
	)

	if err := r.stage("extract", func() (err error) {
		var stats osm.ExtractStats
		extracted, stats, err = osm.Extract(r.ctx, r.ws, src, tags)
		report.Elements = stats
		r.metrics.Elements.WithLabelValues("point").Add(float64(stats.Points))
		r.metrics.Elements.WithLabelValues("path").Add(float64(stats.Paths))
		r.metrics.Elements.WithLabelValues("relation").Add(float64(stats.Relations))
		return err
	}); err != nil {
		return err
	}

	if err := r.stage("sort_nodes", func() error {
		sorted, err := r.sort(extracted.Nodes, records.Lexical(0))
		if err != nil {
			return err
		}
		if nodes, err = r.replace(sorted, extracted.Nodes); err != nil {
			return err
		}
		sorted, err = r.sort(extracted.Registrations, records.Lexical(0))
		if err != nil {
			return err
		}
		regs, err = r.replace(sorted, extracted.Registrations)
		return err
	}); err != nil {
		return err
	}

	if err := r.stage("filter_nodes", func() error {
		filtered, err := join.Filter(r.ws, nodes, regs)
		if err != nil {
			return err
		}
		r.log.Debug().Int64("kept", filtered.Count).Int64("read", nodes.Count).Msg("dropped unreferenced nodes")
		nodes, err = r.replace(filtered, nodes, regs)
		return err
	}); err != nil {
		return err
	}

	if err := r.stage("assign_ids", func() error {
		z, err := spatial.AssignRecords(r.ctx, r.ws, nodes)
		if err != nil {
			return err
		}
		if nodes, err = r.replace(z, nodes); err != nil {
			return err
		}
		zsorted, err := r.sort(nodes, records.Uint(0))
		if err != nil {
			return err
		}
		if nodes, err = r.replace(zsorted, nodes); err != nil {
			return err
		}
		compacted, err := spatial.Compact(r.ctx, r.ws, nodes)
		if err != nil {
			return err
		}
		if nodes, err = r.replace(compacted, nodes); err != nil {
			return err
		}
		byOld, err := r.sort(nodes, join.MappingOrder)
		if err != nil {
			return err
		}
		mapping, err = r.replace(byOld, nodes)
		nodes = recordio.Stream{}
		return err
	}); err != nil {
		return err
	}

	var dropped int64
	for col, name := range []string{"remap_origins", "remap_destinations"} {
		if err := r.stage(name, func() error {
			in := extracted.Edges
			if col > 0 {
				in = edges
			}
			sorted, err := r.sort(in, records.Lexical(col))
			if err != nil {
				return err
			}
			if _, err = r.replace(sorted, in); err != nil {
				return err
			}
			out, stats, err := join.Substitute(r.ws, mapping, sorted, col)
			if err != nil {
				return err
			}
			dropped += stats.Dropped
			edges, err = r.replace(out, sorted)
			return err
		}); err != nil {
			return err
		}
	}
	report.DroppedEdges = dropped
	r.metrics.DroppedEdges.Add(float64(dropped))

	if err := r.stage("finalize", func() error {
		sorted, err := r.sort(edges, records.Uint(0))
		if err != nil {
			return err
		}
		if edges, err = r.replace(sorted, edges); err != nil {
			return err
		}
		byNew, err := r.sort(mapping, records.Uint(0))
		if err != nil {
			return err
		}
		if nodes, err = r.replace(byNew, mapping); err != nil {
			return err
		}
		projected, err := recordio.Map(r.ws, nodes, "nodes_final-*", records.Uint(0), projectNode(r.opts.KeepSourceIDs))
		if err != nil {
			return err
		}
		nodes, err = r.replace(projected, nodes)
		return err
	}); err != nil {
		return err
	}

	if r.opts.Verify {
		if err := r.stage("verify", func() error {
			sum, err := verify.Graph(r.ctx, r.ws.Fs(), nodes, edges)
			if err != nil {
				return err
			}
			report.Graph = &sum
			return nil
		}); err != nil {
			return err
		}
	}

	return r.stage("publish", func() error {
		if err := workspace.Publish(r.ws.Fs(), r.fs, outputDir,
			workspace.Output{Name: internal.DefaultNodesFile, Source: nodes.Path},
			workspace.Output{Name: internal.DefaultEdgesFile, Source: edges.Path},
		); err != nil {
			return err
		}
		report.Nodes, report.Edges = nodes.Count, edges.Count
		report.NodesFile = filepath.Join(outputDir, internal.DefaultNodesFile)
		report.EdgesFile = filepath.Join(outputDir, internal.DefaultEdgesFile)
		r.metrics.OutputRecords.WithLabelValues(internal.DefaultNodesFile).Set(float64(nodes.Count))
		r.metrics.OutputRecords.WithLabelValues(internal.DefaultEdgesFile).Set(float64(edges.Count))
		return nil
	})
}

// stage runs fn with timing, logging and a cancellation check up front.
func (r *run) stage(name string, fn func() error) error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	start := time.Now()
	r.log.Info().Str("stage", name).Msg("stage started")
	err := fn()
	elapsed := time.Since(start)
	r.metrics.observeStage(name, elapsed, err)
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	r.log.Info().Str("stage", name).Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

func (r *run) sort(in recordio.Stream, order records.Ordering) (recordio.Stream, error) {
	if size, err := fileSize(r.ws.Fs(), in.Path); err == nil {
		r.log.Info().Str("order", order.Name).Int64("records", in.Count).Int64("kib", size/internal.KiB).Msg("sorting")
	}
	out, stats, err := r.sorter.Sort(r.ctx, in, order)
	if err != nil {
		return recordio.Stream{}, err
	}
	r.metrics.SortedRecords.WithLabelValues(order.Name).Add(float64(stats.Records))
	r.metrics.SortBatches.WithLabelValues(order.Name).Add(float64(stats.Batches))
	return out, nil
}

// replace releases the streams next supersedes and returns next.
func (r *run) replace(next recordio.Stream, superseded ...recordio.Stream) (recordio.Stream, error) {
	paths := make([]string, 0, len(superseded))
	for _, s := range superseded {
		paths = append(paths, s.Path)
	}
	if err := r.ws.Release(paths...); err != nil {
		return recordio.Stream{}, err
	}
	return next, nil
}

func fileSize(fs afero.Fs, path string) (int64, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// projectNode turns rank,sourceId,lat,lon into the published node record.
func projectNode(keepSourceIDs bool) recordio.MapFunc {
	return func(rec string) (string, bool, error) {
		f, err := records.Split(rec, 4)
		if err != nil {
			return "", false, err
		}
		if keepSourceIDs {
			return records.Join(f[0], f[2], f[3], f[1]), true, nil
		}
		return records.Join(f[0], f[2], f[3]), true, nil
	}
}

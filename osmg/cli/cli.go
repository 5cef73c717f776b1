// Package cli wires configuration, logging and the pipeline controller into
// the osmg command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	internal "github.com/ZanzyTHEbar/osmgraph/osmg"
	"github.com/ZanzyTHEbar/osmgraph/osmg/config"
	"github.com/ZanzyTHEbar/osmgraph/osmg/osm"
	"github.com/ZanzyTHEbar/osmgraph/osmg/pipeline"
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCommand builds the osmg command. All file access goes through fs.
func NewRootCommand(fs afero.Fs, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   internal.DefaultAppName + " --input FILE [--tags FILE] [--output DIR]",
		Short: "Convert an OpenStreetMap extract into a routing graph",
		Long: `osmg reads an OpenStreetMap XML extract and writes two files:

  nodes.txt  id,latitude,longitude    one line per node used by a selected way
  edges.txt  originId,destinationId   one line per directed edge

Node ids are dense (0..N-1) and follow a z-order curve, so nodes close in
space get close ids. Ways are selected by the key,value lines of the tag file;
without one every way is used. Sorting happens on disk and never keeps more
than --memory MiB of records in memory.

Every flag can also be set in a YAML config file or through an OSMG_*
environment variable, e.g. OSMG_SORT_MEMORY_MB=512.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(fs, configPath, cmd.Flags())
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if err := cfg.Validate(fs); err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			logger := internal.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
			return run(logger.WithContext(cmd.Context()), fs, cfg, stdout)
		},
	}
	config.RegisterFlags(rc.Flags())
	rc.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func run(ctx context.Context, fs afero.Fs, cfg *config.Config, stdout io.Writer) (err error) {
	log := zerolog.Ctx(ctx)

	tags := osm.NewTagFilter()
	if cfg.Tags != "" {
		if tags, err = osm.LoadTagFilter(fs, cfg.Tags); err != nil {
			return err
		}
	}
	log.Info().Str("file", cfg.Tags).Stringer("tags", tags).Msg("tag filter loaded")

	in, err := osm.OpenInput(fs, cfg.Input)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	metrics := pipeline.NewMetrics()
	if cfg.Metrics.File != "" {
		defer func() {
			if merr := metrics.WriteToTextfile(fs, cfg.Metrics.File); merr != nil {
				err = multierr.Append(err, fmt.Errorf("failed to write metrics: %w", merr))
			}
		}()
	}

	c := pipeline.New(fs, pipeline.OptionsFromConfig(cfg), metrics)
	report, err := c.Run(ctx, osm.NewDecoder(in), tags, cfg.Output.Dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: %d nodes\n", report.NodesFile, report.Nodes)
	fmt.Fprintf(stdout, "%s: %d edges (%d dropped)\n", report.EdgesFile, report.Edges, report.DroppedEdges)
	return nil
}

// Execute runs the command and maps the outcome to a process exit code.
func Execute(ctx context.Context, args []string, fs afero.Fs, stdout, stderr io.Writer) int {
	rc := NewRootCommand(fs, stdout, stderr)
	rc.SetArgs(args)
	err := rc.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

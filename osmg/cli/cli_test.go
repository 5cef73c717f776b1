package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extract = `<osm>
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="0" lon="1"/>
  <node id="3" lat="1" lon="1"/>
  <way id="10"><nd ref="1"/><nd ref="2"/><tag k="highway" v="primary"/></way>
  <way id="11"><nd ref="2"/><nd ref="3"/><tag k="highway" v="footway"/></way>
</osm>`

func newFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/map.osm", []byte(extract), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/tags.txt", []byte("highway,primary\n"), 0o644))
	require.NoError(t, fs.MkdirAll("/tmp", 0o755))
	return fs
}

func TestExecute(t *testing.T) {
	t.Run("converts into the input directory", func(t *testing.T) {
		fs := newFs(t)
		var stdout, stderr bytes.Buffer
		code := Execute(context.Background(),
			[]string{"-i", "/data/map.osm", "-f", "/data/tags.txt", "--temp-dir", "/tmp", "--log-format", "json"},
			fs, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())

		nodes, err := afero.ReadFile(fs, "/data/nodes.txt")
		require.NoError(t, err)
		assert.Equal(t, "0,0,0\n1,0,1\n", string(nodes))
		edges, err := afero.ReadFile(fs, "/data/edges.txt")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"0,1", "1,0"}, splitLines(string(edges)))

		assert.Contains(t, stdout.String(), "/data/nodes.txt: 2 nodes")
		assert.Contains(t, stderr.String(), `"run_id"`)
	})

	t.Run("without tags every way is used", func(t *testing.T) {
		fs := newFs(t)
		require.NoError(t, fs.MkdirAll("/out", 0o755))
		var stdout, stderr bytes.Buffer
		code := Execute(context.Background(),
			[]string{"--input", "/data/map.osm", "--output", "/out", "--temp-dir", "/tmp", "--memory", "1"},
			fs, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())

		nodes, err := afero.ReadFile(fs, "/out/nodes.txt")
		require.NoError(t, err)
		assert.Len(t, splitLines(string(nodes)), 3)
	})

	t.Run("writes metrics", func(t *testing.T) {
		fs := newFs(t)
		metricsFile := "/data/osmg.prom"
		var stdout, stderr bytes.Buffer
		code := Execute(context.Background(),
			[]string{"-i", "/data/map.osm", "--temp-dir", "/tmp", "--metrics-file", metricsFile},
			fs, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())

		data, err := afero.ReadFile(fs, metricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "osmg_stage_duration_seconds")
		assert.Contains(t, string(data), `osmg_output_records{file="edges.txt"} 4`)
	})
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing input", []string{}, 2},
		{"input does not exist", []string{"-i", "/data/none.osm"}, 2},
		{"non-positive memory", []string{"-i", "/data/map.osm", "-m", "0"}, 2},
		{"output directory does not exist", []string{"-i", "/data/map.osm", "-o", "/nowhere"}, 2},
		{"unknown flag", []string{"--frobnicate"}, 2},
		{"bad config file", []string{"-i", "/data/map.osm", "-c", "/data/none.yaml"}, 2},
		{"broken tag file", []string{"-i", "/data/map.osm", "-f", "/data/map.osm", "--temp-dir", "/tmp"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFs(t)
			var stdout, stderr bytes.Buffer
			code := Execute(context.Background(), tt.args, fs, &stdout, &stderr)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, stderr.String(), "Error:")

			exists, err := afero.Exists(fs, "/data/nodes.txt")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

package extsort

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/osmgraph/osmg/recordio"
	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
	"github.com/ZanzyTHEbar/osmgraph/osmg/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Open(afero.NewMemMapFs(), "/tmp", uuid.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func randomRecords(rng *rand.Rand, n, distinct int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(rng.Intn(distinct))
	}
	return out
}

func counts(recs []string) map[string]int {
	m := make(map[string]int, len(recs))
	for _, r := range recs {
		m[r]++
	}
	return m
}

func workspaceFiles(t *testing.T, ws *workspace.Workspace) []string {
	t.Helper()
	entries, err := afero.ReadDir(ws.Fs(), ws.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func requireSorted(t *testing.T, recs []string, order records.Ordering) {
	t.Helper()
	for i := 1; i < len(recs); i++ {
		c, err := order.Compare(recs[i-1], recs[i])
		require.NoError(t, err)
		require.LessOrEqual(t, c, 0, "records %d and %d out of order: %q > %q", i-1, i, recs[i-1], recs[i])
	}
}

func TestSortProperties(t *testing.T) {
	budgets := []struct {
		name   string
		budget int64
	}{
		{"single batch", 1 << 30},
		{"many batches", 40 * EstimateSize("12345")},
		{"one record per batch", 1},
	}
	orders := []records.Ordering{records.Lexical(0), records.Uint(0)}

	rng := rand.New(rand.NewSource(42))
	for _, b := range budgets {
		for _, order := range orders {
			t.Run(b.name+"/"+order.Name, func(t *testing.T) {
				ws := newWorkspace(t)
				input := randomRecords(rng, 500, 50)
				in, err := recordio.WriteAll(ws, "input-*", records.Unordered, input)
				require.NoError(t, err)

				sorter := New(ws, b.budget)
				out, stats, err := sorter.Sort(context.Background(), in, order)
				require.NoError(t, err)
				assert.Equal(t, order.Name, out.Order.Name)
				assert.Equal(t, int64(len(input)), out.Count)
				assert.Equal(t, int64(len(input)), stats.Records)

				got, err := recordio.ReadAll(ws.Fs(), out.Path)
				require.NoError(t, err)
				assert.Len(t, got, len(input), "conservation of cardinality")
				assert.Equal(t, counts(input), counts(got), "conservation of multiplicity")
				requireSorted(t, got, order)

				again, _, err := sorter.Sort(context.Background(), out, order)
				require.NoError(t, err)
				resorted, err := recordio.ReadAll(ws.Fs(), again.Path)
				require.NoError(t, err)
				assert.Equal(t, counts(got), counts(resorted), "idempotence as a multiset")
				requireSorted(t, resorted, order)

				unchanged, err := recordio.ReadAll(ws.Fs(), in.Path)
				require.NoError(t, err)
				assert.Equal(t, input, unchanged, "input is never mutated")

				assert.ElementsMatch(t,
					[]string{filepath.Base(in.Path), filepath.Base(out.Path), filepath.Base(again.Path)},
					workspaceFiles(t, ws), "spilled batches must be removed")
			})
		}
	}
}

func TestSortBatching(t *testing.T) {
	ws := newWorkspace(t)
	input := []string{"d", "a", "c", "b", "a", "e"}
	in, err := recordio.WriteAll(ws, "input-*", records.Unordered, input)
	require.NoError(t, err)

	budget := 2 * EstimateSize("a")
	out, stats, err := New(ws, budget).Sort(context.Background(), in, records.Lexical(0))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)

	got, err := recordio.ReadAll(ws.Fs(), out.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "b", "c", "d", "e"}, got)
}

func TestSortCompressedSpills(t *testing.T) {
	ws := newWorkspace(t)
	rng := rand.New(rand.NewSource(7))
	input := randomRecords(rng, 300, 1000)
	in, err := recordio.WriteAll(ws, "input-*", records.Unordered, input)
	require.NoError(t, err)

	sorter := New(ws, 10*EstimateSize("999"), WithSpillCodec(recordio.S2))
	out, stats, err := sorter.Sort(context.Background(), in, records.Uint(0))
	require.NoError(t, err)
	assert.Greater(t, stats.Batches, 1)

	got, err := recordio.ReadAll(ws.Fs(), out.Path)
	require.NoError(t, err)

	want := slices.Clone(input)
	slices.SortFunc(want, func(a, b string) int {
		x, _ := strconv.Atoi(a)
		y, _ := strconv.Atoi(b)
		return x - y
	})
	assert.Equal(t, want, got)
}

func TestSortEmptyInput(t *testing.T) {
	ws := newWorkspace(t)
	in, err := recordio.WriteAll(ws, "input-*", records.Unordered, nil)
	require.NoError(t, err)

	out, stats, err := New(ws, 1024).Sort(context.Background(), in, records.Lexical(0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Count)
	assert.Equal(t, 1, stats.Batches)

	got, err := recordio.ReadAll(ws.Fs(), out.Path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSortMalformedRecord(t *testing.T) {
	ws := newWorkspace(t)
	in, err := recordio.WriteAll(ws, "input-*", records.Unordered, []string{"3", "1", "x", "2"})
	require.NoError(t, err)

	_, _, err = New(ws, 1).Sort(context.Background(), in, records.Uint(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, records.ErrMalformed)
	assert.Equal(t, []string{filepath.Base(in.Path)}, workspaceFiles(t, ws), "no partial output or batches remain")
}

func TestSortMissingInput(t *testing.T) {
	ws := newWorkspace(t)
	_, _, err := New(ws, 1024).Sort(context.Background(), recordio.Stream{Path: ws.Dir() + "/nope"}, records.Lexical(0))
	require.Error(t, err)
	assert.Empty(t, workspaceFiles(t, ws))
}

var errInjected = errors.New("injected fault")

// faultyFs fails file creation once createLimit files have been created, and
// can fail reads or closes of spilled batches opened for reading.
type faultyFs struct {
	afero.Fs
	created     int
	createLimit int
	failRead    bool
	failClose   bool
}

func (f *faultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		if f.createLimit > 0 && f.created >= f.createLimit {
			return nil, &os.PathError{Op: "open", Path: name, Err: errInjected}
		}
		f.created++
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 && strings.HasPrefix(filepath.Base(name), "sorted_batch-") {
		return &faultyFile{File: file, failRead: f.failRead, failClose: f.failClose}, nil
	}
	return file, nil
}

func (f *faultyFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f *faultyFs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

type faultyFile struct {
	afero.File
	failRead  bool
	failClose bool
}

func (f *faultyFile) Read(p []byte) (int, error) {
	if f.failRead {
		return 0, errInjected
	}
	return f.File.Read(p)
}

func (f *faultyFile) Close() error {
	err := f.File.Close()
	if f.failClose {
		return errInjected
	}
	return err
}

func TestSortIOFaults(t *testing.T) {
	input := []string{"9", "3", "7", "1", "5", "8", "2", "6", "4", "0"}

	tests := []struct {
		name string
		// extra is how many files may be created after the input.
		extra     int
		failRead  bool
		failClose bool
	}{
		{name: "creating a batch fails", extra: 3},
		{name: "creating the merged output fails", extra: len(input)},
		{name: "reading a batch fails", failRead: true},
		{name: "closing a batch after the merge fails", failClose: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &faultyFs{Fs: afero.NewMemMapFs(), failRead: tt.failRead, failClose: tt.failClose}
			ws, err := workspace.Open(fs, "/tmp", uuid.New())
			require.NoError(t, err)
			t.Cleanup(func() { _ = ws.Close() })

			in, err := recordio.WriteAll(ws, "input-*", records.Unordered, input)
			require.NoError(t, err)
			if tt.extra > 0 {
				fs.createLimit = fs.created + tt.extra
			}

			_, _, err = New(ws, 1).Sort(context.Background(), in, records.Uint(0))
			require.Error(t, err)
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, []string{filepath.Base(in.Path)}, workspaceFiles(t, ws), "no partial output or batches remain")
		})
	}
}

package recordio

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

type memStore struct {
	fs  afero.Fs
	dir string
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0o755))
	return &memStore{fs: fs, dir: "/work"}
}

func (s *memStore) Fs() afero.Fs { return s.fs }

func (s *memStore) CreateTemp(pattern string) (afero.File, error) {
	return afero.TempFile(s.fs, s.dir, pattern)
}

func TestCursor(t *testing.T) {
	t.Run("peeks without consuming", func(t *testing.T) {
		c, err := NewCursorFrom(strings.NewReader("1,a\n2,b\n"), records.Uint(0))
		require.NoError(t, err)

		assert.False(t, c.Exhausted())
		assert.Equal(t, "1", c.Key().String())
		assert.Equal(t, "1,a", c.Record())
		assert.Equal(t, "1,a", c.Record(), "peeking twice is stable")

		rec, err := c.Consume()
		require.NoError(t, err)
		assert.Equal(t, "1,a", rec)
		assert.Equal(t, "2", c.Key().String())

		rec, err = c.Consume()
		require.NoError(t, err)
		assert.Equal(t, "2,b", rec)
		assert.True(t, c.Exhausted())

		_, err = c.Consume()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("empty source starts exhausted", func(t *testing.T) {
		c, err := NewCursorFrom(strings.NewReader(""), records.Lexical(0))
		require.NoError(t, err)
		assert.True(t, c.Exhausted())
	})

	t.Run("malformed key surfaces on advance", func(t *testing.T) {
		c, err := NewCursorFrom(strings.NewReader("1\nx\n"), records.Uint(0))
		require.NoError(t, err)
		_, err = c.Consume()
		assert.ErrorIs(t, err, records.ErrMalformed)
		assert.True(t, c.Exhausted())

		_, err = NewCursorFrom(strings.NewReader("x\n"), records.Uint(0))
		assert.ErrorIs(t, err, records.ErrMalformed)
	})

	t.Run("opens sorted files directly", func(t *testing.T) {
		store := newMemStore(t)
		s, err := WriteAll(store, "sorted-*", records.Lexical(0), []string{"a", "b"})
		require.NoError(t, err)

		c, err := OpenStream(store.Fs(), s)
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, "a", c.Record())
	})
}

func TestWriterCodecs(t *testing.T) {
	for _, codec := range []Codec{Plain, S2} {
		t.Run(codec.String(), func(t *testing.T) {
			store := newMemStore(t)
			w, err := CreateTemp(store, "codec-*", codec)
			require.NoError(t, err)
			for _, rec := range []string{"3,4", "1,2", ""} {
				require.NoError(t, w.Write(rec))
			}
			s, err := w.Finish(records.Unordered)
			require.NoError(t, err)
			assert.Equal(t, int64(3), s.Count)

			r, err := Open(store.Fs(), s.Path, codec)
			require.NoError(t, err)
			defer r.Close()
			var got []string
			for r.Next() {
				got = append(got, r.Record())
			}
			require.NoError(t, r.Err())
			assert.Equal(t, []string{"3,4", "1,2", ""}, got)
		})
	}
}

func TestWriterAbort(t *testing.T) {
	store := newMemStore(t)
	w, err := CreateTemp(store, "abort-*", Plain)
	require.NoError(t, err)
	require.NoError(t, w.Write("x"))
	require.NoError(t, w.Abort())

	exists, err := afero.Exists(store.Fs(), w.Name())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMap(t *testing.T) {
	store := newMemStore(t)
	in, err := WriteAll(store, "in-*", records.Lexical(0), []string{"1,a", "2,b", "3,c"})
	require.NoError(t, err)

	out, err := Map(store, in, "out-*", records.Lexical(0), func(rec string) (string, bool, error) {
		if strings.HasPrefix(rec, "2") {
			return "", false, nil
		}
		return strings.ToUpper(rec), true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Count)
	assert.Equal(t, "lexical(0)", out.Order.Name)

	got, err := ReadAll(store.Fs(), out.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1,A", "3,C"}, got)

	_, err = Map(store, in, "fail-*", records.Unordered, func(rec string) (string, bool, error) {
		return "", false, records.ErrMalformed
	})
	assert.ErrorIs(t, err, records.ErrMalformed)
}

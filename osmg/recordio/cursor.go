package recordio

import (
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// Cursor is a read-ahead view over a sorted record source. It is either Ready,
// holding the current record and its key, or Exhausted.
type Cursor struct {
	r     *Reader
	order records.Ordering
	rec   string
	key   records.Key
	done  bool
}

// NewCursor reads the first record of r so that Key is immediately valid.
func NewCursor(r *Reader, order records.Ordering) (*Cursor, error) {
	c := &Cursor{r: r, order: order}
	if err := c.advance(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCursorFrom wraps a plain io.Reader.
func NewCursorFrom(src io.Reader, order records.Ordering) (*Cursor, error) {
	return NewCursor(NewReader(src), order)
}

// OpenCursor opens a sorted file directly. The cursor owns the file.
func OpenCursor(fs afero.Fs, path string, order records.Ordering, codec Codec) (*Cursor, error) {
	r, err := Open(fs, path, codec)
	if err != nil {
		return nil, err
	}
	c, err := NewCursor(r, order)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return c, nil
}

// OpenStream opens a cursor over a tagged stream using the stream's ordering.
func OpenStream(fs afero.Fs, s Stream) (*Cursor, error) {
	return OpenCursor(fs, s.Path, s.Order, Plain)
}

func (c *Cursor) advance() error {
	if !c.r.Next() {
		c.done = true
		c.rec = ""
		c.key = records.Key{}
		return c.r.Err()
	}
	c.rec = c.r.Record()
	key, err := c.order.Key(c.rec)
	if err != nil {
		c.done = true
		return fmt.Errorf("cursor over %s: %w", c.r.name, err)
	}
	c.key = key
	return nil
}

// Exhausted reports whether no record remains.
func (c *Cursor) Exhausted() bool { return c.done }

// Key returns the current key. Only valid while not exhausted.
func (c *Cursor) Key() records.Key { return c.key }

// Record returns the current record without consuming it.
func (c *Cursor) Record() string { return c.rec }

// Consume returns the current record and reads the next one.
func (c *Cursor) Consume() (string, error) {
	if c.done {
		return "", io.EOF
	}
	rec := c.rec
	if err := c.advance(); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Cursor) Close() error { return c.r.Close() }

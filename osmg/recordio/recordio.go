// Package recordio reads and writes newline-delimited record files through an
// afero filesystem. Every intermediate file of a run is produced by a Writer
// and consumed by a Reader or Cursor from this package.
package recordio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

// MaxRecordSize bounds a single line; longer lines fail the read.
const MaxRecordSize = 16 * 1024 * 1024

const bufferSize = 256 * 1024

// Codec selects the on-disk framing of a record file.
type Codec uint8

const (
	Plain Codec = iota
	// S2 frames the file as a klauspost s2 stream.
	S2
)

func (c Codec) String() string {
	if c == S2 {
		return "s2"
	}
	return "plain"
}

// Store hands out temporary files. The workspace implements it.
type Store interface {
	Fs() afero.Fs
	CreateTemp(pattern string) (afero.File, error)
}

// Stream is a record file tagged with the ordering it is sorted by.
type Stream struct {
	Path  string
	Order records.Ordering
	Count int64
}

func (s Stream) String() string {
	return fmt.Sprintf("%s[%s, %d records]", s.Path, s.Order.Name, s.Count)
}

// Writer appends records to a file, one per line.
type Writer struct {
	fs    afero.Fs
	f     afero.File
	zw    *s2.Writer
	bw    *bufio.Writer
	count int64
}

// NewWriter takes ownership of f.
func NewWriter(fs afero.Fs, f afero.File, codec Codec) *Writer {
	w := &Writer{fs: fs, f: f}
	var dst io.Writer = f
	if codec == S2 {
		w.zw = s2.NewWriter(f)
		dst = w.zw
	}
	w.bw = bufio.NewWriterSize(dst, bufferSize)
	return w
}

// Create truncates or creates path.
func Create(fs afero.Fs, path string, codec Codec) (*Writer, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return NewWriter(fs, f, codec), nil
}

// CreateTemp opens a new temporary file from store.
func CreateTemp(store Store, pattern string, codec Codec) (*Writer, error) {
	f, err := store.CreateTemp(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file %s: %w", pattern, err)
	}
	return NewWriter(store.Fs(), f, codec), nil
}

func (w *Writer) Write(rec string) error {
	if _, err := w.bw.WriteString(rec); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.f.Name(), err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.f.Name(), err)
	}
	w.count++
	return nil
}

func (w *Writer) Name() string { return w.f.Name() }
func (w *Writer) Count() int64 { return w.count }

// Close flushes buffered records and closes the file.
func (w *Writer) Close() (err error) {
	defer multierr.AppendInvoke(&err, multierr.Close(w.f))
	if ferr := w.bw.Flush(); ferr != nil {
		return fmt.Errorf("failed to flush %s: %w", w.f.Name(), ferr)
	}
	if w.zw != nil {
		if zerr := w.zw.Close(); zerr != nil {
			return fmt.Errorf("failed to finish %s: %w", w.f.Name(), zerr)
		}
	}
	return nil
}

// Abort closes and removes the file. Used on failure paths.
func (w *Writer) Abort() error {
	_ = w.f.Close()
	if err := w.fs.Remove(w.f.Name()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", w.f.Name(), err)
	}
	return nil
}

// Finish closes the writer and tags the result.
func (w *Writer) Finish(order records.Ordering) (Stream, error) {
	if err := w.Close(); err != nil {
		_ = w.fs.Remove(w.f.Name())
		return Stream{}, err
	}
	return Stream{Path: w.f.Name(), Order: order, Count: w.count}, nil
}

// Reader iterates over the records of a file.
type Reader struct {
	name   string
	sc     *bufio.Scanner
	closer io.Closer
	rec    string
}

// NewReader reads records from r. The caller keeps ownership of r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, bufferSize), MaxRecordSize)
	return &Reader{sc: sc}
}

// Open opens path for reading.
func Open(fs afero.Fs, path string, codec Codec) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	var src io.Reader = f
	if codec == S2 {
		src = s2.NewReader(f)
	}
	r := NewReader(bufio.NewReaderSize(src, bufferSize))
	r.name = path
	r.closer = f
	return r, nil
}

// Next advances to the next record.
func (r *Reader) Next() bool {
	if !r.sc.Scan() {
		return false
	}
	r.rec = r.sc.Text()
	return true
}

func (r *Reader) Record() string { return r.rec }

func (r *Reader) Err() error {
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", r.name, err)
	}
	return nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll loads a whole record file. Meant for tests and small files.
func ReadAll(fs afero.Fs, path string) ([]string, error) {
	r, err := Open(fs, path, Plain)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []string
	for r.Next() {
		out = append(out, r.Record())
	}
	return out, r.Err()
}

// WriteAll writes recs to a new temporary file tagged with order.
func WriteAll(store Store, pattern string, order records.Ordering, recs []string) (Stream, error) {
	w, err := CreateTemp(store, pattern, Plain)
	if err != nil {
		return Stream{}, err
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			_ = w.Abort()
			return Stream{}, err
		}
	}
	return w.Finish(order)
}

// Package records defines the line-oriented record model shared by every
// pipeline stage: positional comma-delimited fields, key projection and the
// named orderings streams are sorted by.
package records

import (
	"errors"
	"fmt"
	"strings"
)

// Separator delimits fields within a record.
const Separator = ','

var (
	ErrMalformed     = errors.New("malformed record")
	ErrOrderMismatch = errors.New("stream ordering mismatch")
)

// MalformedError reports a record that could not be projected or parsed.
type MalformedError struct {
	Record string
	Field  int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("malformed record %q: %s", e.Record, e.Reason)
	}
	return fmt.Sprintf("malformed record %q (field %d): %s", e.Record, e.Field, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Field returns the i-th field of rec without allocating.
func Field(rec string, i int) (string, error) {
	if i < 0 {
		return "", &MalformedError{Record: rec, Field: i, Reason: "negative field index"}
	}
	start := 0
	for n := 0; n < i; n++ {
		j := strings.IndexByte(rec[start:], Separator)
		if j < 0 {
			return "", &MalformedError{Record: rec, Field: i, Reason: fmt.Sprintf("record has only %d fields", n+1)}
		}
		start += j + 1
	}
	if end := strings.IndexByte(rec[start:], Separator); end >= 0 {
		return rec[start : start+end], nil
	}
	return rec[start:], nil
}

// Split returns the fields of rec, requiring exactly want of them when want > 0.
func Split(rec string, want int) ([]string, error) {
	fields := strings.Split(rec, string(Separator))
	if want > 0 && len(fields) != want {
		return nil, &MalformedError{
			Record: rec,
			Field:  -1,
			Reason: fmt.Sprintf("expected %d fields, got %d", want, len(fields)),
		}
	}
	return fields, nil
}

// Join is the inverse of Split.
func Join(fields ...string) string {
	return strings.Join(fields, string(Separator))
}

package records

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

type keyKind uint8

const (
	textKey keyKind = iota
	uintKey
)

// Key is the projection of a record used for comparisons. Keys produced by
// different orderings must not be compared with each other.
type Key struct {
	kind keyKind
	text string
	u    uint64
}

func (k Key) String() string {
	if k.kind == uintKey {
		return strconv.FormatUint(k.u, 10)
	}
	return k.text
}

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if k.kind == uintKey {
		return cmp.Compare(k.u, o.u)
	}
	return strings.Compare(k.text, o.text)
}

// Size is the number of bytes the key retains beyond its fixed header.
func (k Key) Size() int { return len(k.text) }

// Ordering is a named key projection. Streams are tagged with the Name of the
// ordering that produced them, and consumers compare names to check they are
// reading what they expect.
type Ordering struct {
	Name string
	Key  func(rec string) (Key, error)
}

// Compare projects both records and compares their keys.
func (o Ordering) Compare(a, b string) (int, error) {
	ka, err := o.Key(a)
	if err != nil {
		return 0, err
	}
	kb, err := o.Key(b)
	if err != nil {
		return 0, err
	}
	return ka.Compare(kb), nil
}

// Same reports whether two orderings produce the same sequence.
func (o Ordering) Same(other Ordering) bool { return o.Name == other.Name }

// Unordered tags a stream that is not sorted by any key.
var Unordered = Ordering{
	Name: "unordered",
	Key: func(rec string) (Key, error) {
		return Key{}, fmt.Errorf("%w: stream is unordered", ErrOrderMismatch)
	},
}

// Lexical orders records by byte-wise comparison of one field.
func Lexical(field int) Ordering {
	return Ordering{
		Name: fmt.Sprintf("lexical(%d)", field),
		Key: func(rec string) (Key, error) {
			f, err := Field(rec, field)
			if err != nil {
				return Key{}, err
			}
			return Key{kind: textKey, text: f}, nil
		},
	}
}

// Uint orders records by an unsigned decimal integer field.
func Uint(field int) Ordering {
	return Ordering{
		Name: fmt.Sprintf("uint(%d)", field),
		Key: func(rec string) (Key, error) {
			f, err := Field(rec, field)
			if err != nil {
				return Key{}, err
			}
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return Key{}, &MalformedError{Record: rec, Field: field, Reason: err.Error()}
			}
			return Key{kind: uintKey, u: v}, nil
		},
	}
}

// RequireSame returns ErrOrderMismatch unless got is want.
func RequireSame(stage string, got, want Ordering) error {
	if !got.Same(want) {
		return fmt.Errorf("%w: %s expects %s, stream is %s", ErrOrderMismatch, stage, want.Name, got.Name)
	}
	return nil
}

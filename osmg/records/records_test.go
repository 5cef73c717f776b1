package records

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestField(t *testing.T) {
	tests := []struct {
		rec   string
		i     int
		want  string
		isErr bool
	}{
		{"12,47.1,8.5", 0, "12", false},
		{"12,47.1,8.5", 1, "47.1", false},
		{"12,47.1,8.5", 2, "8.5", false},
		{"12,47.1,8.5", 3, "", true},
		{"12", 0, "12", false},
		{"", 0, "", false},
		{"a,,b", 1, "", false},
	}
	for _, tt := range tests {
		got, err := Field(tt.rec, tt.i)
		if tt.isErr {
			require.Error(t, err, "record %q field %d", tt.rec, tt.i)
			assert.True(t, errors.Is(err, ErrMalformed))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSplitJoin(t *testing.T) {
	fields, err := Split("5,7", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "7"}, fields)
	assert.Equal(t, "5,7", Join(fields...))

	_, err = Split("5,7,9", 2)
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "5,7,9", me.Record)
}

func TestOrderings(t *testing.T) {
	t.Run("lexical compares text", func(t *testing.T) {
		c, err := Lexical(0).Compare("10,a", "9,b")
		require.NoError(t, err)
		assert.Equal(t, -1, c)
	})

	t.Run("uint compares numbers", func(t *testing.T) {
		c, err := Uint(0).Compare("10,a", "9,b")
		require.NoError(t, err)
		assert.Equal(t, 1, c)
	})

	t.Run("keys print their field", func(t *testing.T) {
		k, err := Uint(1).Key("x,0042")
		require.NoError(t, err)
		assert.Equal(t, "42", k.String())
		k, err = Lexical(1).Key("x,0042")
		require.NoError(t, err)
		assert.Equal(t, "0042", k.String())
	})

	t.Run("numeric parse failure is malformed", func(t *testing.T) {
		_, err := Uint(0).Key("abc,1")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unordered never yields keys", func(t *testing.T) {
		_, err := Unordered.Key("1")
		assert.ErrorIs(t, err, ErrOrderMismatch)
	})

	t.Run("names identify orderings", func(t *testing.T) {
		assert.True(t, Lexical(1).Same(Lexical(1)))
		assert.False(t, Lexical(1).Same(Uint(1)))
		assert.ErrorIs(t, RequireSame("filter", Lexical(0), Uint(0)), ErrOrderMismatch)
		assert.NoError(t, RequireSame("filter", Uint(0), Uint(0)))
	})
}

package osm

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/armon/go-radix"
	"github.com/spf13/afero"

	"github.com/ZanzyTHEbar/osmgraph/osmg/records"
)

const tagSep = "\x00"

// TagFilter decides which paths become edges. Entries are key/value pairs; a
// path is accepted when any one of its tags is an entry. An empty filter
// accepts every path.
type TagFilter struct {
	tree *radix.Tree
}

func NewTagFilter() *TagFilter {
	return &TagFilter{tree: radix.New()}
}

// Add registers key=value. Duplicates are ignored.
func (f *TagFilter) Add(key, value string) {
	f.tree.Insert(key+tagSep+value, struct{}{})
}

// Len is the number of distinct entries.
func (f *TagFilter) Len() int {
	if f == nil {
		return 0
	}
	return f.tree.Len()
}

func (f *TagFilter) Accepts(tags map[string]string) bool {
	if f.Len() == 0 {
		return true
	}
	for k, v := range tags {
		if _, ok := f.tree.Get(k + tagSep + v); ok {
			return true
		}
	}
	return false
}

// Values returns the accepted values of key in sorted order.
func (f *TagFilter) Values(key string) []string {
	var out []string
	if f.Len() == 0 {
		return out
	}
	f.tree.WalkPrefix(key+tagSep, func(s string, _ interface{}) bool {
		out = append(out, strings.TrimPrefix(s, key+tagSep))
		return false
	})
	return out
}

func (f *TagFilter) String() string {
	if f.Len() == 0 {
		return "{}"
	}
	grouped := map[string][]string{}
	var keys []string
	f.tree.Walk(func(s string, _ interface{}) bool {
		k, v, _ := strings.Cut(s, tagSep)
		if _, seen := grouped[k]; !seen {
			keys = append(keys, k)
		}
		grouped[k] = append(grouped[k], v)
		return false
	})
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"=["+strings.Join(grouped[k], " ")+"]")
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// LoadTagFilter reads key,value lines. The line is split at the first comma
// so values may contain commas. Blank lines and lines starting with # are
// skipped.
func LoadTagFilter(fs afero.Fs, path string) (*TagFilter, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tag file %s: %w", path, err)
	}
	defer file.Close()

	f := NewTagFilter()
	sc := bufio.NewScanner(file)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("%s:%d: %w", path, n,
				&records.MalformedError{Record: line, Field: 1, Reason: "missing value"})
		}
		f.Add(k, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tag file %s: %w", path, err)
	}
	return f, nil
}

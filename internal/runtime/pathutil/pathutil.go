// Package pathutil reads and writes values inside decoded message trees using
// dot-separated field paths such as ".status.status".
package pathutil

import (
	"strconv"
	"strings"
)

// Separator between path segments.
const Separator = "."

// Segments splits path on Separator and drops empty segments, so a leading
// separator and doubled separators are ignored.
func Segments(path string) []string {
	raw := strings.Split(path, Separator)
	out := raw[:0]
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Get returns the value at path, or nil when any step is missing.
func Get(root any, path string) any {
	v, _ := Lookup(root, path)
	return v
}

// Lookup walks root along path. Keyed data is indexed by segment name and
// ordered lists by decimal index. The boolean is false as soon as a step is
// absent; an empty path yields root itself.
func Lookup(root any, path string) (any, bool) {
	cur := root
	for _, seg := range Segments(path) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set places value at path inside root, creating keyed intermediates for every
// segment but the last. Intermediates that exist but are not keyed data are
// replaced. A nil root is allocated; an empty path leaves root unchanged.
func Set(root map[string]any, path string, value any) map[string]any {
	if root == nil {
		root = map[string]any{}
	}
	segs := Segments(path)
	if len(segs) == 0 {
		return root
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
	return root
}

// Package scan walks a decoded layout tree and turns the value configuration of
// every widget into typed bindings.
//
// A layout tree is generic decoded data: keyed nodes are map[string]any and
// ordered lists are []any. Any keyed node with a "widget" member whose value is
// keyed data is a widget node. Its instance id is the dot-joined path of keys
// from the root (list elements appear as key[idx]), and every entry of
// widget.config is a value entry keyed by attribute name.
package scan

import (
	"fmt"
	"sort"
	"strings"
)

// WidgetKey is the member that marks a node as widget-bearing. The scanner
// never descends into it.
const WidgetKey = "widget"

// Entry is one raw value entry from a widget's config.
type Entry = map[string]any

// RawEntry is a value entry together with the widget instance and attribute
// it belongs to.
type RawEntry struct {
	InstanceID string `json:"instanceId"`
	AttrName   string `json:"attrName"`
	Entry      Entry  `json:"entry"`
}

// Key returns the attribute key for the entry.
func (r RawEntry) Key() string {
	return AttrKey(r.InstanceID, r.AttrName)
}

// WidgetRef names a widget-bearing node.
type WidgetRef struct {
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
}

// AttrKey is the slot key shared by the instance store and the buses.
func AttrKey(instanceID, attrName string) string {
	return instanceID + "::" + attrName
}

// Walk visits root and every keyed node below it in pre-order. Keys are
// visited in sorted order and the widget member is skipped. List elements are
// visited with a path segment of the form key[idx].
func Walk(root any, visit func(node map[string]any, path []string)) {
	walk(root, nil, visit)
}

func walk(v any, path []string, visit func(map[string]any, []string)) {
	node, ok := v.(map[string]any)
	if !ok {
		return
	}
	visit(node, path)

	keys := make([]string, 0, len(node))
	for k := range node {
		if k == WidgetKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch child := node[k].(type) {
		case map[string]any:
			walk(child, extend(path, k), visit)
		case []any:
			for idx, elem := range child {
				if _, ok := elem.(map[string]any); ok {
					walk(elem, extend(path, fmt.Sprintf("%s[%d]", k, idx)), visit)
				}
			}
		}
	}
}

// extend copies path so siblings never share a backing array.
func extend(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// InstanceID joins a node path into a widget instance id.
func InstanceID(path []string) string {
	return strings.Join(path, ".")
}

func widgetOf(node map[string]any) (map[string]any, bool) {
	w, ok := node[WidgetKey].(map[string]any)
	return w, ok
}

// Collect scans tree for value entries accepted by isMatch and converts them
// with toBinding. Entries for which toBinding reports false are skipped, as
// are entries that are not keyed data. Results follow Walk order and then
// sorted attribute name.
func Collect[B any](tree any, isMatch func(Entry) bool, toBinding func(RawEntry) (B, bool)) []B {
	var out []B
	Walk(tree, func(node map[string]any, path []string) {
		w, ok := widgetOf(node)
		if !ok {
			return
		}
		cfg, ok := w["config"].(map[string]any)
		if !ok {
			return
		}
		instanceID := InstanceID(path)

		attrs := make([]string, 0, len(cfg))
		for attr := range cfg {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)

		for _, attr := range attrs {
			entry, ok := cfg[attr].(map[string]any)
			if !ok || !isMatch(entry) {
				continue
			}
			b, ok := toBinding(RawEntry{InstanceID: instanceID, AttrName: attr, Entry: entry})
			if ok {
				out = append(out, b)
			}
		}
	})
	return out
}

// Widgets lists every widget-bearing node in Walk order.
func Widgets(tree any) []WidgetRef {
	var out []WidgetRef
	Walk(tree, func(node map[string]any, path []string) {
		w, ok := widgetOf(node)
		if !ok {
			return
		}
		name, _ := w["name"].(string)
		out = append(out, WidgetRef{InstanceID: InstanceID(path), Name: name})
	})
	return out
}

// Unrecognized returns keyed value entries whose type tag is missing or not a
// known Kind.
func Unrecognized(tree any) []RawEntry {
	return Collect(tree, func(e Entry) bool {
		_, ok := kindOf(e)
		return !ok
	}, func(r RawEntry) (RawEntry, bool) {
		return r, true
	})
}

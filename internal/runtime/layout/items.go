package layout

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Items is a string-keyed collection that keeps declaration order.
type Items[T any] struct {
	keys   []string
	values map[string]T
}

// Set adds or replaces key. New keys go last.
func (it *Items[T]) Set(key string, v T) {
	if it.values == nil {
		it.values = make(map[string]T)
	}
	if _, ok := it.values[key]; !ok {
		it.keys = append(it.keys, key)
	}
	it.values[key] = v
}

func (it Items[T]) Get(key string) (T, bool) {
	v, ok := it.values[key]
	return v, ok
}

func (it Items[T]) Keys() []string {
	return append([]string(nil), it.keys...)
}

func (it Items[T]) Len() int {
	return len(it.keys)
}

// Range calls fn for every item in declaration order.
func (it Items[T]) Range(fn func(key string, v T)) {
	for _, k := range it.keys {
		fn(k, it.values[k])
	}
}

func (it *Items[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: items must be a mapping", node.Line)
	}
	*it = Items[T]{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v T
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("item %q: %w", node.Content[i].Value, err)
		}
		it.Set(node.Content[i].Value, v)
	}
	return nil
}

func (it Items[T]) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range it.keys {
		var val yaml.Node
		if err := val.Encode(it.values[k]); err != nil {
			return nil, fmt.Errorf("item %q: %w", k, err)
		}
		out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, &val)
	}
	return out, nil
}

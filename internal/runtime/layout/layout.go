// Package layout decodes dashboard layout files into a typed model and into
// the generic tree the scanner walks.
//
// A layout entity is one of a tab container, a grid container or a widget.
// Containers hold labelled child entities in declaration order.
package layout

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/drblury/widgetbus/internal/runtime/scan"
	"github.com/drblury/widgetbus/transport"
)

// Kind is the variant an Entity resolves to.
type Kind int

const (
	KindEmpty Kind = iota
	KindWidget
	KindGrids
	KindTabs
)

func (k Kind) String() string {
	switch k {
	case KindWidget:
		return "widget"
	case KindGrids:
		return "grids"
	case KindTabs:
		return "tabs"
	}
	return "empty"
}

// Entity is a node of the layout.
type Entity struct {
	Widget *Widget `yaml:"widget,omitempty"`
	Tabs   *Tabs   `yaml:"tabs,omitempty"`
	Grids  *Grids  `yaml:"grids,omitempty"`
}

// Kind resolves the entity variant. Tabs win over grids, grids over a widget.
func (e Entity) Kind() Kind {
	switch {
	case e.Tabs != nil:
		return KindTabs
	case e.Grids != nil:
		return KindGrids
	case e.Widget != nil:
		return KindWidget
	}
	return KindEmpty
}

// Widget is a leaf entity with attribute value entries.
type Widget struct {
	Name   string           `yaml:"name"`
	Props  map[string]any   `yaml:"props,omitempty"`
	Config map[string]Value `yaml:"config,omitempty"`
}

type Tabs struct {
	Items Items[Tab] `yaml:"items"`
}

type Tab struct {
	Label  string `yaml:"label,omitempty"`
	Entity `yaml:",inline"`
}

type Grids struct {
	Horizontal int         `yaml:"horizontal,omitempty"`
	Vertical   int         `yaml:"vertical,omitempty"`
	Items      Items[Grid] `yaml:"items"`
}

type Grid struct {
	Label  string `yaml:"label,omitempty"`
	Width  int    `yaml:"width,omitempty"`
	Height int    `yaml:"height,omitempty"`
	X      int    `yaml:"x,omitempty"`
	Y      int    `yaml:"y,omitempty"`
	Entity `yaml:",inline"`
}

// Load decodes a layout document. JSON input is accepted as YAML.
func Load(r io.Reader) (*Entity, error) {
	var root Entity
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if err == io.EOF {
			return &root, nil
		}
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	return &root, nil
}

// LoadFile decodes the layout stored at path.
func LoadFile(path string) (*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

// LoadTreeFile decodes the layout stored at path into generic keyed data.
func LoadTreeFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	return LoadTree(bytes.NewReader(data))
}

// LoadTree decodes a layout document into generic keyed data. Entries of any
// shape are kept; the scanner skips the ones that are not bindings.
func LoadTree(r io.Reader) (any, error) {
	var tree any
	if err := yaml.NewDecoder(r).Decode(&tree); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	return normalize(tree), nil
}

// normalize turns YAML integers into float64 so trees read from YAML match
// trees decoded from JSON messages.
func normalize(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			n[k] = normalize(child)
		}
		return n
	case []any:
		for i, child := range n {
			n[i] = normalize(child)
		}
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return v
}

// Tree converts the typed model into the generic shape the scanner expects.
func (e Entity) Tree() map[string]any {
	out := map[string]any{}
	if e.Widget != nil {
		out[scan.WidgetKey] = e.Widget.tree()
	}
	if e.Tabs != nil {
		items := map[string]any{}
		e.Tabs.Items.Range(func(key string, tab Tab) {
			node := tab.Entity.Tree()
			if tab.Label != "" {
				node["label"] = tab.Label
			}
			items[key] = node
		})
		out["tabs"] = map[string]any{"items": items}
	}
	if e.Grids != nil {
		items := map[string]any{}
		e.Grids.Items.Range(func(key string, g Grid) {
			node := g.Entity.Tree()
			if g.Label != "" {
				node["label"] = g.Label
			}
			node["width"] = float64(g.Width)
			node["height"] = float64(g.Height)
			node["x"] = float64(g.X)
			node["y"] = float64(g.Y)
			items[key] = node
		})
		out["grids"] = map[string]any{
			"horizontal": float64(e.Grids.Horizontal),
			"vertical":   float64(e.Grids.Vertical),
			"items":      items,
		}
	}
	return out
}

func (w *Widget) tree() map[string]any {
	cfg := make(map[string]any, len(w.Config))
	for attr, v := range w.Config {
		cfg[attr] = v.tree()
	}
	out := map[string]any{"name": w.Name, "config": cfg}
	if w.Props != nil {
		out["props"] = normalize(w.Props)
	}
	return out
}

// Value is one attribute entry of a widget config.
type Value struct {
	Type        scan.Kind          `yaml:"type"`
	Label       string             `yaml:"label,omitempty"`
	Topic       *transport.Topic   `yaml:"topic,omitempty"`
	TopicField  string             `yaml:"topicField,omitempty"`
	Service     *transport.Service `yaml:"service,omitempty"`
	Constant    any                `yaml:"constant,omitempty"`
	HasConstant bool               `yaml:"-"`

	// Raw holds an entry that does not have the shape of a value entry,
	// such as a bare scalar or `service: /reset`. Tree emits it unchanged.
	Raw any `yaml:"-"`
	raw bool
}

// UnmarshalYAML records whether the constant member was present so an explicit
// null constant still binds. Entries that do not decode into Value are kept
// in Raw instead of failing the layout.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	type plain Value
	var p plain
	if node.Kind != yaml.MappingNode || node.Decode(&p) != nil {
		var raw any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*v = Value{Raw: normalize(raw), raw: true}
		return nil
	}
	*v = Value(p)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "constant" {
			v.HasConstant = true
			v.Constant = normalize(v.Constant)
		}
	}
	return nil
}

func (v Value) tree() any {
	if v.raw || v.Raw != nil {
		return v.Raw
	}
	out := map[string]any{"type": string(v.Type)}
	if v.Label != "" {
		out["label"] = v.Label
	}
	if v.Topic != nil {
		out["topic"] = map[string]any{"name": v.Topic.Name, "type": v.Topic.Type}
	}
	if v.TopicField != "" {
		out["topicField"] = v.TopicField
	}
	if v.Service != nil {
		out["service"] = map[string]any{"name": v.Service.Name, "type": v.Service.Type}
	}
	if v.HasConstant {
		out["constant"] = v.Constant
	}
	return out
}

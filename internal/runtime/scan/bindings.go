package scan

import (
	"github.com/drblury/widgetbus/transport"
)

// Kind is the type tag of a value entry.
type Kind string

const (
	KindSubscriber Kind = "subscriber"
	KindPublisher  Kind = "publisher"
	KindService    Kind = "service"
	KindConstant   Kind = "constant"

	// legacyTopic is what older layouts wrote for subscribers.
	legacyTopic = "topic"
)

// ParseKind maps a type tag onto a Kind.
func ParseKind(tag string) (Kind, bool) {
	switch tag {
	case string(KindSubscriber), legacyTopic:
		return KindSubscriber, true
	case string(KindPublisher):
		return KindPublisher, true
	case string(KindService):
		return KindService, true
	case string(KindConstant):
		return KindConstant, true
	}
	return "", false
}

// Valid reports whether k is one of the four binding kinds.
func (k Kind) Valid() bool {
	_, ok := ParseKind(string(k))
	return ok
}

func kindOf(e Entry) (Kind, bool) {
	tag, ok := e["type"].(string)
	if !ok {
		return "", false
	}
	return ParseKind(tag)
}

func isKind(k Kind) func(Entry) bool {
	return func(e Entry) bool {
		got, ok := kindOf(e)
		return ok && got == k
	}
}

// SubscriberBinding feeds a widget attribute from a topic field.
type SubscriberBinding struct {
	InstanceID string          `json:"instanceId"`
	AttrName   string          `json:"attrName"`
	Topic      transport.Topic `json:"topic"`
	TopicField string          `json:"topicField"`
}

func (b SubscriberBinding) Key() string { return AttrKey(b.InstanceID, b.AttrName) }

// PublisherBinding lets a widget publish to a topic. An empty TopicField means
// the widget value is published verbatim.
type PublisherBinding struct {
	InstanceID string          `json:"instanceId"`
	AttrName   string          `json:"attrName"`
	Topic      transport.Topic `json:"topic"`
	TopicField string          `json:"topicField,omitempty"`
}

func (b PublisherBinding) Key() string { return AttrKey(b.InstanceID, b.AttrName) }

// ServiceBinding lets a widget call a service.
type ServiceBinding struct {
	InstanceID string            `json:"instanceId"`
	AttrName   string            `json:"attrName"`
	Service    transport.Service `json:"service"`
}

func (b ServiceBinding) Key() string { return AttrKey(b.InstanceID, b.AttrName) }

// ConstantBinding supplies a fixed attribute value.
type ConstantBinding struct {
	InstanceID string `json:"instanceId"`
	AttrName   string `json:"attrName"`
	Value      any    `json:"value"`
}

func (b ConstantBinding) Key() string { return AttrKey(b.InstanceID, b.AttrName) }

// Subscribers extracts entries tagged subscriber that carry a topic object and
// a string topicField.
func Subscribers(tree any) []SubscriberBinding {
	return Collect(tree, isKind(KindSubscriber), func(r RawEntry) (SubscriberBinding, bool) {
		topic, ok := endpoint(r.Entry, "topic")
		if !ok {
			return SubscriberBinding{}, false
		}
		field, ok := r.Entry["topicField"].(string)
		if !ok {
			return SubscriberBinding{}, false
		}
		return SubscriberBinding{
			InstanceID: r.InstanceID,
			AttrName:   r.AttrName,
			Topic:      transport.Topic(topic),
			TopicField: field,
		}, true
	})
}

// Publishers extracts entries tagged publisher that carry a topic object. A
// topicField that is not a string is treated as absent.
func Publishers(tree any) []PublisherBinding {
	return Collect(tree, isKind(KindPublisher), func(r RawEntry) (PublisherBinding, bool) {
		topic, ok := endpoint(r.Entry, "topic")
		if !ok {
			return PublisherBinding{}, false
		}
		field, _ := r.Entry["topicField"].(string)
		return PublisherBinding{
			InstanceID: r.InstanceID,
			AttrName:   r.AttrName,
			Topic:      transport.Topic(topic),
			TopicField: field,
		}, true
	})
}

// Services extracts entries tagged service that carry a service object.
func Services(tree any) []ServiceBinding {
	return Collect(tree, isKind(KindService), func(r RawEntry) (ServiceBinding, bool) {
		svc, ok := endpoint(r.Entry, "service")
		if !ok {
			return ServiceBinding{}, false
		}
		return ServiceBinding{
			InstanceID: r.InstanceID,
			AttrName:   r.AttrName,
			Service:    transport.Service(svc),
		}, true
	})
}

// Constants extracts entries tagged constant that carry a constant member.
// The member may hold any value, nil included.
func Constants(tree any) []ConstantBinding {
	return Collect(tree, isKind(KindConstant), func(r RawEntry) (ConstantBinding, bool) {
		v, ok := r.Entry["constant"]
		if !ok {
			return ConstantBinding{}, false
		}
		return ConstantBinding{InstanceID: r.InstanceID, AttrName: r.AttrName, Value: v}, true
	})
}

type nameType struct {
	Name string
	Type string
}

// endpoint reads a {name, type} object. Missing or non-string members read as
// empty strings; only the object itself is required.
func endpoint(e Entry, key string) (nameType, bool) {
	m, ok := e[key].(map[string]any)
	if !ok {
		return nameType{}, false
	}
	name, _ := m["name"].(string)
	typ, _ := m["type"].(string)
	return nameType{Name: name, Type: typ}, true
}

// Set is every binding found in one tree.
type Set struct {
	Subscribers  []SubscriberBinding `json:"subscribers"`
	Publishers   []PublisherBinding  `json:"publishers"`
	Services     []ServiceBinding    `json:"services"`
	Constants    []ConstantBinding   `json:"constants"`
	Unrecognized []RawEntry          `json:"unrecognized,omitempty"`
	Widgets      []WidgetRef         `json:"widgets"`
}

// Len is the number of recognised bindings.
func (s Set) Len() int {
	return len(s.Subscribers) + len(s.Publishers) + len(s.Services) + len(s.Constants)
}

// All runs every extractor over tree.
func All(tree any) Set {
	return Set{
		Subscribers:  Subscribers(tree),
		Publishers:   Publishers(tree),
		Services:     Services(tree),
		Constants:    Constants(tree),
		Unrecognized: Unrecognized(tree),
		Widgets:      Widgets(tree),
	}
}

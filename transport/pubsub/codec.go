package pubsub

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
)

// Codec turns decoded message trees into payload bytes and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

const (
	CodecJSON      = "json"
	CodecProtoJSON = "protojson"
)

// CodecByName resolves a configured codec name. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecProtoJSON:
		return ProtoJSONCodec{}, nil
	default:
		return nil, fmt.Errorf("pubsub: unknown codec %q", name)
	}
}

// JSONCodec encodes with sonic.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Marshal(v any) ([]byte, error) { return jsoncodec.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte) (any, error) { return jsoncodec.UnmarshalValue(data) }

// ProtoJSONCodec wraps every payload in a google.protobuf.Value so consumers
// with protobuf tooling can read the stream.
type ProtoJSONCodec struct{}

func (ProtoJSONCodec) Name() string { return CodecProtoJSON }

func (ProtoJSONCodec) Marshal(v any) ([]byte, error) {
	tree, err := jsoncodec.Normalize(v)
	if err != nil {
		return nil, err
	}
	value, err := structpb.NewValue(tree)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	return protojson.Marshal(value)
}

func (ProtoJSONCodec) Unmarshal(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value structpb.Value
	if err := protojson.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value.AsInterface(), nil
}

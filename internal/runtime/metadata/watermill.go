package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// Apply writes every entry onto msg.
func Apply(msg *message.Message, md Metadata) {
	for k, v := range md {
		msg.Metadata.Set(k, v)
	}
}

package metadata

// Keys carried alongside every message a transport emits.
const (
	CorrelationIDKey = "correlation_id"
	ReplyToKey       = "reply_to"
	TypeKey          = "widgetbus_type"
	ContentTypeKey   = "content_type"
	ErrorKey         = "widgetbus_error"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	for k, v := range m {
		cloned[k] = v
	}
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// Get returns the value for key or "".
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

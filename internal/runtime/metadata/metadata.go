// Package metadata carries per-frame key/values alongside a forward message.
// Links that travel through a broker copy them into message headers; links
// speaking the backend protocol directly ignore them.
package metadata

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Reserved keys.
const (
	KeyCorrelationID = "correlation_id"
	KeyRequestKind   = "request_kind"
	KeyNode          = "node"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
)

// Metadata represents the headers carried alongside a frame.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy; it never returns nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

type contextKey struct{}

// NewContext returns ctx carrying md.
func NewContext(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, contextKey{}, md)
}

// FromContext returns the metadata carried by ctx, or nil.
func FromContext(ctx context.Context) Metadata {
	md, _ := ctx.Value(contextKey{}).(Metadata)
	return md
}

// ToWatermill copies md into the metadata of msg.
func ToWatermill(md Metadata, msg *message.Message) {
	for k, v := range md {
		msg.Metadata.Set(k, v)
	}
}

// FromWatermill converts Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

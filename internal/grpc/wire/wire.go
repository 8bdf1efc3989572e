// Package wire defines the fleetwatch.v1.Telemetry gRPC service. Messages are
// google.protobuf.Struct values carrying the JSON form of the Go types here,
// so no generated stubs are needed on either side.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
)

// PublishReply acknowledges an appended event.
type PublishReply struct {
	ID int64 `json:"id"`
}

// WatchRequest opens a live feed.
type WatchRequest struct {
	Kinds          []events.Kind `json:"kinds,omitempty"`
	Agent          string        `json:"agent,omitempty"`
	Location       string        `json:"location,omitempty"`
	BacklogSeconds int64         `json:"backlog_seconds,omitempty"`
}

// Options converts the request into feed options.
func (r WatchRequest) Options() (feed.Options, error) {
	var opts feed.Options
	for _, k := range r.Kinds {
		kind, err := events.ParseKind(string(k))
		if err != nil {
			return feed.Options{}, err
		}
		opts.Filter.Kinds = append(opts.Filter.Kinds, kind)
	}
	if r.Agent != "" {
		opts.Filter.Agent = &events.AgentID{Name: r.Agent, Location: r.Location}
	}
	if r.BacklogSeconds < 0 {
		return feed.Options{}, fmt.Errorf("%w: backlog_seconds must not be negative", events.ErrValidation)
	}
	opts.Backlog = time.Duration(r.BacklogSeconds) * time.Second
	return opts, nil
}

// ToStruct converts any JSON-encodable value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v, which must be a pointer.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode message: %v", events.ErrValidation, err)
	}
	return nil
}

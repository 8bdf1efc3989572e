package events

import (
	"encoding/json"
	"fmt"
)

var emptyPayload = []byte("{}")

// EncodePayload returns the JSON form of the event's kind-specific payload,
// as stored by the SQL adapters.
func EncodePayload(ev Event) ([]byte, error) {
	var v any
	switch {
	case ev.Kind.IsConnection() && ev.Connection != nil:
		v = ev.Connection
	case ev.Kind == KindSystemStats && ev.Stats != nil:
		v = ev.Stats
	case ev.Kind == KindHeartbeat && ev.Heartbeat != nil:
		v = ev.Heartbeat
	default:
		return emptyPayload, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}
	return b, nil
}

// DecodePayload sets the payload field matching ev.Kind from data.
func DecodePayload(ev *Event, data []byte) error {
	if len(data) == 0 {
		data = emptyPayload
	}
	var target any
	switch {
	case ev.Kind.IsConnection():
		ev.Connection = &ConnectionPayload{}
		target = ev.Connection
	case ev.Kind == KindSystemStats:
		ev.Stats = &StatsPayload{}
		target = ev.Stats
	case ev.Kind == KindHeartbeat:
		ev.Heartbeat = &HeartbeatPayload{}
		target = ev.Heartbeat
	default:
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s payload for event %d: %w", ev.Kind, ev.ID, err)
	}
	return nil
}

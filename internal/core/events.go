package core

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"

	"github.com/dkeye/streamrelay/internal/domain"
)

type EventType string

// Inbound.
const (
	EventStartStream  EventType = "start_stream"
	EventJoinStream   EventType = "join_stream"
	EventEndStream    EventType = "end_stream"
	EventLeaveStream  EventType = "leave_stream"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice_candidate"
	EventPing         EventType = "ping"
	EventWhoAmI       EventType = "whoami"
)

// Outbound.
const (
	EventStreamStarted EventType = "stream_started"
	EventStreamJoined  EventType = "stream_joined"
	EventViewerJoined  EventType = "viewer_joined"
	EventViewerLeft    EventType = "viewer_left"
	EventStreamEnded   EventType = "stream_ended"
	EventLeft          EventType = "left"
	EventPong          EventType = "pong"
	EventError         EventType = "error"
)

var errEmptyPayload = errors.New("empty relay payload")

// IsRelay reports whether t carries an opaque body between two peers.
func (t EventType) IsRelay() bool {
	return t.PayloadField() != ""
}

// PayloadField is the JSON key that holds the opaque body of a relay message.
func (t EventType) PayloadField() string {
	switch t {
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventICECandidate:
		return "candidate"
	}
	return ""
}

// Envelope is the union of every inbound field.
type Envelope struct {
	Type       EventType       `json:"type"`
	StreamCode string          `json:"stream_code,omitempty"`
	To         domain.ConnID   `json:"to,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Payload returns the opaque body matching the envelope type.
func (e Envelope) Payload() json.RawMessage {
	switch e.Type {
	case EventOffer:
		return e.Offer
	case EventAnswer:
		return e.Answer
	case EventICECandidate:
		return e.Candidate
	}
	return nil
}

func Encode(v any) (Frame, error) {
	return json.MarshalNoEscape(v)
}

// EncodeRelay builds {"type":t,"from":from,<field>:payload}.
// The payload bytes are spliced in untouched, never re-encoded.
func EncodeRelay(t EventType, from domain.ConnID, payload json.RawMessage) (Frame, error) {
	field := t.PayloadField()
	if field == "" {
		return nil, domain.ErrBadPayload
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errEmptyPayload
	}
	head, err := json.MarshalNoEscape(struct {
		Type EventType     `json:"type"`
		From domain.ConnID `json:"from"`
	}{t, from})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(head)+len(field)+len(payload)+4)
	out = append(out, head[:len(head)-1]...)
	out = append(out, `,"`...)
	out = append(out, field...)
	out = append(out, `":`...)
	out = append(out, payload...)
	out = append(out, '}')
	return out, nil
}

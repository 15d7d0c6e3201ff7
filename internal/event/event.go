package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity is the reported severity of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Type is a dotted event category such as "runtime.error".
type Type string

const (
	TypeRuntimeError Type = "runtime.error"
	TypeRuntimeLog   Type = "runtime.log"
	TypeCapture      Type = "gameplay.capture"
	TypeScore        Type = "gameplay.score"
	TypeMatch        Type = "gameplay.match"
	TypeAssetDiff    Type = "asset.diff"
	TypeBuildError   Type = "build.error"
)

// Event is a single diagnostic record from the connected application.
type Event struct {
	ID         string
	Type       Type
	Severity   Severity
	Message    string
	Payload    Payload
	Timestamp  time.Time
	StackTrace string
	File       string
	Line       int
}

// New creates an event with a fresh ID and the current timestamp.
func New(typ Type, severity Severity, message string, payload Payload) Event {
	if payload == nil {
		payload = OpaquePayload{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Message:   message,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// IsProblem reports whether the event is an error or a warning.
func (e Event) IsProblem() bool {
	return e.Severity == SeverityError || e.Severity == SeverityWarning
}

type wireEvent struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	StackTrace string          `json:"stackTrace,omitempty"`
	File       string          `json:"file,omitempty"`
	Line       int             `json:"line,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:         e.ID,
		Type:       e.Type,
		Severity:   e.Severity,
		Message:    e.Message,
		Timestamp:  e.Timestamp,
		StackTrace: e.StackTrace,
		File:       e.File,
		Line:       e.Line,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", e.Type, err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The payload is decoded into
// the variant matching the event type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return fmt.Errorf("decoding %s payload: %w", w.Type, err)
	}
	*e = Event{
		ID:         w.ID,
		Type:       w.Type,
		Severity:   w.Severity,
		Message:    w.Message,
		Payload:    payload,
		Timestamp:  w.Timestamp,
		StackTrace: w.StackTrace,
		File:       w.File,
		Line:       w.Line,
	}
	return nil
}

// Parse decodes a JSON event and fills in a missing ID or timestamp.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("parsing event: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

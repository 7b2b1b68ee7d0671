// File: api/schemas/events.go
package schemas

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKind identifies the source of a log entry.
type EventKind string

const (
	EventRequest    EventKind = "request"
	EventResponse   EventKind = "response"
	EventConsole    EventKind = "console"
	EventNavigation EventKind = "navigation"
	EventPageError  EventKind = "page-error"
	// EventScript marks step boundaries written by the runner driving the browser.
	EventScript EventKind = "script"
)

// Severity of a log entry.
type Severity string

const (
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// LogEntry is one observation in a session's event log.
type LogEntry struct {
	Time     time.Time `json:"time"`
	Event    EventKind `json:"event"`
	Severity Severity  `json:"severity"`
	Payload  any       `json:"payload"`
}

// Record converts the entry into its plain report form.
func (e LogEntry) Record() EventRecord {
	return EventRecord{
		Time:     e.Time,
		Event:    string(e.Event),
		Severity: string(e.Severity),
		Payload:  e.Payload,
	}
}

// EventRecord is the structure handed to report consumers.
type EventRecord struct {
	Time     time.Time `json:"time"`
	Event    string    `json:"event"`
	Severity string    `json:"severity"`
	Payload  any       `json:"payload"`
}

// UnmarshalJSON restores the typed payload of a record from its event kind,
// so archived reports render the same as live ones.
func (r *EventRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Time     time.Time           `json:"time"`
		Event    string              `json:"event"`
		Severity string              `json:"severity"`
		Payload  jsoniter.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(EventKind(raw.Event), raw.Payload)
	if err != nil {
		return fmt.Errorf("event %q: %w", raw.Event, err)
	}
	*r = EventRecord{Time: raw.Time, Event: raw.Event, Severity: raw.Severity, Payload: payload}
	return nil
}

// DecodePayload decodes a payload into the type the event kind carries.
// Unknown kinds decode generically.
func DecodePayload(kind EventKind, data []byte) (any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var err error
	switch kind {
	case EventRequest:
		var p RequestData
		err = json.Unmarshal(data, &p)
		return p, err
	case EventResponse:
		var p ResponsePayload
		err = json.Unmarshal(data, &p)
		return p, err
	case EventNavigation:
		var p NavigationData
		err = json.Unmarshal(data, &p)
		return p, err
	case EventConsole, EventPageError, EventScript:
		var p string
		err = json.Unmarshal(data, &p)
		return p, err
	default:
		var p any
		err = json.Unmarshal(data, &p)
		return p, err
	}
}

// RequestData describes a captured request. PostData holds the (possibly
// re-indented) request body and Failure the reason a request did not complete.
type RequestData struct {
	RequestID    int64   `json:"requestId"`
	Method       string  `json:"method"`
	ResourceType string  `json:"resourceType"`
	URL          string  `json:"url"`
	PostData     *string `json:"postData,omitempty"`
	Failure      *string `json:"failure,omitempty"`
}

// ResponseData describes the outcome of a completed request. Content is nil
// when the body could not be decoded.
type ResponseData struct {
	Status     int     `json:"status"`
	StatusText string  `json:"statusText"`
	OK         bool    `json:"ok"`
	Content    *string `json:"content"`
}

// ResponsePayload pairs a response with the request that produced it.
type ResponsePayload struct {
	Request  RequestData  `json:"request"`
	Response ResponseData `json:"response"`
}

// NavigationData is the payload of a main-frame navigation.
type NavigationData struct {
	URL string `json:"url"`
}

// SessionReport is the archived form of a session's event log.
type SessionReport struct {
	SessionID string        `json:"sessionId"`
	Target    string        `json:"target,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Events    []EventRecord `json:"events"`
}

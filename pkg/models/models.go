package models

import (
	"time"
)

// TimestampPrecision is the wire resolution of the Timestamp header and
// of every queued item: tenths of a second.
const TimestampPrecision = 100 * time.Millisecond

// Timestamp returns the current time truncated to the wire precision,
// as fractional seconds since the epoch.
func Timestamp() float64 {
	return float64(time.Now().UnixNano()/int64(TimestampPrecision)) / 10
}

// QueueItem is one unit of outbound traffic. Exactly three types
// implement it: Event, Telemetry and RegistrationPoll. The dispatch
// loop type-switches on the concrete type.
type QueueItem interface {
	queueItem()
}

// Event is an immutable message about something that happened on the
// device: a state change, a command outcome, a file change. Extra named
// fields go into Data and are sent under the "data" key with null
// values filtered out at serialization time.
type Event struct {
	Kind      EventKind
	Source    Source
	Timestamp float64
	CommandID int
	JobID     int
	Reason    string
	State     State
	Data      map[string]any
}

func (Event) queueItem() {}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind EventKind, source Source, data map[string]any) Event {
	return Event{
		Kind:      kind,
		Source:    source,
		Timestamp: Timestamp(),
		Data:      data,
	}
}

// Payload returns the wire body for POST /p/events.
func (e Event) Payload() map[string]any {
	payload := map[string]any{
		"event":  string(e.Kind),
		"source": string(e.Source),
		"data":   filterNull(e.Data),
	}
	if e.CommandID != 0 {
		payload["command_id"] = e.CommandID
	}
	if e.JobID != 0 {
		payload["job_id"] = e.JobID
	}
	if e.Reason != "" {
		payload["reason"] = e.Reason
	}
	if e.State != "" {
		payload["state"] = string(e.State)
	}
	return payload
}

// Telemetry is one sample of the device state. Samples are sent one at
// a time, never batched. Extra fields merge flat into the payload.
type Telemetry struct {
	State     State
	Timestamp float64
	JobID     int
	Data      map[string]any
}

func (Telemetry) queueItem() {}

// NewTelemetry builds a sample stamped with the current time.
func NewTelemetry(state State, data map[string]any) Telemetry {
	return Telemetry{
		State:     state,
		Timestamp: Timestamp(),
		Data:      data,
	}
}

// Payload returns the wire body for POST /p/telemetry.
func (t Telemetry) Payload() map[string]any {
	payload := map[string]any{}
	for k, v := range filterNull(t.Data) {
		payload[k] = v
	}
	payload["state"] = string(t.State)
	if t.JobID != 0 {
		payload["job_id"] = t.JobID
	}
	return payload
}

// RegistrationWindow is how long a temporary code stays valid.
const RegistrationWindow = 30 * time.Minute

// RegistrationPoll asks the service whether a pending registration has
// been confirmed. It is re-queued while the service answers 202 and the
// deadline has not passed.
type RegistrationPoll struct {
	Code     string
	Deadline time.Time
}

func (RegistrationPoll) queueItem() {}

// NewRegistrationPoll starts the fixed registration window for a
// temporary code.
func NewRegistrationPoll(code string) RegistrationPoll {
	return RegistrationPoll{
		Code:     code,
		Deadline: time.Now().Add(RegistrationWindow),
	}
}

// Expired reports whether the registration window has closed.
func (r RegistrationPoll) Expired() bool {
	return time.Now().After(r.Deadline)
}

// filterNull drops nil values so optional fields never serialize as
// JSON null, recursing into nested maps and slices.
func filterNull(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = filterNull(val)
		case []any:
			items := make([]any, 0, len(val))
			for _, item := range val {
				if item != nil {
					items = append(items, item)
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

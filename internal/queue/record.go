package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Destination names the channel a record must be retried on.
type Destination string

const (
	Webhook   Destination = "webhook"
	Broadcast Destination = "broadcast"
)

// ParseDestination accepts "telegram" as a legacy name for Broadcast.
// Unknown names are returned unchanged (lower-cased).
func ParseDestination(s string) Destination {
	d := strings.ToLower(strings.TrimSpace(s))
	if d == "telegram" {
		return Broadcast
	}
	return Destination(d)
}

func (d Destination) Known() bool { return d == Webhook || d == Broadcast }

// Record is one pending delivery.
type Record struct {
	Destination Destination    `json:"destination"`
	Tag         string         `json:"tag"`
	Payload     map[string]any `json:"payload"`
	Context     map[string]any `json:"context"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastAttempt *time.Time     `json:"lastAttempt,omitempty"`

	name string
}

// Name is the queue file the record was read from or written to.
func (r Record) Name() string { return r.name }

// WithName returns a copy bound to the given queue file name.
func (r Record) WithName(name string) Record {
	r.name = name
	return r
}

// MarkFailed records a failed attempt.
func (r Record) MarkFailed(err error, at time.Time) Record {
	r.Attempts++
	if err != nil {
		r.Error = err.Error()
	}
	at = at.UTC()
	r.LastAttempt = &at
	return r
}

// Age is the time since the record was created.
func (r Record) Age(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	aux := struct {
		*plain
		Destination string `json:"destination"`
		Error       any    `json:"error"`
		Timestamp   string `json:"timestamp"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Destination = ParseDestination(aux.Destination)
	switch e := aux.Error.(type) {
	case nil:
		r.Error = ""
	case string:
		r.Error = e
	default:
		eb, _ := json.Marshal(e)
		r.Error = string(eb)
	}
	if r.CreatedAt.IsZero() && aux.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, aux.Timestamp); err == nil {
			r.CreatedAt = ts.UTC()
		}
	}
	if r.Payload == nil {
		r.Payload = map[string]any{}
	}
	if r.Context == nil {
		r.Context = map[string]any{}
	}
	return nil
}

// ContextString reads a string value from the record context.
func (r Record) ContextString(key string) string {
	v, _ := r.Context[key].(string)
	return v
}

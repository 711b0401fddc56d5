// Package types provides the core data types shared by the event store, the
// summary generator and the compaction pipeline.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EventType categorizes an event. The set is closed: records carrying any
// other value are treated as malformed on read and rejected on append.
type EventType string

const (
	TypeSessionStart EventType = "session_start"
	TypeSessionEnd   EventType = "session_end"
	TypeMessage      EventType = "message"
	TypeToolCall     EventType = "tool_call"
	TypeFileEdit     EventType = "file_edit"
	TypeCommand      EventType = "command"
	TypeConfigChange EventType = "config_change"
	TypeError        EventType = "error"
	TypeNote         EventType = "note"
)

// EventTypes lists every known event type in a stable order.
var EventTypes = []EventType{
	TypeSessionStart,
	TypeSessionEnd,
	TypeMessage,
	TypeToolCall,
	TypeFileEdit,
	TypeCommand,
	TypeConfigChange,
	TypeError,
	TypeNote,
}

// Valid reports whether t belongs to the closed event type set.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType converts a string into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// EventRecord is one immutable occurrence in the event log.
type EventRecord struct {
	// ID is unique across the whole log (evt_ + ULID when generated on append)
	ID string `json:"id"`

	// Timestamp is the UTC instant the event occurred
	Timestamp time.Time `json:"timestamp"`

	// SessionID groups events emitted by the same session
	SessionID string `json:"sessionId"`

	// Type is one of EventTypes
	Type EventType `json:"type"`

	// Data is the event-specific payload
	Data Payload `json:"data,omitempty"`

	// Redacted marks records hidden from default reads
	Redacted bool `json:"redacted,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (e *EventRecord) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	return nil
}

// Period returns the calendar month the event belongs to.
func (e *EventRecord) Period() Period {
	return PeriodOf(e.Timestamp)
}

// ParseEventLine decodes a single JSON line into a validated EventRecord.
// Timestamps are normalized to UTC.
func ParseEventLine(line []byte) (EventRecord, error) {
	var rec EventRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return EventRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return EventRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// SortEvents orders events by timestamp, breaking ties on id.
func SortEvents(events []EventRecord) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

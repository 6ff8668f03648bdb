// Package protocol defines the realtime wire format shared by the SignBridge
// server and its Go client.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tables that emit change events.
const (
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableMessages      = "messages"
	TableTyping        = "typing_indicators"
)

// PresenceChannel is the shared channel every signed-in client joins.
const PresenceChannel = "online-users"

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	Table           string          `json:"table"`
	Type            EventType       `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Row returns the record a filter should be evaluated against: the new row,
// or the old row for deletes.
func (e ChangeEvent) Row() json.RawMessage {
	if e.Type == Delete || len(e.Record) == 0 {
		return e.OldRecord
	}
	return e.Record
}

// Frame types.
const (
	FrameSubscribe     = "subscribe"
	FrameUnsubscribe   = "unsubscribe"
	FrameSubscribed    = "subscribed"
	FrameChange        = "change"
	FramePresenceJoin  = "presence_join"
	FramePresenceLeave = "presence_leave"
	FrameTrack         = "track"
	FrameUntrack       = "untrack"
	FramePresenceSync  = "presence_sync"
	FrameError         = "error"
	FrameDropped       = "messages_dropped"
)

// Frame is one websocket text message in either direction.
type Frame struct {
	Type    string                    `json:"type"`
	Ref     string                    `json:"ref,omitempty"`
	Table   string                    `json:"table,omitempty"`
	Filter  string                    `json:"filter,omitempty"`
	Channel string                    `json:"channel,omitempty"`
	Event   *ChangeEvent              `json:"event,omitempty"`
	Meta    *PresenceMeta             `json:"meta,omitempty"`
	State   map[string][]PresenceMeta `json:"state,omitempty"`
	Payload json.RawMessage           `json:"payload,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// PresenceMeta is what a client tracks on the presence channel.
type PresenceMeta struct {
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	OnlineAt    time.Time `json:"online_at"`
}

// Filter is a single column equality, written "column=eq.value".
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses "column=eq.value". An empty string yields the zero Filter.
func ParseFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return Filter{}, fmt.Errorf("filter %q: expected column=eq.value", raw)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	column = strings.TrimSpace(column)
	if !ok || column == "" || value == "" {
		return Filter{}, fmt.Errorf("filter %q: expected column=eq.value", raw)
	}
	return Filter{Column: column, Value: value}, nil
}

// Eq builds a filter for column = value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: fmt.Sprint(value)}
}

func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Matches reports whether row's column equals the filter value. Values are
// compared in their JSON text form, so numbers and booleans match their
// decimal and literal spellings.
func (f Filter) Matches(row json.RawMessage) bool {
	if f.IsZero() {
		return true
	}
	if len(row) == 0 {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return f.Value == "null" && ok
	}
	return fmt.Sprint(v) == f.Value
}

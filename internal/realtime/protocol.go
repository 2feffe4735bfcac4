package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"notifysync/internal/model"
)

// Phoenix channel events used by the realtime server.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"

	heartbeatTopic = "phoenix"
)

// Message is one frame on the socket.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changeBinding struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []changeBinding `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	IDs  []int64 `json:"ids"`
	Data struct {
		Schema          string          `json:"schema"`
		Table           string          `json:"table"`
		CommitTimestamp string          `json:"commit_timestamp"`
		Type            string          `json:"type"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
	} `json:"data"`
}

// row is the wire shape of a notifications row. Timestamps arrive as text and
// not always with an offset, so they are parsed by hand.
type row struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Data      json.RawMessage `json:"data"`
	Read      bool            `json:"read"`
	SentAt    *string         `json:"sent_at"`
	ReadAt    *string         `json:"read_at"`
	CreatedAt string          `json:"created_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// decodeRecord turns a change-event record into a notification.
func decodeRecord(raw json.RawMessage) (model.Notification, error) {
	var r row
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Notification{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if r.ID == "" {
		return model.Notification{}, fmt.Errorf("record has no id")
	}

	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("record %s: created_at: %w", r.ID, err)
	}

	n := model.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Body:      r.Body,
		Read:      r.Read,
		CreatedAt: createdAt,
	}
	if len(r.Data) > 0 && string(r.Data) != "null" {
		n.Data = datatypes.JSON(r.Data)
	}
	if r.SentAt != nil {
		if t, err := parseTimestamp(*r.SentAt); err == nil {
			n.SentAt = t
		}
	}
	if r.ReadAt != nil {
		t, err := parseTimestamp(*r.ReadAt)
		if err != nil {
			return model.Notification{}, fmt.Errorf("record %s: read_at: %w", r.ID, err)
		}
		n.ReadAt = &t
	}
	return n, nil
}

// Package payload turns the free-form data attached to a notification into a
// small set of known, validated shapes. Anything that does not match a known
// shape is kept as Opaque so callers can still switch on it safely.
package payload

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind identifies a payload variant.
type Kind string

const (
	KindNewPost Kind = "new_post"
	KindTest    Kind = "test"
	KindOpaque  Kind = "opaque"
)

// Payload is implemented by every variant.
type Payload interface {
	Kind() Kind
}

// NewPost is attached when another user publishes a post.
type NewPost struct {
	PostID   string `json:"post_id" validate:"required"`
	AuthorID string `json:"user_id" validate:"required"`
	Title    string `json:"title"`
}

func (NewPost) Kind() Kind { return KindNewPost }

// Test is attached to manual sends from the profile screen. Timestamp is
// the send time in Unix milliseconds.
type Test struct {
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (Test) Kind() Kind { return KindTest }

// Opaque carries data of an unknown or invalid shape untouched.
type Opaque struct {
	Raw json.RawMessage
}

func (Opaque) Kind() Kind { return KindOpaque }

var validate = validator.New(validator.WithRequiredStructEnabled())

type envelope struct {
	Type string `json:"type"`
}

// Parse decodes raw notification data. It never fails: empty, malformed, or
// unrecognised input yields Opaque.
func Parse(raw []byte) Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return Opaque{}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Opaque{Raw: json.RawMessage(raw)}
	}

	switch Kind(strings.ToLower(strings.TrimSpace(env.Type))) {
	case KindNewPost:
		var p NewPost
		if decodeValid(raw, &p) {
			return p
		}
	case KindTest:
		var p Test
		if decodeValid(raw, &p) {
			return p
		}
	}
	return Opaque{Raw: json.RawMessage(raw)}
}

func decodeValid(raw []byte, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return validate.Struct(dst) == nil
}

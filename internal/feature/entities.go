package feature

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errNotJSON = errors.New("entity is not valid JSON")

// Entity is a backend representation carried byte for byte. The gateway only
// reads the few ids it routes on; everything else reaches clients untouched.
type Entity struct {
	raw json.RawMessage
}

// NewEntity wraps raw JSON. It fails on anything that is not valid JSON.
func NewEntity(raw []byte) (Entity, error) {
	var e Entity
	err := e.UnmarshalJSON(raw)
	return e, err
}

func (e Entity) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return []byte("null"), nil
	}
	return e.raw, nil
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errNotJSON
	}
	e.raw = bytes.Clone(data)
	return nil
}

// Get reads a value by gjson path, e.g. "recipient.id". Missing is "".
func (e Entity) Get(path string) string {
	return gjson.GetBytes(e.raw, path).String()
}

// First returns the first non-empty value among paths.
func (e Entity) First(paths ...string) string {
	for _, p := range paths {
		if v := e.Get(p); v != "" {
			return v
		}
	}
	return ""
}

func (e Entity) Raw() json.RawMessage { return e.raw }

type Attachment struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// DirectMessage is a 1:1 message. Both participants receive its events.
type DirectMessage struct{ Entity }

func (m *DirectMessage) Audience() []string {
	return []string{m.Get("sender.id"), m.Get("recipient.id")}
}

// RoomMessage is a message posted to a room's general chat.
type RoomMessage struct{ Entity }

// Normalize fills attachments from the single legacy attachment URL, and
// never leaves it null. Only that key is rewritten.
func (m *RoomMessage) Normalize() {
	doc := gjson.ParseBytes(m.raw)
	if !doc.IsObject() {
		return
	}
	if atts := doc.Get("attachments"); atts.IsArray() && len(atts.Array()) > 0 {
		return
	}
	list := []Attachment{}
	if url := doc.Get("attachmentURL").String(); url != "" {
		list = []Attachment{{ID: "att-" + doc.Get("id").String(), Name: "Attachment", URL: url}}
	}
	patched, err := sjson.SetBytes(m.raw, "attachments", list)
	if err != nil {
		return
	}
	m.raw = patched
}

type Announcement struct{ Entity }

// Notification is pushed by the backend; its shape belongs to the backend.
type Notification struct{ Entity }

// DirectMessageDeleted announces a delete-for-everyone to both participants.
type DirectMessageDeleted struct {
	MessageID   string `json:"messageId"`
	DeletedFor  string `json:"deletedFor"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
}

func (d *DirectMessageDeleted) Audience() []string {
	return []string{d.SenderID, d.RecipientID}
}

type RoomMessageDeleted struct {
	MessageID  string `json:"messageId"`
	DeletedFor string `json:"deletedFor"`
	RoomID     string `json:"roomId"`
	AuthorID   string `json:"authorId"`
}

type AnnouncementDeleted struct {
	AnnouncementID string `json:"announcementId"`
	RoomID         string `json:"roomId"`
}

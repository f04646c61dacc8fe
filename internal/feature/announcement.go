package feature

import (
	"net/http"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/tidwall/gjson"
)

const (
	EventNewAnnouncement     envelope.EventType = "new-announcement"
	EventAnnouncementUpdated envelope.EventType = "announcement-updated"
	EventAnnouncementDeleted envelope.EventType = "announcement-deleted"
)

// Announcements are room-scoped posts by instructors.
var Announcements = Descriptor{
	Name:    "announcement",
	Path:    "/announcement",
	Channel: "announcements",
	Rooms:   true,
	Schema: envelope.Schema{
		EventNewAnnouncement:     {ClientEvent: "newAnnouncement", New: func() any { return &Announcement{} }},
		EventAnnouncementUpdated: {ClientEvent: "announcementUpdated", New: func() any { return &Announcement{} }},
		EventAnnouncementDeleted: {ClientEvent: "announcementDeleted", New: func() any { return &AnnouncementDeleted{} }},
	},
	Commands: []Command{
		{
			Event:     "postAnnouncement",
			Method:    http.MethodPost,
			Route:     "/announcements/create",
			Input:     func() Input { return &PostAnnouncement{} },
			Entity:    func() any { return &Announcement{} },
			ResultKey: "announcement",
			Fallback:  "Failed to post announcement",
			Publish:   publishRoomMessage(EventNewAnnouncement),
		},
		{
			Event:     "editAnnouncement",
			Method:    http.MethodPatch,
			Route:     "/announcements/{.payload.announcementId}",
			Input:     func() Input { return &EditAnnouncement{} },
			Entity:    func() any { return &Announcement{} },
			ResultKey: "announcement",
			EntityKey: "announcementId",
			Fallback:  "Failed to edit announcement",
			Publish:   publishRoomMessage(EventAnnouncementUpdated),
		},
		{
			Event:     "deleteAnnouncement",
			Method:    http.MethodDelete,
			Route:     "/announcements/{.payload.announcementId}?roomId={.payload.roomId}",
			Input:     func() Input { return &DeleteAnnouncement{} },
			EntityKey: "announcementId",
			Fallback:  "Failed to delete announcement",
			Publish: func(o Outcome) (*envelope.Envelope, error) {
				in := o.Input.(*DeleteAnnouncement)
				return &envelope.Envelope{
					EventType:        EventAnnouncementDeleted,
					Payload:          &AnnouncementDeleted{AnnouncementID: in.AnnouncementID, RoomID: in.RoomID},
					Target:           envelope.Room(in.RoomID),
					OriginatorUserID: o.Actor.UserID,
				}, nil
			},
		},
	},
}

type PostAnnouncement struct {
	RoomID      string `json:"roomId"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	IsPublished *bool  `json:"isPublished,omitempty"`
}

func (a *PostAnnouncement) Room() string { return a.RoomID }

func (a *PostAnnouncement) Validate() error {
	return firstError(
		requireUUIDv4("roomId", a.RoomID),
		requireNonEmpty("title", a.Title),
		requireNonEmpty("content", a.Content),
	)
}

// Body publishes immediately unless the client asked otherwise.
func (a *PostAnnouncement) Body() any {
	published := true
	if a.IsPublished != nil {
		published = *a.IsPublished
	}
	return struct {
		RoomID      string `json:"roomId"`
		Title       string `json:"title"`
		Content     string `json:"content"`
		IsPublished bool   `json:"isPublished"`
	}{a.RoomID, a.Title, a.Content, published}
}

type EditAnnouncement struct {
	AnnouncementID string  `json:"announcementId"`
	RoomID         string  `json:"roomId"`
	Title          *string `json:"title,omitempty"`
	Content        *string `json:"content,omitempty"`
	IsPublished    *bool   `json:"isPublished,omitempty"`
}

func (a *EditAnnouncement) Room() string { return a.RoomID }

func (a *EditAnnouncement) Validate() error {
	return firstError(
		requireUUIDv4("announcementId", a.AnnouncementID),
		requireUUIDv4("roomId", a.RoomID),
	)
}

func (a *EditAnnouncement) Body() any {
	return struct {
		RoomID      string  `json:"roomId"`
		Title       *string `json:"title,omitempty"`
		Content     *string `json:"content,omitempty"`
		IsPublished *bool   `json:"isPublished,omitempty"`
	}{a.RoomID, a.Title, a.Content, a.IsPublished}
}

type DeleteAnnouncement struct {
	AnnouncementID string `json:"announcementId"`
	RoomID         string `json:"roomId"`
}

func (a *DeleteAnnouncement) Validate() error {
	return firstError(
		requireUUIDv4("announcementId", a.AnnouncementID),
		requireUUIDv4("roomId", a.RoomID),
	)
}

func (a *DeleteAnnouncement) Body() any { return nil }

// PublishedAnnouncement builds the envelope for an announcement the backend
// scheduler published. The body is the announcement itself, forwarded as is;
// the room and author are read from roomId/authorId or room.id/author.id.
func PublishedAnnouncement(body []byte) (*envelope.Envelope, error) {
	var a Announcement
	if err := a.UnmarshalJSON(body); err != nil || !gjson.ParseBytes(body).IsObject() {
		return nil, invalid("", "malformed announcement")
	}
	roomID := a.First("roomId", "room.id")
	if roomID == "" {
		return nil, invalid("roomId", "roomId is required")
	}
	return &envelope.Envelope{
		EventType:        EventNewAnnouncement,
		Payload:          &a,
		Target:           envelope.Room(roomID),
		OriginatorUserID: a.First("authorId", "author.id"),
	}, nil
}

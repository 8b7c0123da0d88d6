package notification

import (
	"errors"
	"time"
)

// EventKind names a domain event handed to the router.
type EventKind string

const (
	EventFileUploaded       EventKind = "file.uploaded"
	EventFileDeleted        EventKind = "file.deleted"
	EventMealCompleted      EventKind = "meal.completed"
	EventProgressUpdated    EventKind = "progress.updated"
	EventDirectMessage      EventKind = "message.direct"
	EventSystemAnnouncement EventKind = "system.announcement"
)

var (
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrInvalidEvent     = errors.New("invalid event")
)

// Event is something that happened in the platform and may interest several users.
type Event struct {
	Kind EventKind `json:"kind" validate:"required"`
	// ActorID is who caused the event. Always notified.
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
	// OwnerID owns the acted-upon entity; defaults to the actor.
	OwnerID int64 `json:"owner_id,omitempty" validate:"gte=0"`
	// RecipientID addresses direct messages and targeted system announcements.
	RecipientID int64 `json:"recipient_id,omitempty" validate:"gte=0"`
	// SubjectID identifies the acted-upon entity (artifact id, meal id, ...).
	SubjectID string `json:"subject_id,omitempty" validate:"max=128"`
	// Category is the artifact category for file events.
	Category string `json:"category,omitempty" validate:"max=64"`
	// Title and Message override the template text when set.
	Title      string         `json:"title,omitempty" validate:"max=200"`
	Message    string         `json:"message,omitempty" validate:"max=2000"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
}

func (e Event) owner() int64 {
	if e.OwnerID > 0 {
		return e.OwnerID
	}
	return e.ActorID
}

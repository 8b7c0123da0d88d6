package notification

import (
	"time"
)

// Kind is the notification type shown to the recipient.
type Kind string

const (
	KindFileUploaded    Kind = "file_uploaded"
	KindFileDeleted     Kind = "file_deleted"
	KindMealCompleted   Kind = "meal_completed"
	KindProgressUpdated Kind = "progress_updated"
	KindDirectMessage   Kind = "direct_message"
	KindSystem          Kind = "system"
)

// Notification is a transient message for one recipient. It is never persisted:
// if the recipient has no live connection it is dropped.
type Notification struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	RecipientID int64          `json:"recipient_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

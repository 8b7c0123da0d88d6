package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory lists both sides of trainer↔client links. Implemented by relationship.Service.
type Directory interface {
	TrainersOf(ctx context.Context, clientID int64) ([]int64, error)
	ClientsOf(ctx context.Context, trainerID int64) ([]int64, error)
}

type template struct {
	kind  Kind
	title string
	body  string
}

var templates = map[EventKind]template{
	EventFileUploaded:       {KindFileUploaded, "New %s uploaded", "A new %s is available."},
	EventFileDeleted:        {KindFileDeleted, "%s removed", "A %s was deleted."},
	EventMealCompleted:      {KindMealCompleted, "Meal completed", "A meal from the plan was marked as completed."},
	EventProgressUpdated:    {KindProgressUpdated, "Progress updated", "New progress has been recorded."},
	EventDirectMessage:      {KindDirectMessage, "New message", "You have a new message."},
	EventSystemAnnouncement: {KindSystem, "Announcement", ""},
}

// Router decides who hears about an event and what they see. It never delivers.
type Router struct {
	dir Directory
	log *slog.Logger
	now func() time.Time
}

func NewRouter(dir Directory, log *slog.Logger) *Router {
	return &Router{
		dir: dir,
		log: log.With("component", "notification_router"),
		now: time.Now,
	}
}

// Route returns one notification per recipient, actor first, without duplicates.
func (r *Router) Route(ctx context.Context, e Event) ([]Notification, error) {
	tpl, ok := templates[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	if e.ActorID <= 0 {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidEvent)
	}

	recipients, err := r.recipients(ctx, e)
	if err != nil {
		return nil, err
	}

	title, body := render(tpl, e)
	createdAt := e.OccurredAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	createdAt = createdAt.UTC()

	out := make([]Notification, 0, len(recipients))
	for _, id := range recipients {
		out = append(out, Notification{
			ID:          uuid.NewString(),
			Kind:        tpl.kind,
			RecipientID: id,
			Title:       title,
			Body:        body,
			Data:        payload(e),
			CreatedAt:   createdAt,
		})
	}
	return out, nil
}

func (r *Router) recipients(ctx context.Context, e Event) ([]int64, error) {
	set := newRecipientSet()
	set.add(e.ActorID)

	switch e.Kind {
	case EventDirectMessage:
		if e.RecipientID <= 0 {
			return nil, fmt.Errorf("%w: recipient_id is required for %s", ErrInvalidEvent, e.Kind)
		}
		set.add(e.RecipientID)

	case EventSystemAnnouncement:
		if e.RecipientID > 0 {
			set = newRecipientSet()
			set.add(e.RecipientID)
		}

	default:
		owner := e.owner()
		set.add(owner)
		if r.dir == nil {
			break
		}
		// A failed lookup degrades to actor and owner.
		for _, lookup := range []struct {
			name string
			fn   func(context.Context, int64) ([]int64, error)
		}{
			{"trainers", r.dir.TrainersOf},
			{"clients", r.dir.ClientsOf},
		} {
			ids, err := lookup.fn(ctx, owner)
			if err != nil {
				r.log.Warn("counterpart lookup failed", "lookup", lookup.name, "owner_id", owner, "kind", e.Kind, "error", err)
				continue
			}
			for _, id := range ids {
				set.add(id)
			}
		}
	}
	return set.ids, nil
}

func render(tpl template, e Event) (string, string) {
	title, body := tpl.title, tpl.body
	if strings.Contains(title, "%s") || strings.Contains(body, "%s") {
		label := categoryLabel(e.Category)
		title = capitalize(fmt.Sprintf(title, label))
		body = fmt.Sprintf(body, label)
	}
	if e.Title != "" {
		title = e.Title
	}
	if e.Message != "" {
		body = e.Message
	}
	return title, body
}

func categoryLabel(category string) string {
	switch category {
	case "profile-photo":
		return "profile photo"
	case "progress-photo":
		return "progress photo"
	case "meal-photo":
		return "meal photo"
	case "document":
		return "document"
	default:
		return "file"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// payload copies the event data and adds the entity ids clients need to follow up.
func payload(e Event) map[string]any {
	data := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		data[k] = v
	}
	data["event"] = string(e.Kind)
	data["actor_id"] = e.ActorID
	if e.Kind != EventDirectMessage && e.Kind != EventSystemAnnouncement {
		data["owner_id"] = e.owner()
	}
	if e.SubjectID != "" {
		data["subject_id"] = e.SubjectID
	}
	if e.Category != "" {
		data["category"] = e.Category
	}
	return data
}

type recipientSet struct {
	seen map[int64]struct{}
	ids  []int64
}

func newRecipientSet() *recipientSet {
	return &recipientSet{seen: make(map[int64]struct{})}
}

func (s *recipientSet) add(id int64) {
	if id <= 0 {
		return
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}

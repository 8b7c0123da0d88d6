package notification

import (
	"context"
	"log/slog"
)

// Deliverer pushes a notification to a live connection. Implemented by realtime.Hub.
type Deliverer interface {
	Deliver(userID int64, n *Notification) bool
}

// PublishResult counts what happened to one event.
type PublishResult struct {
	Routed    int `json:"routed"`
	Delivered int `json:"delivered"`
}

// Dispatcher routes events and hands the notifications to the hub.
// Delivery is best effort: offline recipients and failed sends are skipped.
type Dispatcher struct {
	router *Router
	hub    Deliverer
	log    *slog.Logger
}

func NewDispatcher(router *Router, hub Deliverer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		router: router,
		hub:    hub,
		log:    log.With("component", "notification_dispatcher"),
	}
}

// Publish only fails when the event cannot be routed.
func (d *Dispatcher) Publish(ctx context.Context, e Event) (PublishResult, error) {
	notes, err := d.router.Route(ctx, e)
	if err != nil {
		return PublishResult{}, err
	}

	res := PublishResult{Routed: len(notes)}
	for i := range notes {
		n := &notes[i]
		if d.hub.Deliver(n.RecipientID, n) {
			res.Delivered++
			continue
		}
		d.log.Debug("notification not delivered", "recipient_id", n.RecipientID, "kind", n.Kind)
	}

	d.log.Info("event published",
		"event", e.Kind,
		"actor_id", e.ActorID,
		"subject_id", e.SubjectID,
		"routed", res.Routed,
		"delivered", res.Delivered,
	)
	return res, nil
}

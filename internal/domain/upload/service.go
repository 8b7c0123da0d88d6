package upload

import (
	"context"
	"errors"
	"log/slog"

	"fitcoach/internal/domain/artifact"
	"fitcoach/internal/domain/notification"
	"fitcoach/internal/pkg/imaging"
)

// Validator is implemented by artifact.Validator.
type Validator interface {
	Validate(data []byte, c artifact.Category) (*artifact.Accepted, error)
	Limit(c artifact.Category) int64
}

// Store is implemented by artifact.Store.
type Store interface {
	Put(ctx context.Context, in artifact.PutInput) (*artifact.StoredArtifact, error)
	Get(ctx context.Context, id string) (*artifact.StoredArtifact, []byte, error)
	GetVariant(ctx context.Context, id, name string) (*artifact.StoredArtifact, *artifact.Variant, []byte, error)
	Lookup(ctx context.Context, id string) (*artifact.StoredArtifact, error)
	Delete(ctx context.Context, id string) (*artifact.StoredArtifact, error)
	AddReference(ctx context.Context, artifactID, refType, refID string) error
	RemoveReference(ctx context.Context, artifactID, refType, refID string) error
}

// Gate is implemented by access.Gate.
type Gate interface {
	CanAccess(ctx context.Context, identity int64, a *artifact.StoredArtifact) bool
}

// Publisher is implemented by notification.Dispatcher.
type Publisher interface {
	Publish(ctx context.Context, e notification.Event) (notification.PublishResult, error)
}

// UploadInput is one file submitted by an authenticated user.
type UploadInput struct {
	UserID   int64
	Category artifact.Category
	FileName string
	Data     []byte
}

// FetchResult is what a reader gets back.
type FetchResult struct {
	Artifact    *artifact.StoredArtifact
	Variant     *artifact.Variant
	ContentType string
	Data        []byte
}

// Service glues validation, storage, access control and notifications together.
type Service struct {
	validator Validator
	store     Store
	gate      Gate
	publisher Publisher
	log       *slog.Logger
}

func NewService(validator Validator, store Store, gate Gate, publisher Publisher, log *slog.Logger) *Service {
	return &Service{
		validator: validator,
		store:     store,
		gate:      gate,
		publisher: publisher,
		log:       log.With("component", "upload_service"),
	}
}

// MaxUploadBytes is the largest size any category accepts.
func (s *Service) MaxUploadBytes() int64 {
	var largest int64
	for _, c := range artifact.Categories {
		if l := s.validator.Limit(c); l > largest {
			largest = l
		}
	}
	return largest
}

// Limit is the size cap of one category.
func (s *Service) Limit(c artifact.Category) int64 {
	return s.validator.Limit(c)
}

// Upload validates and stores the file, then tells everyone concerned.
// Rejections come back as the validator's error and nothing is stored.
// A storage failure returns *artifact.StorageError and nobody is notified.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*artifact.StoredArtifact, error) {
	accepted, err := s.validator.Validate(in.Data, in.Category)
	if err != nil {
		s.log.Info("upload rejected", "user_id", in.UserID, "category", in.Category, "reason", artifact.RejectReason(err))
		return nil, err
	}

	a, err := s.store.Put(ctx, artifact.PutInput{
		Category:     in.Category,
		OwnerID:      in.UserID,
		OriginalName: in.FileName,
		Data:         in.Data,
		Accepted:     accepted,
	})
	if err != nil {
		s.log.Error("upload failed", "user_id", in.UserID, "category", in.Category, "error", err)
		return nil, err
	}

	s.publish(ctx, notification.Event{
		Kind:      notification.EventFileUploaded,
		ActorID:   in.UserID,
		OwnerID:   a.OwnerID,
		SubjectID: a.ID,
		Category:  a.Category.String(),
		Data: map[string]any{
			"content_type": a.ContentType,
			"size":         a.Size,
			"variant_ids":  a.VariantIDs(),
		},
		OccurredAt: a.CreatedAt,
	})
	return a, nil
}

// authorize loads the artifact and checks the caller may touch it.
func (s *Service) authorize(ctx context.Context, caller int64, id string) (*artifact.StoredArtifact, error) {
	a, err := s.store.Lookup(ctx, id)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrAccessDenied
	}
	if err != nil {
		return nil, err
	}
	if !s.gate.CanAccess(ctx, caller, a) {
		s.log.Info("access denied", "user_id", caller, "artifact_id", id)
		return nil, ErrAccessDenied
	}
	return a, nil
}

// Meta returns the artifact's metadata.
func (s *Service) Meta(ctx context.Context, caller int64, id string) (*artifact.StoredArtifact, error) {
	return s.authorize(ctx, caller, id)
}

// Fetch returns the original, or the named variant when variant is not empty.
func (s *Service) Fetch(ctx context.Context, caller int64, id, variant string) (*FetchResult, error) {
	if _, err := s.authorize(ctx, caller, id); err != nil {
		return nil, err
	}

	if variant == "" {
		a, data, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, hideMissing(err)
		}
		return &FetchResult{Artifact: a, ContentType: a.ContentType, Data: data}, nil
	}

	a, v, data, err := s.store.GetVariant(ctx, id, variant)
	if err != nil {
		return nil, hideMissing(err)
	}
	return &FetchResult{Artifact: a, Variant: v, ContentType: imaging.OutputContentType, Data: data}, nil
}

// Delete removes an artifact the caller may access. Unknown ids succeed, so a
// denied delete does reveal that the id exists; ids are random UUIDs.
func (s *Service) Delete(ctx context.Context, caller int64, id string) error {
	a, err := s.store.Lookup(ctx, id)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.gate.CanAccess(ctx, caller, a) {
		s.log.Info("delete denied", "user_id", caller, "artifact_id", id)
		return ErrAccessDenied
	}

	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if removed == nil {
		return nil
	}

	s.publish(ctx, notification.Event{
		Kind:      notification.EventFileDeleted,
		ActorID:   caller,
		OwnerID:   removed.OwnerID,
		SubjectID: removed.ID,
		Category:  removed.Category.String(),
	})
	return nil
}

// AttachReference records that a domain record uses the artifact.
func (s *Service) AttachReference(ctx context.Context, id, refType, refID string) error {
	return s.store.AddReference(ctx, id, refType, refID)
}

// DetachReference forgets a domain record's use of the artifact.
func (s *Service) DetachReference(ctx context.Context, id, refType, refID string) error {
	return s.store.RemoveReference(ctx, id, refType, refID)
}

// publish never fails the caller: the artifact is already durable.
func (s *Service) publish(ctx context.Context, e notification.Event) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Error("publish failed", "event", e.Kind, "subject_id", e.SubjectID, "error", err)
	}
}

// hideMissing maps a vanished artifact to ErrAccessDenied, as for unknown ids.
func hideMissing(err error) error {
	if errors.Is(err, artifact.ErrNotFound) {
		return ErrAccessDenied
	}
	return err
}

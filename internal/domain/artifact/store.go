package artifact

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"fitcoach/internal/pkg/imaging"
	"fitcoach/internal/pkg/storage"
)

const (
	rollbackTimeout = 30 * time.Second
	sweepBatchSize  = 100
	maxNameLength   = 255
)

// Deriver produces the image variants. Implemented by imaging.Pipeline.
type Deriver interface {
	Derive(ctx context.Context, original []byte) ([]imaging.Rendition, error)
	DeriveImage(ctx context.Context, src image.Image) ([]imaging.Rendition, error)
}

// PutInput is a validated upload ready to be stored.
type PutInput struct {
	Category     Category
	OwnerID      int64
	OriginalName string
	Data         []byte
	Accepted     *Accepted
}

// SweepResult summarises one orphan sweep pass.
type SweepResult struct {
	Scanned int
	Deleted int
	Skipped int
	Failed  int
}

// Store owns the artifact namespace: naming, layout, variants and disposal.
// It has no notion of identity; access control happens in front of it.
type Store struct {
	blobs   storage.Storage
	repo    Repository
	deriver Deriver
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewStore(blobs storage.Storage, repo Repository, deriver Deriver, log *slog.Logger) *Store {
	return &Store{
		blobs:   blobs,
		repo:    repo,
		deriver: deriver,
		log:     log.With("component", "artifact_store"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Put writes the original, derives and writes variants for image categories and
// persists the metadata. Either everything is written or nothing is: any failure,
// including cancellation of ctx, removes the blobs already written for this call.
func (s *Store) Put(ctx context.Context, in PutInput) (*StoredArtifact, error) {
	if in.Accepted == nil {
		return nil, errors.New("artifact: put requires a validated upload")
	}
	if !in.Category.Valid() {
		return nil, ErrUnknownCategory
	}

	id := s.newID()
	sum := blake2b.Sum256(in.Data)
	a := &StoredArtifact{
		ID:           id,
		Category:     in.Category,
		OwnerID:      in.OwnerID,
		OriginalName: advisoryName(in.OriginalName),
		ContentType:  in.Accepted.ContentType,
		Size:         int64(len(in.Data)),
		Checksum:     hex.EncodeToString(sum[:]),
		Width:        in.Accepted.Width,
		Height:       in.Accepted.Height,
		StoragePath:  originalKey(in.Category, id, in.Accepted.ContentType),
		CreatedAt:    s.now().UTC(),
	}

	batch := &writeBatch{blobs: s.blobs}
	committed := false
	defer func() {
		if !committed {
			batch.rollback(ctx, s.log.With("artifact_id", id))
		}
	}()

	if err := batch.save(ctx, a.StoragePath, in.Data, a.ContentType); err != nil {
		return nil, storageErr("write original", err)
	}

	if in.Category.IsImage() {
		if s.deriver == nil {
			return nil, storageErr("derive variants", errors.New("no image pipeline configured"))
		}
		var (
			renditions []imaging.Rendition
			err        error
		)
		if in.Accepted.Image != nil {
			renditions, err = s.deriver.DeriveImage(ctx, in.Accepted.Image)
		} else {
			renditions, err = s.deriver.Derive(ctx, in.Data)
		}
		if err != nil {
			return nil, storageErr("derive variants", err)
		}
		for _, r := range renditions {
			v := Variant{
				ID:          id + ":" + r.Name,
				ArtifactID:  id,
				Name:        r.Name,
				Width:       r.Width,
				Height:      r.Height,
				MaxWidth:    r.MaxWidth,
				MaxHeight:   r.MaxHeight,
				Size:        int64(len(r.Data)),
				StoragePath: variantKey(in.Category, id, r.Name),
			}
			if err := batch.save(ctx, v.StoragePath, r.Data, imaging.OutputContentType); err != nil {
				return nil, storageErr("write variant "+r.Name, err)
			}
			a.Variants = append(a.Variants, v)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, storageErr("commit", err)
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, storageErr("persist metadata", err)
	}
	committed = true

	s.log.Info("artifact stored",
		"artifact_id", a.ID,
		"category", a.Category,
		"owner_id", a.OwnerID,
		"size", a.Size,
		"variants", len(a.Variants),
	)
	return a, nil
}

// Lookup returns metadata only.
func (s *Store) Lookup(ctx context.Context, id string) (*StoredArtifact, error) {
	return s.repo.GetByID(ctx, id)
}

// Get returns the artifact and the bytes of its original.
func (s *Store) Get(ctx context.Context, id string) (*StoredArtifact, []byte, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.read(ctx, a.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

// GetVariant returns the artifact, the named variant and its bytes.
func (s *Store) GetVariant(ctx context.Context, id, name string) (*StoredArtifact, *Variant, []byte, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	v, ok := a.Variant(name)
	if !ok {
		return nil, nil, nil, ErrVariantNotFound
	}
	data, err := s.read(ctx, v.StoragePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, v, data, nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// metadata outlived the blob, e.g. a delete racing with this read
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("read", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageErr("read", err)
	}
	return data, nil
}

// Delete removes the variants, the original and the metadata. Deleting an unknown
// id returns (nil, nil). The removed artifact is returned so callers can announce it.
func (s *Store) Delete(ctx context.Context, id string) (*StoredArtifact, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, key := range a.Paths() {
		if err := s.blobs.Delete(ctx, key); err != nil {
			return nil, storageErr("delete blob", err)
		}
	}

	existed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, storageErr("delete metadata", err)
	}
	if !existed {
		// someone else finished the delete first
		return nil, nil
	}

	s.log.Info("artifact deleted", "artifact_id", id, "category", a.Category)
	return a, nil
}

// AddReference marks the artifact as used by a domain record.
func (s *Store) AddReference(ctx context.Context, artifactID, refType, refID string) error {
	if _, err := s.repo.GetByID(ctx, artifactID); err != nil {
		return err
	}
	return s.repo.AddReference(ctx, &Reference{
		ArtifactID: artifactID,
		RefType:    refType,
		RefID:      refID,
		CreatedAt:  s.now().UTC(),
	})
}

// RemoveReference detaches a domain record. Missing references are ignored.
func (s *Store) RemoveReference(ctx context.Context, artifactID, refType, refID string) error {
	return s.repo.RemoveReference(ctx, &Reference{ArtifactID: artifactID, RefType: refType, RefID: refID})
}

// SweepOrphans deletes artifacts older than olderThan that no domain record references.
// Metadata goes first and only while the artifact is still unreferenced, so a
// reference attached mid-sweep keeps it. A failure on one artifact does not stop the others.
func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().UTC().Add(-olderThan)

	after := ""
	for {
		page, err := s.repo.ListOrphans(ctx, cutoff, after, sweepBatchSize)
		if err != nil {
			return res, fmt.Errorf("list orphans: %w", err)
		}

		for _, a := range page {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++
			after = a.ID

			referenced, err := s.repo.HasReferences(ctx, a.ID)
			if err != nil {
				res.Failed++
				s.log.Warn("orphan sweep: reference check failed", "artifact_id", a.ID, "error", err)
				continue
			}
			if referenced {
				res.Skipped++
				continue
			}

			deleted, err := s.repo.DeleteOrphan(ctx, a.ID)
			if err != nil {
				res.Failed++
				s.log.Warn("orphan sweep: delete failed", "artifact_id", a.ID, "error", err)
				continue
			}
			if !deleted {
				// referenced or removed since it was listed
				res.Skipped++
				continue
			}
			res.Deleted++
			s.removeBlobs(ctx, a)
		}

		if len(page) < sweepBatchSize {
			return res, nil
		}
	}
}

// removeBlobs runs after the metadata is gone; a leftover blob is only logged.
func (s *Store) removeBlobs(parent context.Context, a *StoredArtifact) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), rollbackTimeout)
	defer cancel()

	for _, key := range a.Paths() {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Error("orphan sweep: failed to remove blob", "artifact_id", a.ID, "key", key, "error", err)
		}
	}
	s.log.Info("orphan swept", "artifact_id", a.ID, "category", a.Category)
}

// writeBatch remembers every blob written during one Put so they can be undone.
type writeBatch struct {
	blobs   storage.Storage
	written []string
}

func (b *writeBatch) save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Recorded before the write: a failed write may still leave a partial object behind.
	b.written = append(b.written, key)
	return b.blobs.Save(ctx, key, bytes.NewReader(data), contentType)
}

// rollback runs on a context detached from the caller's cancellation.
func (b *writeBatch) rollback(parent context.Context, log *slog.Logger) {
	if len(b.written) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), rollbackTimeout)
	defer cancel()

	for i := len(b.written) - 1; i >= 0; i-- {
		if err := b.blobs.Delete(ctx, b.written[i]); err != nil {
			log.Error("rollback: failed to remove blob", "key", b.written[i], "error", err)
		}
	}
	log.Warn("artifact write rolled back", "blobs", len(b.written))
}

func originalKey(c Category, id, contentType string) string {
	return fmt.Sprintf("%s/%s/original%s", c, id, extensionFor(contentType))
}

func variantKey(c Category, id, name string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", c, id, name)
}

func extensionFor(contentType string) string {
	switch contentType {
	case ContentTypeJPEG:
		return ".jpg"
	case ContentTypePNG:
		return ".png"
	case ContentTypeWebP:
		return ".webp"
	case ContentTypePDF:
		return ".pdf"
	case ContentTypeDOC:
		return ".doc"
	case ContentTypeDOCX:
		return ".docx"
	default:
		return ".bin"
	}
}

// advisoryName keeps the client's filename for display only.
func advisoryName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	for len(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

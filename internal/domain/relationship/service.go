package relationship

import (
	"context"
)

// Service is the local view of the trainer↔client directory.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Link records that trainerID coaches clientID. Returns ErrSelfLink or ErrAlreadyLinked.
func (s *Service) Link(ctx context.Context, trainerID, clientID int64) error {
	if trainerID == clientID {
		return ErrSelfLink
	}
	return s.repo.Link(ctx, trainerID, clientID)
}

// Unlink removes a link. Returns ErrNotLinked if there was none.
func (s *Service) Unlink(ctx context.Context, trainerID, clientID int64) error {
	return s.repo.Unlink(ctx, trainerID, clientID)
}

// AreLinked returns true if either user is the trainer of the other.
func (s *Service) AreLinked(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	return s.repo.IsLinked(ctx, a, b)
}

// TrainersOf returns the trainers linked to clientID, ascending.
func (s *Service) TrainersOf(ctx context.Context, clientID int64) ([]int64, error) {
	return s.repo.TrainersOf(ctx, clientID)
}

// ClientsOf returns the clients linked to trainerID, ascending.
func (s *Service) ClientsOf(ctx context.Context, trainerID int64) ([]int64, error) {
	return s.repo.ClientsOf(ctx, trainerID)
}

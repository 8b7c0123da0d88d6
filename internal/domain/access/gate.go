package access

import (
	"context"
	"log/slog"

	"fitcoach/internal/domain/artifact"
)

// Directory answers whether two identities are linked as trainer and client.
// Implemented by relationship.Service.
type Directory interface {
	AreLinked(ctx context.Context, a, b int64) (bool, error)
}

// Gate decides per-artifact read and delete rights.
// The owner always has access; a linked trainer or client does too; everyone else is denied.
type Gate struct {
	dir Directory
	log *slog.Logger
}

func NewGate(dir Directory, log *slog.Logger) *Gate {
	return &Gate{dir: dir, log: log.With("component", "access_gate")}
}

// CanAccess fails closed: a directory error denies access.
func (g *Gate) CanAccess(ctx context.Context, identity int64, a *artifact.StoredArtifact) bool {
	if a == nil || identity <= 0 {
		return false
	}
	if a.OwnerID == identity {
		return true
	}
	if g.dir == nil {
		return false
	}

	linked, err := g.dir.AreLinked(ctx, identity, a.OwnerID)
	if err != nil {
		g.log.Warn("directory lookup failed, denying access",
			"identity", identity,
			"owner_id", a.OwnerID,
			"artifact_id", a.ID,
			"error", err,
		)
		return false
	}
	return linked
}

package ports

import (
	"context"
	"time"

	"slimcast/internal/core/domain"
)

// PlayerRepository records playback clients that have completed a handshake.
// Implementations must be safe for concurrent use.
type PlayerRepository interface {
	Save(ctx context.Context, player *domain.Player) error
	GetByID(ctx context.Context, id domain.ClientID) (*domain.Player, error)
	List(ctx context.Context) ([]*domain.Player, error)
	UpdateLatency(ctx context.Context, id domain.ClientID, latency time.Duration) error
	Remove(ctx context.Context, id domain.ClientID) error
}

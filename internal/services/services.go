package services

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/internal/repositories"
)

// EventPublisher records outbound events inside a transaction and is kicked
// once the transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, outbox *repositories.OutboxRepository, e notify.Event) error
	Kick()
}

// CensusCache holds the public village listing. Implementations must
// tolerate being unavailable.
type CensusCache interface {
	Get(ctx context.Context) ([]models.Village, bool)
	Set(ctx context.Context, villages []models.Village)
	Invalidate(ctx context.Context)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *repositories.OutboxRepository, notify.Event) error {
	return nil
}

func (noopPublisher) Kick() {}

type noopCensus struct{}

func (noopCensus) Get(context.Context) ([]models.Village, bool) { return nil, false }
func (noopCensus) Set(context.Context, []models.Village)       {}
func (noopCensus) Invalidate(context.Context)                  {}

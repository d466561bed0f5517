package ports

import (
	"context"

	"github.com/0xfutbol/id/core"
)

// EventPublisher notifies other services about identity changes.
type EventPublisher interface {
	PublishIdentityClaimed(ctx context.Context, identity *core.Identity) error
	PublishIdentityRegistered(ctx context.Context, identity *core.Identity) error
}

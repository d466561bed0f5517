package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const (
	TopicIdentityClaimed    = "soccerid.identity.claimed"
	TopicIdentityRegistered = "soccerid.identity.registered"
)

// IdentityEvent is the payload of identity lifecycle events
type IdentityEvent struct {
	Address       string    `json:"address"`
	Username      string    `json:"username"`
	LoginMethod   string    `json:"login_method"`
	WalletID      string    `json:"wallet_id,omitempty"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

// PublishIdentityClaimed publishes a wallet claim event
func (p *WatermillPublisher) PublishIdentityClaimed(ctx context.Context, identity *core.Identity) error {
	return p.publish(ctx, TopicIdentityClaimed, identity)
}

// PublishIdentityRegistered publishes a password registration event
func (p *WatermillPublisher) PublishIdentityRegistered(ctx context.Context, identity *core.Identity) error {
	return p.publish(ctx, TopicIdentityRegistered, identity)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, identity *core.Identity) error {
	event := IdentityEvent{
		Address:       identity.Address,
		Username:      identity.Username,
		LoginMethod:   string(identity.LoginMethod),
		WalletID:      identity.WalletID,
		WalletAddress: identity.WalletAddress,
		OccurredAt:    p.now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishIdentityClaimed(context.Context, *core.Identity) error    { return nil }
func (NopPublisher) PublishIdentityRegistered(context.Context, *core.Identity) error { return nil }

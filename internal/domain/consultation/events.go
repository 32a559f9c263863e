package consultation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/websocket"
)

// Event types published after a consultation operation commits.
const (
	EventCreated            = "consultation.created"
	EventStatusChanged      = "consultation.status_changed"
	EventFeeChanged         = "consultation.fee_changed"
	EventLineItemAdded      = "consultation.line_item_added"
	EventLineItemRemoved    = "consultation.line_item_removed"
	EventExtraChargeAdded   = "consultation.extra_charge_added"
	EventExtraChargeRemoved = "consultation.extra_charge_removed"
	EventFinalized          = "consultation.finalized"
	EventCancelled          = "consultation.cancelled"
)

// Event is the message handed to reporting consumers.
type Event struct {
	Type           string          `json:"type"`
	ConsultationID uuid.UUID       `json:"consultation_id"`
	LineItemID     *uuid.UUID      `json:"line_item_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Status         Status          `json:"status"`
	At             time.Time       `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// RedisPublisher sends events as JSON over Redis pub/sub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// TopicAll carries every consultation event; TopicFor narrows to one consultation.
const TopicAll = "consultations"

func TopicFor(id uuid.UUID) string { return TopicAll + "/" + id.String() }

// HubPublisher pushes events to WebSocket subscribers of the front desk.
type HubPublisher struct {
	hub *websocket.Hub
}

func NewHubPublisher(hub *websocket.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, ev Event) error {
	return p.hub.Publish(ctx, ev, TopicAll, TopicFor(ev.ConsultationID))
}

// MultiPublisher fans an event out to several sinks. Every sink is tried;
// the first error is returned.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// pubSubChannel is the Valkey pub/sub channel external producer processes (or sibling gateway instances) publish
// bulk-send requests on. Several gateway processes, each with its own Registry, may run behind a load balancer;
// this bridge is what lets a publish() call reach every instance's in-process fan-out, not just whichever instance
// happens to hold the REST request.
const pubSubChannel = "gateway.events"

// pubSubEnvelope is the wire shape carried on pubSubChannel -- the Producer API's publish() arguments, marshaled.
type pubSubEnvelope struct {
	Event   protocol.DispatchName `json:"event"`
	Data    json.RawMessage       `json:"data"`
	UserIDs []uuid.UUID           `json:"user_ids,omitempty"`
	RoleIDs []uuid.UUID           `json:"role_ids,omitempty"`
}

// PubSubBridge subscribes to pubSubChannel and replays every message into this process's local fan-out via
// BulkMessage. It is the subscriber-side half of the Producer API's publish() path when the gateway runs as more
// than one instance.
type PubSubBridge struct {
	client   *redis.Client
	registry *Registry
	log      zerolog.Logger
}

// NewPubSubBridge builds a bridge reading from client and delivering into registry.
func NewPubSubBridge(client *redis.Client, registry *Registry, logger zerolog.Logger) *PubSubBridge {
	return &PubSubBridge{
		client:   client,
		registry: registry,
		log:      logger.With().Str("component", "pubsub").Logger(),
	}
}

// Publish marshals and publishes a bulk-send request so every subscribed gateway instance (including this one,
// which relies on its own subscription rather than a local shortcut, to keep delivery semantics uniform) delivers
// it through BulkMessage.
func (b *PubSubBridge) Publish(ctx context.Context, event protocol.DispatchName, data any, userIDs, roleIDs []uuid.UUID) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	payload, err := json.Marshal(pubSubEnvelope{Event: event, Data: raw, UserIDs: userIDs, RoleIDs: roleIDs})
	if err != nil {
		return fmt.Errorf("marshal pubsub envelope: %w", err)
	}
	if err := b.client.Publish(ctx, pubSubChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", pubSubChannel, err)
	}
	return nil
}

// Run subscribes to pubSubChannel and blocks, delivering every received message into the local registry's
// fan-out, until ctx is cancelled.
func (b *PubSubBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, pubSubChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *PubSubBridge) deliver(payload string) {
	var env pubSubEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn().Err(err).Msg("discarding malformed pubsub payload")
		return
	}

	bulk := &BulkMessage{registry: b.registry, log: b.log, event: UserEvent{Name: env.Event, Data: env.Data}}
	bulk.Users(env.UserIDs...).Roles(env.RoleIDs...)

	delivered, err := bulk.Send()
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(env.Event)).Msg("fan-out send failed")
		return
	}
	b.log.Debug().Str("event", string(env.Event)).Int("delivered", delivered).Msg("delivered pubsub event")
}

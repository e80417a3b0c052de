package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// UserEvent is a dispatch event awaiting per-session sequencing, the unit of currency in a GatewayUser's inbox.
type UserEvent struct {
	Name protocol.DispatchName
	Data json.RawMessage
}

// BulkMessage is the C7 fan-out builder: a target set (explicit users, or everyone holding one of a set of roles)
// plus the event to deliver to each.
type BulkMessage struct {
	registry *Registry
	log      zerolog.Logger

	users []uuid.UUID
	roles []uuid.UUID
	event UserEvent
}

// NewBulkMessage starts a fan-out send for the given dispatch event.
func NewBulkMessage(registry *Registry, logger zerolog.Logger, name protocol.DispatchName, data any) (*BulkMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return &BulkMessage{
		registry: registry,
		log:      logger.With().Str("component", "fanout").Logger(),
		event:    UserEvent{Name: name, Data: raw},
	}, nil
}

// Users adds explicit recipient user IDs.
func (b *BulkMessage) Users(userIDs ...uuid.UUID) *BulkMessage {
	b.users = append(b.users, userIDs...)
	return b
}

// Roles adds target role IDs; every user currently in each role's RoleUserIndex entry receives the event.
func (b *BulkMessage) Roles(roleIDs ...uuid.UUID) *BulkMessage {
	b.roles = append(b.roles, roleIDs...)
	return b
}

// Send resolves recipients and publishes to each one's inbox. Per spec.md 4.7, an individual inbox failure (the
// user has no live sessions) is logged and does not fail the overall send; the whole operation is best-effort.
func (b *BulkMessage) Send() (delivered int, err error) {
	recipients := b.registry.ResolveRecipients(b.users, b.roles)
	if len(recipients) == 0 {
		return 0, nil
	}

	for userID := range recipients {
		if pubErr := b.registry.PublishToUser(userID, b.event); pubErr != nil {
			b.log.Debug().Str("user_id", userID.String()).Str("event", string(b.event.Name)).Err(pubErr).
				Msg("skipping delivery, user has no live sessions")
			continue
		}
		delivered++
	}
	return delivered, nil
}

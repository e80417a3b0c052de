// Package producer implements the Producer API (spec.md 6.3): the HTTP surface the REST side of the chat server
// calls into to push events through the gateway's fan-out and to keep the RoleUserIndex in sync with persistent
// role/member mutations.
package producer

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lattice-chat/lattice-gateway/internal/gateway"
	"github.com/lattice-chat/lattice-gateway/internal/httputil"
	"github.com/lattice-chat/lattice-gateway/internal/member"
	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// Handler serves the Producer API's routes.
type Handler struct {
	registry  *gateway.Registry
	members   member.Repository
	pubsub    *gateway.PubSubBridge // nil disables the cross-instance bridge; local fan-out still runs
	authToken string
}

// NewHandler builds a Producer API handler. pubsub may be nil if the gateway runs as a single instance.
func NewHandler(registry *gateway.Registry, members member.Repository, pubsub *gateway.PubSubBridge, authToken string) *Handler {
	return &Handler{registry: registry, members: members, pubsub: pubsub, authToken: authToken}
}

// RequireAuth returns middleware that rejects requests whose Authorization header does not carry the configured
// producer bearer token.
func (h *Handler) RequireAuth() fiber.Handler {
	return func(c fiber.Ctx) error {
		const prefix = "Bearer "
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, prefix) {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.ErrCodeUnauthorized, "missing bearer token")
		}
		token := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.ErrCodeUnauthorized, "invalid producer token")
		}
		return c.Next()
	}
}

// RegisterRoutes mounts the Producer API under router.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Post("/publish", h.publish)
	router.Post("/role-membership", h.roleMembershipChanged)
	router.Delete("/roles/:roleID", h.roleDeleted)
	router.Post("/users/:userID/removed", h.userRemoved)
}

type publishRequest struct {
	UserIDs []uuid.UUID     `json:"user_ids"`
	RoleIDs []uuid.UUID     `json:"role_ids"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

// publish handles POST /publish, the Producer API's bulk-send operation (spec.md 4.7).
func (h *Handler) publish(c fiber.Ctx) error {
	var req publishRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeBadRequest, "invalid request body")
	}

	name, ok := protocol.ParseDispatchName(req.Event)
	if !ok {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeBadRequest, "unknown dispatch event name")
	}

	bulk, err := gateway.NewBulkMessage(h.registry, log.Logger, name, req.Data)
	if err != nil {
		log.Error().Err(err).Str("event", req.Event).Msg("building bulk message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.ErrCodeInternal, "failed to build event")
	}
	bulk.Users(req.UserIDs...).Roles(req.RoleIDs...)

	delivered, err := bulk.Send()
	if err != nil {
		log.Error().Err(err).Str("event", req.Event).Msg("fan-out send failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.ErrCodeInternal, "fan-out failed")
	}

	if h.pubsub != nil {
		if err := h.pubsub.Publish(c.Context(), name, req.Data, req.UserIDs, req.RoleIDs); err != nil {
			log.Warn().Err(err).Str("event", req.Event).Msg("cross-instance publish failed, local delivery already done")
		}
	}

	return httputil.Success(c, publishResponse{Delivered: delivered})
}

type roleMembershipRequest struct {
	UserID uuid.UUID `json:"user_id"`
	RoleID uuid.UUID `json:"role_id"`
	Action string    `json:"action"` // "added" or "removed"
}

// roleMembershipChanged handles POST /role-membership, keeping both the persistent member_roles table and the
// in-memory RoleUserIndex in sync (spec.md 4.6, 9).
func (h *Handler) roleMembershipChanged(c fiber.Ctx) error {
	var req roleMembershipRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeBadRequest, "invalid request body")
	}

	switch req.Action {
	case "added":
		if err := h.members.AssignRole(c.Context(), req.UserID, req.RoleID); err != nil {
			log.Error().Err(err).Msg("assign role failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.ErrCodeInternal, "failed to persist role assignment")
		}
		h.registry.MemberRoleAdded(req.UserID, req.RoleID)
	case "removed":
		if err := h.members.RemoveRole(c.Context(), req.UserID, req.RoleID); err != nil {
			log.Error().Err(err).Msg("remove role failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.ErrCodeInternal, "failed to persist role removal")
		}
		h.registry.MemberRoleRemoved(req.UserID, req.RoleID)
	default:
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeBadRequest, `action must be "added" or "removed"`)
	}

	return httputil.Success(c, nil)
}

// roleDeleted handles DELETE /roles/:roleID, dropping the role's entry from the RoleUserIndex entirely.
func (h *Handler) roleDeleted(c fiber.Ctx) error {
	roleID, err := uuid.Parse(c.Params("roleID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeUnknownRole, "invalid role id")
	}
	h.registry.RoleDeleted(roleID)
	return httputil.Success(c, nil)
}

// userRemoved handles POST /users/:userID/removed, the account-deletion hook spec.md 9 says a complete
// implementation must wire from the start alongside the three role-membership hooks.
func (h *Handler) userRemoved(c fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.ErrCodeBadRequest, "invalid user id")
	}
	h.registry.UserRemoved(userID)
	return httputil.Success(c, nil)
}

package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/awareness"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// effectiveRoleLocked resolves a user's role in this room. A per-room
// permission entry overrides the token role entirely, in both directions.
// Caller must hold r.mu.
func (r *Room) effectiveRoleLocked(id types.Identity) types.Role {
	if role, ok := r.perms[id.UserID]; ok {
		return role
	}
	return id.Role
}

// EffectiveRole resolves a user's role in this room.
func (r *Room) EffectiveRole(id types.Identity) types.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveRoleLocked(id)
}

// ApplySync applies a document update from a client. Editors and admins
// only; everyone else gets an error message and the update is discarded.
// Malformed updates are dropped without a reply.
func (r *Room) ApplySync(client types.ClientInterface, update []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if !r.effectiveRoleLocked(client.GetIdentity()).AtLeast(types.RoleEditor) {
		metrics.WebsocketEvents.WithLabelValues("sync", "rejected").Inc()
		if data, err := json.Marshal(types.NewErrorMessage("insufficient permissions for editing")); err == nil {
			client.SendText(data)
		}
		return
	}

	if err := r.doc.ApplyUpdate(update, client); err != nil {
		metrics.WebsocketEvents.WithLabelValues("sync", "invalid").Inc()
		logging.Debug(context.Background(), "dropping malformed document update",
			zap.String("room_id", string(r.ID)),
			zap.String("client_id", client.GetID()),
			zap.Error(err),
		)
		return
	}
	metrics.WebsocketEvents.WithLabelValues("sync", "ok").Inc()
}

// ApplyAwareness applies a presence update from a client. Any role may
// publish presence. The client ids carried in the update are recorded
// against the socket so Detach can clear them.
func (r *Room) ApplyAwareness(client types.ClientInterface, update []byte) {
	ids, err := awareness.ReadUpdateClientIDs(update)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("awareness", "invalid").Inc()
		logging.Debug(context.Background(), "dropping malformed presence update",
			zap.String("room_id", string(r.ID)),
			zap.String("client_id", client.GetID()),
			zap.Error(err),
		)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if cs, ok := r.clients[client.GetID()]; ok && cs.client == client {
		cs.claimed.Insert(ids...)
	}

	if err := r.presence.ApplyUpdate(update, client); err != nil {
		metrics.WebsocketEvents.WithLabelValues("awareness", "invalid").Inc()
		return
	}
	metrics.WebsocketEvents.WithLabelValues("awareness", "ok").Inc()
}

// Chat broadcasts a chat message to every socket in the room, the sender
// included. The room lock plus per-socket FIFO buffers give all clients
// the same delivery order.
func (r *Room) Chat(client types.ClientInterface, text string) {
	clean, err := types.ValidateChatText(text)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("chat", "rejected").Inc()
		logging.Debug(context.Background(), "dropping invalid chat message",
			zap.String("room_id", string(r.ID)),
			zap.String("client_id", client.GetID()),
			zap.Error(err),
		)
		return
	}

	data, err := json.Marshal(types.NewChatMessage(client.GetIdentity(), clean))
	if err != nil {
		logging.Error(context.Background(), "failed to marshal chat message", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	for _, cs := range r.clients {
		cs.client.SendText(data)
	}
	metrics.WebsocketEvents.WithLabelValues("chat", "ok").Inc()
}

// SetPermission records a per-room role override and writes it through to
// the store. The override takes effect for the user's next document
// update; sockets stay connected across permission changes.
func (r *Room) SetPermission(ctx context.Context, userID string, role types.Role) {
	r.mu.Lock()
	r.perms[userID] = role
	r.mu.Unlock()

	logging.Info(ctx, "room permission updated",
		zap.String("room_id", string(r.ID)),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)

	if r.gateway == nil {
		return
	}
	if err := r.gateway.SetProjectPermission(ctx, string(r.ID), userID, role); err != nil {
		logging.Warn(ctx, "permission write-through failed",
			zap.String("room_id", string(r.ID)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// ApproveSuggestion marks a suggestion approved inside the shared
// document. The change broadcasts to every socket like any other edit.
func (r *Room) ApproveSuggestion(approver types.Identity, suggestionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	suggestions := r.doc.GetMap(types.ContainerSuggestions)
	entry := suggestions.GetMap(suggestionID)
	if entry == nil {
		return ErrSuggestionNotFound
	}

	r.doc.Transact(nil, func() {
		entry.Set("approved", true)
		entry.Set("approvedBy", approver.UserID)
		entry.Set("approvedAt", time.Now().UTC().Format(time.RFC3339))
	})
	return nil
}

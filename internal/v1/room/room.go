// Package room hosts the live collaboration sessions. A Room owns one
// shared document and one presence tracker, fans updates out to attached
// sockets, and schedules debounced persistence of the document state.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/davidatlihan/codesafe/internal/v1/awareness"
	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

var (
	// ErrRoomClosed is returned when attaching to a room that already
	// finished its teardown.
	ErrRoomClosed = errors.New("room is closed")

	// ErrSuggestionNotFound is returned when approving an unknown suggestion.
	ErrSuggestionNotFound = errors.New("suggestion not found")
)

// PersistenceGateway is the slice of the store a room needs.
type PersistenceGateway interface {
	LoadProjectState(ctx context.Context, roomID string, doc *crdt.Doc) (types.PermMap, error)
	PersistProjectState(ctx context.Context, roomID string, snap store.Snapshot) error
	SetProjectPermission(ctx context.Context, roomID, userID string, role types.Role) error
}

// clientState tracks one attached socket plus the awareness client ids it
// has published under, so they can be cleared when the socket goes away.
type clientState struct {
	client  types.ClientInterface
	claimed set.Set[uint64]
}

// Room is one live collaboration session.
//
// All state is guarded by mu. Document and presence observers run
// synchronously under mu, so they write to clients without re-locking;
// client sends never block because the transport buffers per socket.
type Room struct {
	ID types.RoomID

	mu       sync.Mutex
	doc      *crdt.Doc
	presence *awareness.Awareness
	clients  map[string]*clientState
	perms    types.PermMap
	closed   bool

	gateway PersistenceGateway
	sched   *persistScheduler
	onEmpty func(types.RoomID)

	// released closes once teardown finished and the registry forgot the
	// room, so acquirers racing a teardown know when to recreate.
	released    chan struct{}
	releaseOnce sync.Once
}

// NewRoom creates a room around an already-loaded document. Observers are
// registered here, after the load, so restoring persisted state never
// fans out or schedules a write-back.
func NewRoom(id types.RoomID, doc *crdt.Doc, perms types.PermMap, gateway PersistenceGateway, onEmpty func(types.RoomID)) *Room {
	if perms == nil {
		perms = make(types.PermMap)
	}
	r := &Room{
		ID:       id,
		doc:      doc,
		presence: awareness.New(),
		clients:  make(map[string]*clientState),
		perms:    perms,
		gateway:  gateway,
		onEmpty:  onEmpty,
		released: make(chan struct{}),
	}
	r.sched = newPersistScheduler(defaultFlushDelay, defaultRetryDelay, r.flush)
	doc.OnUpdate(r.onDocUpdate)
	r.presence.OnUpdate(r.onPresenceUpdate)
	return r
}

// Attach registers a socket and sends it the join sequence: a welcome
// message, the full document state, and the current presence states if
// anyone is publishing. Sends happen under the room lock so no concurrent
// update can slip in ahead of the snapshot.
func (r *Room) Attach(client types.ClientInterface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	r.clients[client.GetID()] = &clientState{
		client:  client,
		claimed: set.New[uint64](),
	}

	welcome, err := json.Marshal(types.NewWelcomeMessage(r.ID, client.GetIdentity()))
	if err != nil {
		logging.Error(context.Background(), "failed to marshal welcome message", zap.Error(err))
	} else {
		client.SendText(welcome)
	}

	client.SendBinary(append([]byte{types.FrameSync}, r.doc.EncodeStateAsUpdate()...))
	if r.presence.Count() > 0 {
		client.SendBinary(append([]byte{types.FrameAwareness}, r.presence.EncodeAll()...))
	}

	metrics.RoomSockets.WithLabelValues(string(r.ID)).Set(float64(len(r.clients)))
	logging.Info(context.Background(), "client attached",
		zap.String("room_id", string(r.ID)),
		zap.String("client_id", client.GetID()),
		zap.String("user_id", client.GetIdentity().UserID),
		zap.Int("sockets", len(r.clients)),
	)
	return nil
}

// Detach removes a socket, clears the awareness states it claimed, and
// tears the room down when the last socket leaves. Teardown flushes the
// document to the store before the room is released.
func (r *Room) Detach(client types.ClientInterface) {
	r.mu.Lock()

	cs, ok := r.clients[client.GetID()]
	if !ok || cs.client != client {
		r.mu.Unlock()
		return
	}
	delete(r.clients, client.GetID())

	if cs.claimed.Len() > 0 {
		r.presence.RemoveClients(cs.claimed.UnsortedList(), client)
	}

	remaining := len(r.clients)
	empty := remaining == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if remaining > 0 {
		metrics.RoomSockets.WithLabelValues(string(r.ID)).Set(float64(remaining))
	} else {
		metrics.RoomSockets.DeleteLabelValues(string(r.ID))
	}
	logging.Info(context.Background(), "client detached",
		zap.String("room_id", string(r.ID)),
		zap.String("client_id", client.GetID()),
		zap.Int("sockets", remaining),
	)

	if empty {
		r.sched.FinalFlush()

		r.mu.Lock()
		r.doc.Destroy()
		r.presence.Destroy()
		r.mu.Unlock()

		if r.onEmpty != nil {
			r.onEmpty(r.ID)
		}
		r.releaseOnce.Do(func() { close(r.released) })
	}
}

// Shutdown closes every socket with a service-restart code, flushes the
// document, and destroys the room state. Used during server drain.
func (r *Room) Shutdown(ctx context.Context) {
	defer r.releaseOnce.Do(func() { close(r.released) })

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.sched.FinalFlush()
		return
	}
	r.closed = true
	targets := make([]types.ClientInterface, 0, len(r.clients))
	for _, cs := range r.clients {
		targets = append(targets, cs.client)
	}
	r.clients = make(map[string]*clientState)
	r.mu.Unlock()

	r.sched.FinalFlush()

	for _, c := range targets {
		c.Close(types.CloseServiceRestart, "server shutting down")
	}

	r.mu.Lock()
	r.doc.Destroy()
	r.presence.Destroy()
	r.mu.Unlock()

	metrics.RoomSockets.DeleteLabelValues(string(r.ID))
	logging.Info(ctx, "room shut down",
		zap.String("room_id", string(r.ID)),
		zap.Int("sockets_closed", len(targets)),
	)
}

// ClientCount returns the number of attached sockets.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Closing reports whether the room entered teardown and rejects attaches.
func (r *Room) Closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Released returns a channel that closes once teardown completed and the
// room id is free to be recreated.
func (r *Room) Released() <-chan struct{} {
	return r.released
}

// onDocUpdate relays a document update to every socket except its origin
// and schedules a persistence flush. Runs under r.mu.
func (r *Room) onDocUpdate(update []byte, origin any) {
	frame := make([]byte, 0, len(update)+1)
	frame = append(frame, types.FrameSync)
	frame = append(frame, update...)

	for _, cs := range r.clients {
		if origin != nil && cs.client == origin {
			continue
		}
		cs.client.SendBinary(frame)
	}
	r.sched.Schedule()
}

// onPresenceUpdate relays a presence update to every socket except its
// origin. Presence is never persisted. Runs under r.mu.
func (r *Room) onPresenceUpdate(update []byte, origin any) {
	frame := make([]byte, 0, len(update)+1)
	frame = append(frame, types.FrameAwareness)
	frame = append(frame, update...)

	for _, cs := range r.clients {
		if origin != nil && cs.client == origin {
			continue
		}
		cs.client.SendBinary(frame)
	}
}

// flush snapshots the document and writes it to the store. Called only
// from the persist scheduler.
func (r *Room) flush() error {
	r.mu.Lock()
	snap := store.TakeSnapshot(r.doc)
	r.mu.Unlock()

	if r.gateway == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	start := time.Now()
	err := r.gateway.PersistProjectState(ctx, string(r.ID), snap)
	metrics.PersistFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistFlushes.WithLabelValues("error").Inc()
		logging.Warn(ctx, "project flush failed",
			zap.String("room_id", string(r.ID)), zap.Error(err))
		return err
	}
	metrics.PersistFlushes.WithLabelValues("ok").Inc()
	return nil
}

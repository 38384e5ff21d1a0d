package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

var (
	// ErrInvalidRoomID is returned for room ids outside the allowed alphabet.
	ErrInvalidRoomID = errors.New("invalid room id")

	// ErrShuttingDown is returned once the registry has begun draining.
	ErrShuttingDown = errors.New("server is shutting down")
)

// Registry tracks live rooms by id and owns their lifecycle: it loads
// persisted state when a room first wakes up and drops the room once its
// last socket detaches.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[types.RoomID]*Room
	group   singleflight.Group
	gateway PersistenceGateway
	closed  bool
}

// NewRegistry creates an empty registry backed by the given store gateway.
func NewRegistry(gateway PersistenceGateway) *Registry {
	return &Registry{
		rooms:   make(map[types.RoomID]*Room),
		gateway: gateway,
	}
}

// GetOrCreate returns the live room for id, creating it and loading its
// persisted state on first access. Concurrent calls for the same id share
// a single load. A room caught mid-teardown is waited out, then recreated,
// so the reload observes its final flush.
func (reg *Registry) GetOrCreate(ctx context.Context, id types.RoomID) (*Room, error) {
	if !types.ValidRoomID(string(id)) {
		return nil, ErrInvalidRoomID
	}

	reg.mu.RLock()
	if reg.closed {
		reg.mu.RUnlock()
		return nil, ErrShuttingDown
	}
	r, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok && !r.Closing() {
		return r, nil
	}

	v, err, _ := reg.group.Do(string(id), func() (any, error) {
		for {
			reg.mu.RLock()
			if reg.closed {
				reg.mu.RUnlock()
				return nil, ErrShuttingDown
			}
			r, ok := reg.rooms[id]
			reg.mu.RUnlock()
			if !ok {
				break
			}
			if !r.Closing() {
				return r, nil
			}
			select {
			case <-r.Released():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc := crdt.NewDoc()
		perms := make(types.PermMap)
		if reg.gateway != nil {
			var err error
			perms, err = reg.gateway.LoadProjectState(ctx, string(id), doc)
			if err != nil {
				doc.Destroy()
				return nil, fmt.Errorf("load project state: %w", err)
			}
		}

		r := NewRoom(id, doc, perms, reg.gateway, reg.release)

		reg.mu.Lock()
		if reg.closed {
			reg.mu.Unlock()
			r.Shutdown(context.Background())
			return nil, ErrShuttingDown
		}
		reg.rooms[id] = r
		size := len(reg.rooms)
		reg.mu.Unlock()

		metrics.ActiveRooms.Set(float64(size))
		logging.Info(ctx, "room created", zap.String("room_id", string(id)))
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// release forgets an emptied room. New connections for the same id will
// create a fresh room and reload state from the store. Rooms only call
// this after their final flush completed, so the reload sees it.
func (reg *Registry) release(id types.RoomID) {
	reg.mu.Lock()
	if _, ok := reg.rooms[id]; !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, id)
	size := len(reg.rooms)
	reg.mu.Unlock()

	metrics.ActiveRooms.Set(float64(size))
	logging.Info(context.Background(), "room released", zap.String("room_id", string(id)))
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown drains every room concurrently: each one flushes its document
// and closes its sockets with a service-restart code. Blocks until all
// rooms finish or ctx expires.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.mu.Lock()
	reg.closed = true
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[types.RoomID]*Room)
	reg.mu.Unlock()

	metrics.ActiveRooms.Set(0)

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			r.Shutdown(ctx)
		}(r)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		logging.Info(ctx, "✅ all rooms shut down", zap.Int("rooms", len(rooms)))
	case <-ctx.Done():
		logging.Warn(ctx, "room shutdown timed out",
			zap.Int("rooms", len(rooms)), zap.Error(ctx.Err()))
	}
}

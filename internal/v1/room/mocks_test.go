package room

import (
	"context"
	"sync"
	"time"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// fakeClient implements types.ClientInterface and records everything the
// room sends it.
type fakeClient struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	texts  [][]byte
	binary [][]byte
	order  []string
	closed bool
	code   int
	reason string
}

func newFakeClient(id string, identity types.Identity) *fakeClient {
	return &fakeClient{id: id, identity: identity}
}

func (c *fakeClient) GetID() string               { return c.id }
func (c *fakeClient) GetIdentity() types.Identity { return c.identity }

func (c *fakeClient) SendText(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, append([]byte(nil), data...))
	c.order = append(c.order, "text")
}

func (c *fakeClient) SendBinary(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binary = append(c.binary, append([]byte(nil), data...))
	c.order = append(c.order, "binary")
}

func (c *fakeClient) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
}

func (c *fakeClient) textMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.texts))
	copy(out, c.texts)
	return out
}

func (c *fakeClient) binaryFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.binary))
	copy(out, c.binary)
	return out
}

func (c *fakeClient) sendOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *fakeClient) closeState() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code, c.reason
}

// fakeGateway implements PersistenceGateway in memory.
type fakeGateway struct {
	mu          sync.Mutex
	loadSnap    store.Snapshot
	loadPerms   types.PermMap
	loadErr     error
	persistErr  error
	persistHook func()
	persisted   []store.Snapshot
	permWrites  map[string]types.Role
	loads       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{permWrites: make(map[string]types.Role)}
}

func (g *fakeGateway) LoadProjectState(ctx context.Context, roomID string, doc *crdt.Doc) (types.PermMap, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loads++
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	store.RestoreSnapshot(doc, g.loadSnap)
	perms := make(types.PermMap, len(g.loadPerms))
	for k, v := range g.loadPerms {
		perms[k] = v
	}
	return perms, nil
}

func (g *fakeGateway) PersistProjectState(ctx context.Context, roomID string, snap store.Snapshot) error {
	g.mu.Lock()
	hook := g.persistHook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.persistErr != nil {
		return g.persistErr
	}
	g.persisted = append(g.persisted, snap)
	return nil
}

func (g *fakeGateway) SetProjectPermission(ctx context.Context, roomID, userID string, role types.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permWrites[userID] = role
	return nil
}

func (g *fakeGateway) persistCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.persisted)
}

func (g *fakeGateway) lastPersisted() (store.Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.persisted) == 0 {
		return store.Snapshot{}, false
	}
	return g.persisted[len(g.persisted)-1], true
}

func (g *fakeGateway) setPersistErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.persistErr = err
}

func (g *fakeGateway) setPersistHook(hook func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.persistHook = hook
}

func (g *fakeGateway) permWrite(userID string) (types.Role, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	role, ok := g.permWrites[userID]
	return role, ok
}

// presenceUpdate builds a single-entry presence frame the way a client
// editor would.
func presenceUpdate(clientID, clock uint64, state string) []byte {
	e := crdt.NewEncoder()
	e.WriteVarUint(1)
	e.WriteVarUint(clientID)
	e.WriteVarUint(clock)
	e.WriteVarString(state)
	return e.Bytes()
}

// docUpdate runs fn against a scratch replica and returns the encoded
// update it produces, mimicking a client-side edit.
func docUpdate(fn func(doc *crdt.Doc)) []byte {
	doc := crdt.NewDoc()
	var update []byte
	doc.OnUpdate(func(u []byte, _ any) { update = u })
	doc.Transact(nil, func() { fn(doc) })
	return update
}

// newTestRoom builds a room with a fast persist scheduler.
func newTestRoom(perms types.PermMap, gw PersistenceGateway, onEmpty func(types.RoomID)) *Room {
	r := NewRoom("room-1", crdt.NewDoc(), perms, gw, onEmpty)
	r.sched = newPersistScheduler(5*time.Millisecond, 2*time.Millisecond, r.flush)
	return r
}

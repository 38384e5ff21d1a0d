package api

import (
	"context"
	"errors"
	"sync"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// mockVerifier resolves canned tokens to identities.
type mockVerifier struct {
	identities map[string]types.Identity
}

func (m *mockVerifier) Verify(token string) (types.Identity, error) {
	if id, ok := m.identities[token]; ok {
		return id, nil
	}
	return types.Identity{}, errors.New("unknown token")
}

func testVerifier() *mockVerifier {
	return &mockVerifier{identities: map[string]types.Identity{
		"tok-editor": {UserID: "u-editor", Username: "eddy", Role: types.RoleEditor},
		"tok-viewer": {UserID: "u-viewer", Username: "vic", Role: types.RoleViewer},
		"tok-admin":  {UserID: "u-admin", Username: "ada", Role: types.RoleAdmin},
	}}
}

type permWrite struct {
	roomID string
	userID string
	role   types.Role
}

// stubGateway seeds freshly loaded rooms with canned suggestions and
// permissions, and records permission write-throughs.
type stubGateway struct {
	mu          sync.Mutex
	perms       types.PermMap
	suggestions []string
	loadErr     error
	permWrites  []permWrite
}

func (g *stubGateway) LoadProjectState(ctx context.Context, roomID string, doc *crdt.Doc) (types.PermMap, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	doc.Transact(nil, func() {
		suggestions := doc.GetMap(types.ContainerSuggestions)
		for _, id := range g.suggestions {
			entry := suggestions.SetMap(id)
			entry.Set("text", "persisted suggestion")
			entry.Set("authorId", "u-editor")
		}
	})
	perms := make(types.PermMap, len(g.perms))
	for k, v := range g.perms {
		perms[k] = v
	}
	return perms, nil
}

func (g *stubGateway) PersistProjectState(ctx context.Context, roomID string, snap store.Snapshot) error {
	return nil
}

func (g *stubGateway) SetProjectPermission(ctx context.Context, roomID, userID string, role types.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permWrites = append(g.permWrites, permWrite{roomID: roomID, userID: userID, role: role})
	return nil
}

func (g *stubGateway) writes() []permWrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]permWrite(nil), g.permWrites...)
}

// stubUsers hands out deterministic user records keyed by username.
type stubUsers struct {
	role types.Role
	err  error
}

func (s *stubUsers) EnsureUser(ctx context.Context, username string) (store.User, error) {
	if s.err != nil {
		return store.User{}, s.err
	}
	role := s.role
	if role == "" {
		role = types.RoleEditor
	}
	return store.User{ID: "u-" + username, Username: username, Role: role}, nil
}

// stubIssuer mints predictable tokens.
type stubIssuer struct {
	err error
}

func (s *stubIssuer) Issue(user types.Identity) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "signed-" + user.UserID, nil
}

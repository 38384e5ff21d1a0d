package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

func TestGetOrCreateRejectsInvalidIDs(t *testing.T) {
	reg := NewRegistry(newFakeGateway())

	for _, id := range []string{"", "room/1", "room 1", "room.1", "日本語"} {
		_, err := reg.GetOrCreate(context.Background(), types.RoomID(id))
		assert.ErrorIs(t, err, ErrInvalidRoomID, "id %q", id)
	}
	assert.Equal(t, 0, reg.Len())
}

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	reg := NewRegistry(newFakeGateway())
	defer reg.Shutdown(context.Background())

	a, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := reg.GetOrCreate(context.Background(), "beta")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Len())
}

func TestGetOrCreateLoadsPersistedState(t *testing.T) {
	gw := newFakeGateway()
	gw.loadSnap = store.Snapshot{
		Files: []store.FileState{{ID: "f1", Path: "docs/readme.md", Content: "hi"}},
	}
	gw.loadPerms = types.PermMap{"u1": types.RoleAdmin}

	reg := NewRegistry(gw)
	defer reg.Shutdown(context.Background())

	r, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	text := r.doc.GetMap(types.ContainerFiles).GetText("f1")
	require.NotNil(t, text)
	assert.Equal(t, "hi", text.String())
	assert.Equal(t, types.RoleAdmin, r.EffectiveRole(types.Identity{UserID: "u1", Role: types.RoleViewer}))
}

func TestGetOrCreateLoadFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.loadErr = errors.New("store exploded")

	reg := NewRegistry(gw)
	_, err := reg.GetOrCreate(context.Background(), "alpha")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestConcurrentGetOrCreateSharesOneLoad(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(gw)
	defer reg.Shutdown(context.Background())

	const n = 16
	rooms := make([]*Room, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i], errs[i] = reg.GetOrCreate(context.Background(), "alpha")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Same(t, rooms[0], rooms[i])
	}
	assert.Equal(t, 1, reg.Len())
}

func TestEmptiedRoomIsReleasedAndReloaded(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(gw)
	defer reg.Shutdown(context.Background())

	first, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	c := newFakeClient("sock-1", editorIdentity("u1"))
	require.NoError(t, first.Attach(c))
	first.Detach(c)

	assert.Equal(t, 0, reg.Len(), "empty room leaves the registry")

	second, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "next connection gets a fresh room")
}

func TestGetOrCreateWaitsOutTeardown(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(gw)
	defer reg.Shutdown(context.Background())

	first, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	c := newFakeClient("sock-1", editorIdentity("u1"))
	require.NoError(t, first.Attach(c))
	first.ApplySync(c, docUpdate(func(doc *crdt.Doc) {
		doc.GetMap(types.ContainerFiles).SetText("f1").Insert(0, "survives")
	}))

	// Hold the final flush open so the teardown window stays observable.
	finish := make(chan struct{})
	gw.setPersistHook(func() { <-finish })

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		first.Detach(c)
	}()
	require.Eventually(t, first.Closing, time.Second, time.Millisecond)

	// An acquisition during teardown must wait for the release instead of
	// returning the dying room.
	acquired := make(chan *Room, 1)
	go func() {
		r, err := reg.GetOrCreate(context.Background(), "alpha")
		assert.NoError(t, err)
		acquired <- r
	}()

	select {
	case r := <-acquired:
		t.Fatalf("acquired %p before teardown finished", r)
	case <-time.After(20 * time.Millisecond):
	}

	close(finish)
	<-detached

	second := <-acquired
	assert.NotSame(t, first, second)
	assert.False(t, second.Closing())
}

func TestRegistryShutdown(t *testing.T) {
	reg := NewRegistry(newFakeGateway())

	alpha, err := reg.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	beta, err := reg.GetOrCreate(context.Background(), "beta")
	require.NoError(t, err)

	a := newFakeClient("sock-a", editorIdentity("u1"))
	b := newFakeClient("sock-b", editorIdentity("u2"))
	require.NoError(t, alpha.Attach(a))
	require.NoError(t, beta.Attach(b))

	reg.Shutdown(context.Background())

	for _, c := range []*fakeClient{a, b} {
		closed, code, _ := c.closeState()
		assert.True(t, closed)
		assert.Equal(t, types.CloseServiceRestart, code)
	}
	assert.Equal(t, 0, reg.Len())

	_, err = reg.GetOrCreate(context.Background(), "gamma")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

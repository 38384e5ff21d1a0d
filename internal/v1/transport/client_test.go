package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidatlihan/codesafe/internal/v1/types"
)

func newTestClient(conn wsConnection, session roomSession) *Client {
	return newClient(conn, session, types.Identity{
		UserID:   "user-1",
		Username: "casey",
		Role:     types.RoleEditor,
	})
}

func TestClientSendQueuesFrames(t *testing.T) {
	client := newTestClient(&MockConnection{}, &mockSession{})

	client.SendText([]byte(`{"type":"welcome"}`))
	client.SendBinary([]byte{types.FrameSync, 1, 2, 3})

	f := <-client.send
	assert.Equal(t, websocket.TextMessage, f.messageType)
	assert.JSONEq(t, `{"type":"welcome"}`, string(f.data))

	f = <-client.send
	assert.Equal(t, websocket.BinaryMessage, f.messageType)
	assert.Equal(t, []byte{types.FrameSync, 1, 2, 3}, f.data)
}

func TestClientSendAfterClose(t *testing.T) {
	client := newTestClient(&MockConnection{}, &mockSession{})
	client.Close(websocket.CloseNormalClosure, "")

	// Must neither panic nor queue.
	client.SendText([]byte("late"))

	_, ok := <-client.send
	assert.False(t, ok)
}

func TestClientSendBufferFull(t *testing.T) {
	client := &Client{
		conn: &MockConnection{},
		room: &mockSession{},
		id:   "c1",
		send: make(chan frame, 1),
	}

	done := make(chan struct{})
	go func() {
		client.SendText([]byte("first"))
		client.SendText([]byte("second")) // dropped, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full buffer")
	}
	assert.Len(t, client.send, 1)
}

func TestClientCloseIdempotent(t *testing.T) {
	client := newTestClient(&MockConnection{}, &mockSession{})

	client.Close(types.CloseServiceRestart, "server shutting down")
	client.Close(websocket.CloseNormalClosure, "")
	client.Close(types.CloseInternalError, "boom")

	// First call wins.
	assert.Equal(t, types.CloseServiceRestart, client.closeCode)
	assert.Equal(t, "server shutting down", client.closeReason)
}

func TestClientConcurrentSend(t *testing.T) {
	client := newTestClient(&MockConnection{}, &mockSession{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.SendText([]byte("hello"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, len(client.send))
}

func TestReadPumpRoutesSyncFrames(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.BinaryMessage, append([]byte{types.FrameSync}, 0xAA, 0xBB)},
	})
	client := newTestClient(conn, session)

	client.readPump()

	state := session.snapshot()
	require.Len(t, state.syncPayloads, 1)
	assert.Equal(t, []byte{0xAA, 0xBB}, state.syncPayloads[0], "type byte must be stripped")
	assert.Equal(t, 1, state.detachCalls, "pump exit detaches from the room")
}

func TestReadPumpRoutesAwarenessFrames(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.BinaryMessage, append([]byte{types.FrameAwareness}, 0x01)},
	})
	client := newTestClient(conn, session)

	client.readPump()

	state := session.snapshot()
	require.Len(t, state.awarePayloads, 1)
	assert.Equal(t, []byte{0x01}, state.awarePayloads[0])
	assert.Empty(t, state.syncPayloads)
}

func TestReadPumpDropsEmptyAndUnknownBinary(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.BinaryMessage, []byte{}},
		{websocket.BinaryMessage, []byte{0x7F, 0x01, 0x02}},
	})
	client := newTestClient(conn, session)

	client.readPump()

	state := session.snapshot()
	assert.Empty(t, state.syncPayloads)
	assert.Empty(t, state.awarePayloads)
}

func TestReadPumpAnswersPing(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.TextMessage, []byte("ping")},
	})
	client := newTestClient(conn, session)

	client.readPump()

	f, ok := <-client.send
	require.True(t, ok, "pong should be queued before the pump exits")
	assert.Equal(t, websocket.TextMessage, f.messageType)
	assert.Equal(t, "pong", string(f.data))

	state := session.snapshot()
	assert.Empty(t, state.chatTexts)
}

func TestReadPumpRoutesChat(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.TextMessage, []byte(`{"type":"chat","text":"hello room"}`)},
	})
	client := newTestClient(conn, session)

	client.readPump()

	state := session.snapshot()
	require.Len(t, state.chatTexts, 1)
	assert.Equal(t, "hello room", state.chatTexts[0])
}

func TestReadPumpIgnoresUnknownText(t *testing.T) {
	session := &mockSession{}
	conn := scriptConn([]frame{
		{websocket.TextMessage, []byte("not json at all")},
		{websocket.TextMessage, []byte(`{"type":"mystery","text":"x"}`)},
	})
	client := newTestClient(conn, session)

	client.readPump()

	state := session.snapshot()
	assert.Empty(t, state.chatTexts)
	assert.Empty(t, state.syncPayloads)
}

func TestWritePumpWritesFramesThenCloseFrame(t *testing.T) {
	conn := newRecordingConn()
	client := newTestClient(conn, &mockSession{})

	go client.writePump()

	client.SendText([]byte("one"))
	client.SendBinary([]byte{types.FrameSync, 0x02})
	client.Close(types.CloseServiceRestart, "server shutting down")

	require.Eventually(t, func() bool { return len(conn.written()) == 3 }, time.Second, 5*time.Millisecond)

	writes := conn.written()
	assert.Equal(t, websocket.TextMessage, writes[0].messageType)
	assert.Equal(t, "one", string(writes[0].data))
	assert.Equal(t, websocket.BinaryMessage, writes[1].messageType)
	assert.Equal(t, websocket.CloseMessage, writes[2].messageType)
	expected := websocket.FormatCloseMessage(types.CloseServiceRestart, "server shutting down")
	assert.Equal(t, expected, writes[2].data)
}

func TestWritePumpStopsOnWriteError(t *testing.T) {
	var mu sync.Mutex
	writes := 0
	conn := &MockConnection{
		WriteMessageFunc: func(int, []byte) error {
			mu.Lock()
			defer mu.Unlock()
			writes++
			return assert.AnError
		},
	}
	client := newTestClient(conn, &mockSession{})

	client.SendText([]byte("one"))
	client.SendText([]byte("two"))

	done := make(chan struct{})
	go func() {
		client.writePump()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writePump did not stop after a write error")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, writes)
}

package transport

import (
	"sync"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// scriptConn builds a MockConnection that replays the given frames in
// order, then blocks briefly and reports a read error to end the pump.
func scriptConn(frames []frame) *MockConnection {
	i := 0
	var mu sync.Mutex
	return &MockConnection{
		ReadMessageFunc: func() (int, []byte, error) {
			mu.Lock()
			defer mu.Unlock()
			if i < len(frames) {
				f := frames[i]
				i++
				return f.messageType, f.data, nil
			}
			time.Sleep(10 * time.Millisecond)
			return 0, nil, assert.AnError
		},
	}
}

// recordingConn captures every write for later inspection.
type recordingConn struct {
	MockConnection
	mu     sync.Mutex
	writes []frame
}

func newRecordingConn() *recordingConn {
	rc := &recordingConn{}
	rc.WriteMessageFunc = func(messageType int, data []byte) error {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		rc.writes = append(rc.writes, frame{messageType: messageType, data: append([]byte(nil), data...)})
		return nil
	}
	return rc
}

func (rc *recordingConn) written() []frame {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]frame, len(rc.writes))
	copy(out, rc.writes)
	return out
}

// mockSession records the room calls a client makes.
type mockSession struct {
	mu             sync.Mutex
	attachErr      error
	attachCalls    int
	detachCalls    int
	syncPayloads   [][]byte
	awarePayloads  [][]byte
	chatTexts      []string
	lastSyncSender types.ClientInterface
}

func (m *mockSession) Attach(_ types.ClientInterface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	return m.attachErr
}

func (m *mockSession) Detach(_ types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachCalls++
}

func (m *mockSession) ApplySync(client types.ClientInterface, update []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncPayloads = append(m.syncPayloads, append([]byte(nil), update...))
	m.lastSyncSender = client
}

func (m *mockSession) ApplyAwareness(_ types.ClientInterface, update []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awarePayloads = append(m.awarePayloads, append([]byte(nil), update...))
}

func (m *mockSession) Chat(_ types.ClientInterface, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatTexts = append(m.chatTexts, text)
}

func (m *mockSession) snapshot() mockSessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mockSessionState{
		attachCalls:   m.attachCalls,
		detachCalls:   m.detachCalls,
		syncPayloads:  m.syncPayloads,
		awarePayloads: m.awarePayloads,
		chatTexts:     m.chatTexts,
	}
}

type mockSessionState struct {
	attachCalls   int
	detachCalls   int
	syncPayloads  [][]byte
	awarePayloads [][]byte
	chatTexts     []string
}

// mockVerifier implements types.TokenVerifier against a fixed token table.
type mockVerifier struct {
	identities map[string]types.Identity
}

func (m *mockVerifier) Verify(token string) (types.Identity, error) {
	identity, ok := m.identities[token]
	if !ok {
		return types.Identity{}, assert.AnError
	}
	return identity, nil
}

package types

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Core Domain Types ---

// Role defines the mutation authority a user holds in a room.
type Role string

// RoomID identifies one collaborative project room.
type RoomID string

// Role constants form a total order: viewer < editor < admin.
const (
	RoleViewer Role = "viewer" // Read-only participation
	RoleEditor Role = "editor" // May mutate the shared document
	RoleAdmin  Role = "admin"  // May change permissions and approve suggestions
)

// Rank returns the position of the role in the viewer < editor < admin order.
// Unknown roles rank below viewer.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 0
	case RoleEditor:
		return 1
	case RoleAdmin:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether r grants at least the authority of other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank() && r.Rank() >= 0
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r.Rank() >= 0
}

// ParseRole converts a string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// PermMap is a project's per-user role overrides, keyed by user id.
type PermMap map[string]Role

// Identity is the authenticated user attached to a socket or REST call.
// It is established at token verification and immutable afterwards.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomID reports whether id is a well-formed room identifier.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// --- Shared Document Contract ---

// Named containers of the shared project document. Clients and server
// agree on these by convention.
const (
	ContainerFiles       = "editor:files"         // map: fileId -> Text
	ContainerSuggestions = "editor:suggestions"   // map: suggestionId -> Map
	ContainerComments    = "editor:comments"      // map: commentId -> Map
	ContainerContrib     = "editor:contrib:chars" // map: userId -> int
	ContainerTreeNodes   = "file-tree:nodes"      // map: nodeId -> Map
	ContainerTreeRoots   = "file-tree:roots"      // array of root node ids
)

// --- Wire Protocol ---

// Binary frame types. The first byte of every binary frame selects the
// payload interpretation; the remainder is opaque update bytes.
const (
	FrameSync      byte = 0 // document update
	FrameAwareness byte = 1 // presence update
)

// WebSocket close codes emitted by the server.
const (
	ClosePolicyViolation = 1008 // origin rejected, bad token, bad room id
	CloseInternalError   = 1011 // room initialization failed
	CloseServiceRestart  = 1012 // server shutting down
)

// WelcomeMessage is the first text frame sent on a freshly accepted socket.
type WelcomeMessage struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	RoomID  string   `json:"roomId"`
	User    Identity `json:"user"`
}

// NewWelcomeMessage builds the welcome frame for a registered socket.
func NewWelcomeMessage(roomID RoomID, user Identity) WelcomeMessage {
	return WelcomeMessage{
		Type:    "welcome",
		Message: "connected",
		RoomID:  string(roomID),
		User:    user,
	}
}

// ErrorMessage is a text frame reporting a rejected client action.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorMessage builds an error frame with the given human-readable reason.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}

// --- Chat ---

// MaxChatTextLength bounds a single chat message after trimming.
const MaxChatTextLength = 1000

// ChatMessage is the server-constructed chat frame broadcast to a room.
type ChatMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
	SentAt   string `json:"sentAt"`
}

// NewChatMessage stamps a trimmed chat text with a fresh id and timestamp.
// The text must already be validated via ValidateChatText.
func NewChatMessage(from Identity, text string) ChatMessage {
	return ChatMessage{
		Type:     "chat",
		ID:       uuid.NewString(),
		UserID:   from.UserID,
		Username: from.Username,
		Text:     text,
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// ValidateChatText trims the raw client text and rejects empty or oversized
// messages. It returns the trimmed text on success.
func ValidateChatText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errors.New("chat text cannot be empty")
	}
	if len(text) > MaxChatTextLength {
		return "", errors.New("chat text exceeds maximum length")
	}
	return text, nil
}

// --- Shared Interfaces ---

// TokenVerifier defines the interface for bearer token authentication.
type TokenVerifier interface {
	Verify(tokenString string) (Identity, error)
}

// ClientInterface defines the behavior the room package requires from a
// WebSocket client, without depending on the transport package.
type ClientInterface interface {
	GetID() string
	GetIdentity() Identity
	SendText(data []byte)
	SendBinary(data []byte)
	Close(code int, reason string)
}

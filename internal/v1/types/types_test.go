package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleEditor))
	assert.True(t, RoleAdmin.AtLeast(RoleViewer))
	assert.True(t, RoleEditor.AtLeast(RoleViewer))
	assert.True(t, RoleEditor.AtLeast(RoleEditor))
	assert.False(t, RoleViewer.AtLeast(RoleEditor))
	assert.False(t, RoleEditor.AtLeast(RoleAdmin))
	assert.False(t, Role("owner").AtLeast(RoleViewer))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"viewer", RoleViewer, true},
		{"editor", RoleEditor, true},
		{"admin", RoleAdmin, true},
		{"", "", false},
		{"Admin", "", false},
		{"superuser", "", false},
	}

	for _, tt := range tests {
		t.Run("parse_"+tt.input, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValidRoomID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"empty", "", false},
		{"single char", "a", true},
		{"max length", strings.Repeat("a", 64), true},
		{"over max length", strings.Repeat("a", 65), false},
		{"slash", "a/b", false},
		{"dot", "a.b", false},
		{"underscore and hyphen", "proj_42-main", true},
		{"space", "a b", false},
		{"unicode", "prøject", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidRoomID(tt.id))
		})
	}
}

func TestValidateChatText(t *testing.T) {
	t.Run("trims surrounding whitespace", func(t *testing.T) {
		text, err := ValidateChatText("  hello world \n")
		assert.NoError(t, err)
		assert.Equal(t, "hello world", text)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ValidateChatText("")
		assert.Error(t, err)
	})

	t.Run("rejects whitespace only", func(t *testing.T) {
		_, err := ValidateChatText("   \t  ")
		assert.Error(t, err)
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := ValidateChatText(strings.Repeat("x", MaxChatTextLength+1))
		assert.Error(t, err)
	})

	t.Run("accepts max length", func(t *testing.T) {
		text, err := ValidateChatText(strings.Repeat("x", MaxChatTextLength))
		assert.NoError(t, err)
		assert.Len(t, text, MaxChatTextLength)
	})
}

func TestNewChatMessage(t *testing.T) {
	from := Identity{UserID: "u1", Username: "alice", Role: RoleEditor}
	msg := NewChatMessage(from, "hi there")

	assert.Equal(t, "chat", msg.Type)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hi there", msg.Text)
	assert.NotEmpty(t, msg.SentAt)

	other := NewChatMessage(from, "hi again")
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestChatMessageWireShape(t *testing.T) {
	msg := NewChatMessage(Identity{UserID: "u1", Username: "alice", Role: RoleViewer}, "hello")
	raw, err := json.Marshal(msg)
	assert.NoError(t, err)

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"type", "id", "userId", "username", "text", "sentAt"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "chat", decoded["type"])
}

func TestWelcomeMessage(t *testing.T) {
	user := Identity{UserID: "u9", Username: "bob", Role: RoleAdmin}
	msg := NewWelcomeMessage("room-1", user)

	raw, err := json.Marshal(msg)
	assert.NoError(t, err)

	var decoded struct {
		Type    string   `json:"type"`
		Message string   `json:"message"`
		RoomID  string   `json:"roomId"`
		User    Identity `json:"user"`
	}
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "welcome", decoded.Type)
	assert.Equal(t, "connected", decoded.Message)
	assert.Equal(t, "room-1", decoded.RoomID)
	assert.Equal(t, user, decoded.User)
}

package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidatlihan/codesafe/internal/v1/types"
)

func TestSetPermissionRequiresAdmin(t *testing.T) {
	f := newFixture(t, &stubGateway{})

	body := gin.H{"userId": "u-viewer", "role": "viewer"}

	denied := f.request(t, http.MethodPost, "/api/projects/approval-room/permissions", "tok-editor", body)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	granted := f.request(t, http.MethodPost, "/api/projects/approval-room/permissions", "tok-admin", body)
	require.Equal(t, http.StatusOK, granted.Code)
	assert.JSONEq(t, `{"ok":true,"userId":"u-viewer","role":"viewer"}`, granted.Body.String())

	// The change writes through to the store.
	writes := f.gateway.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, permWrite{roomID: "approval-room", userID: "u-viewer", role: types.RoleViewer}, writes[0])
}

func TestSetPermissionHonorsOverride(t *testing.T) {
	// The store grants the editor-token user admin inside this project.
	f := newFixture(t, &stubGateway{perms: types.PermMap{"u-editor": types.RoleAdmin}})

	rec := f.request(t, http.MethodPost, "/api/projects/p1/permissions", "tok-editor",
		gin.H{"userId": "u-other", "role": "editor"})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetPermissionValidation(t *testing.T) {
	f := newFixture(t, &stubGateway{})

	tests := []struct {
		name string
		body any
	}{
		{"missing userId", gin.H{"role": "viewer"}},
		{"blank userId", gin.H{"userId": "  ", "role": "viewer"}},
		{"unknown role", gin.H{"userId": "u1", "role": "owner"}},
		{"missing role", gin.H{"userId": "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.request(t, http.MethodPost, "/api/projects/p1/permissions", "tok-admin", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSetPermissionRequiresAuth(t *testing.T) {
	f := newFixture(t, &stubGateway{})
	body := gin.H{"userId": "u1", "role": "viewer"}

	missing := f.request(t, http.MethodPost, "/api/projects/p1/permissions", "", body)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	unknown := f.request(t, http.MethodPost, "/api/projects/p1/permissions", "tok-bogus", body)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
}

func TestApproveSuggestionRequiresAdmin(t *testing.T) {
	f := newFixture(t, &stubGateway{suggestions: []string{"s1"}})

	denied := f.request(t, http.MethodPost, "/api/projects/approval-room/suggestions/s1/approve", "tok-editor", nil)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	granted := f.request(t, http.MethodPost, "/api/projects/approval-room/suggestions/s1/approve", "tok-admin", nil)
	require.Equal(t, http.StatusOK, granted.Code)
	assert.JSONEq(t, `{"ok":true,"suggestionId":"s1"}`, granted.Body.String())
}

func TestApproveSuggestionNotFound(t *testing.T) {
	f := newFixture(t, &stubGateway{suggestions: []string{"s1"}})

	rec := f.request(t, http.MethodPost, "/api/projects/p1/suggestions/missing/approve", "tok-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectEndpointsRejectBadRoomID(t *testing.T) {
	f := newFixture(t, &stubGateway{})

	rec := f.request(t, http.MethodPost, "/api/projects/bad.id/permissions", "tok-admin",
		gin.H{"userId": "u1", "role": "viewer"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid project id")
}

func TestProjectLoadFailure(t *testing.T) {
	f := newFixture(t, &stubGateway{loadErr: assert.AnError})

	rec := f.request(t, http.MethodPost, "/api/projects/p1/permissions", "tok-admin",
		gin.H{"userId": "u1", "role": "viewer"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

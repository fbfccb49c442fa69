package main

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAdminRequiresBearerToken(t *testing.T) {
	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/api/admin/computers", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/admin/computers", "wrong-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/admin/computers", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminTokenLifecycle(t *testing.T) {
	srv, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/admin/tokens", testAdminToken, gin.H{"label": "lab"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)["token"].(map[string]any)
	require.NotEmpty(t, created["token"])
	tokenID := uint(created["id"].(float64))

	w = doJSON(t, r, http.MethodGet, "/api/admin/tokens", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody(t, w)["tokens"], 1)

	// Delete works while the token is unused.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/admin/tokens/%d/delete", tokenID), testAdminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Once redeemed, delete conflicts and revoke is the only way out.
	token, err := srv.tokens.Issue("")
	require.NoError(t, err)
	_, err = srv.tokens.Redeem(token.Token, 1)
	require.NoError(t, err)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/admin/tokens/%d/delete", token.ID), testAdminToken, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/admin/tokens/%d", token.ID), testAdminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminListSweepsStaleAgents(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")

	require.NoError(t, srv.db.Model(&Computer{}).
		Where("id = ?", id).
		Update("last_seen_at", time.Now().UTC().Add(-2*srv.staleAfter)).Error)

	w := doJSON(t, r, http.MethodGet, "/api/admin/computers", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	computers := decodeBody(t, w)["computers"].([]any)
	require.Len(t, computers, 1)
	require.Equal(t, string(StatusOffline), computers[0].(map[string]any)["status"])
}

func TestAdminUserCommandRoutes(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")
	_, err := srv.users.Sync(id, []ReportedUser{{Username: "alice", UID: 1000}})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/admin/computers/%d/users/alice/disable", id), testAdminToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	cmd := decodeBody(t, w)["command"].(map[string]any)
	require.Equal(t, "disable_user", cmd["type"])
	require.Equal(t, "alice", cmd["target_user"])

	// Unknown user and unknown computer both 404.
	w = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/admin/computers/%d/users/mallory/logout", id), testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost,
		"/api/admin/computers/9999/users/alice/enable", testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	count, err := srv.mailbox.PendingCount(id)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestAdminCancelCommands(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")

	_, err := srv.mailbox.Enqueue(id, CommandDisableUser, "alice")
	require.NoError(t, err)
	_, err = srv.mailbox.Enqueue(id, CommandDisableUser, "bob")
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodDelete,
		fmt.Sprintf("/api/admin/computers/%d/commands?target_user=bob", id), testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, decodeBody(t, w)["cancelled"])

	count, err := srv.mailbox.PendingCount(id)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestAdminGetComputerDetail(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")
	_, err := srv.users.Sync(id, []ReportedUser{{Username: "alice", UID: 1000}})
	require.NoError(t, err)
	_, err = srv.mailbox.Enqueue(id, CommandLogoutUser, "alice")
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/admin/computers/%d", id), testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, "host-a", body["computer"].(map[string]any)["hostname"])
	require.Len(t, body["users"], 1)
	require.Len(t, body["pending_commands"], 1)

	w = doJSON(t, r, http.MethodGet, "/api/admin/computers/9999", testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRemoveComputerClearsScreenshots(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")
	srv.screenshots.Put(id, []byte("img"))

	w := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/admin/computers/%d", id), testAdminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, ok := srv.screenshots.Get(id, "recent")
	require.False(t, ok)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/admin/computers/%d", id), testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminScreenshotEndpoints(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")

	w := doJSON(t, r, http.MethodGet,
		fmt.Sprintf("/api/admin/computers/%d/screenshot", id), testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	srv.screenshots.Put(id, []byte("jpeg-bytes"))

	w = doJSON(t, r, http.MethodGet,
		fmt.Sprintf("/api/admin/computers/%d/screenshot?slot=recent", id), testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	require.Equal(t, "jpeg-bytes", w.Body.String())

	w = doJSON(t, r, http.MethodGet,
		fmt.Sprintf("/api/admin/computers/%d/screenshots", id), testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody(t, w)["slots"], 5)
}

func TestAdminAuditLog(t *testing.T) {
	srv, r := newTestServer(t)
	id, _ := registerAgent(t, srv, r, "host-a")
	_, err := srv.users.Sync(id, []ReportedUser{{Username: "alice", UID: 1000}})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/admin/computers/%d/users/alice/disable", id), testAdminToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/admin/audit", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeBody(t, w)["entries"].([]any)
	require.NotEmpty(t, entries)
	require.Equal(t, AuditDisableUser, entries[0].(map[string]any)["action"])
}

package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

func serverFixture(t *testing.T) (*Server, *App) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:      dir,
		ListenAddr:   "localhost:9900",
		SyncInterval: time.Minute,
		SessionKey:   "test-session-key",
	}

	db, err := LoadOrCreate(filepath.Join(dir, "brdb.json"), zerolog.Nop())
	require.NoError(t, err)

	tokens := twitch.NewTokenStore(filepath.Join(dir, ".access_token"), "")
	application := New(cfg, db, nil, tokens, zerolog.Nop())

	return NewServer(application, cfg, nil, zerolog.Nop()), application
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLandingPageOffersLogin(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Log in with Twitch")
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestLoginRejectsMalformedPayloads(t *testing.T) {
	server, _ := serverFixture(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/login", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/login", `{"state":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid shape but no session cookie, so the state never matches.
	rec = doJSON(t, handler, http.MethodPost, "/login", `{"access_token":"tok","state":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelEndpoints(t *testing.T) {
	server, _ := serverFixture(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/channels", `{"name":"new_friend"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/channels", `{"name":"NEW_FRIEND"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/channels", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []channelView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	names := make([]string, 0, len(views))
	for _, view := range views {
		names = append(names, view.Name)
	}
	assert.Contains(t, names, "new_friend")
	assert.Contains(t, names, config.SeedChannel)

	rec = doJSON(t, handler, http.MethodDelete, "/api/channels/new_friend", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/api/channels/new_friend", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRaidRequiresLogin(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/raid", `{"name":"`+config.SeedChannel+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartRaidUnknownChannel(t *testing.T) {
	server, application := serverFixture(t)

	// Fake a logged-in session so the lookup runs.
	application.mu.Lock()
	application.raids = NewRaidManager(newFakeAPI(), application.db, nil, zerolog.Nop())
	application.mu.Unlock()

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/raid", `{"name":"not_watched"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRaidStatusWithNoRaid(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/raid", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view raidView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "no_raid", view.State)
}

func TestCancelRaidLoggedOut(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodDelete, "/api/raid", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSettingsPartialUpdate(t *testing.T) {
	server, application := serverFixture(t)
	handler := server.Handler()

	// Fresh stores default auto-visit to on.
	require.True(t, application.Database().AutoVisitChannelOnRaid())

	rec := doJSON(t, handler, http.MethodPost, "/api/settings", `{"onlyOnline":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, application.Database().OnlyOnline())
	assert.True(t, application.Database().AutoVisitChannelOnRaid())

	rec = doJSON(t, handler, http.MethodPost, "/api/settings", `{"autoVisitChannelOnRaid":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, application.Database().OnlyOnline())
	assert.False(t, application.Database().AutoVisitChannelOnRaid())

	rec = doJSON(t, handler, http.MethodPost, "/api/settings", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportRaidsWithoutHistory(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/raids.csv", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQuitInvokesCallback(t *testing.T) {
	_, application := serverFixture(t)

	called := false
	server := NewServer(application, application.cfg, func() { called = true }, zerolog.Nop())

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/quit", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, called)
}

func TestAuthPageServesFragmentExtractor(t *testing.T) {
	server, _ := serverFixture(t)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/auth", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}

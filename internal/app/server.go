package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"

	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

const sessionName = "br_session"

// landingDocument is the page the login command opens. The state nonce is
// baked into the authorize link and kept in the session cookie for the
// POST /login check.
const landingDocument = `<!DOCTYPE html>
<html>
<head><title>BetterRaid Twitch Login</title></head>
<body>
	<h1>BetterRaid</h1>
	{{if .LoggedIn}}
	<p>Logged in as {{.Login}}.</p>
	{{else}}
	<p><a href="{{.AuthURL}}">Log in with Twitch</a></p>
	{{end}}
</body>
</html>
`

// oauthClientDocument is served on the OAuth redirect. The access token
// arrives as a URL fragment, which only the browser can see, so a small
// script extracts it and posts it back.
const oauthClientDocument = `<!DOCTYPE html>
<html>
<head><title>BetterRaid Twitch Login</title></head>
<body>
	<h1>Successfully logged in!</h1>
	<p>You can close this tab now.</p>

	<script>
		var urlParams = new URLSearchParams(window.location.hash.substr(1));

		var xhr = new XMLHttpRequest();
		xhr.open('POST', '/login', true);
		xhr.setRequestHeader('Content-Type', 'application/json');
		xhr.send(JSON.stringify({
			access_token: urlParams.get('access_token'),
			state: urlParams.get('state')
		}));
	</script>
</body>
</html>
`

type channelView struct {
	Name          string     `json:"name"`
	DisplayName   string     `json:"displayName"`
	BroadcasterID string     `json:"broadcasterId"`
	IsLive        bool       `json:"isLive"`
	ViewerCount   int        `json:"viewerCount"`
	Category      string     `json:"category"`
	Title         string     `json:"title"`
	ThumbnailURL  string     `json:"thumbnailUrl"`
	LastRaided    *time.Time `json:"lastRaided"`
}

type raidView struct {
	State        string     `json:"state"`
	Target       string     `json:"target,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	Progress     float64    `json:"progress"`
	Participants int        `json:"participants"`
}

// Server is the loopback HTTP surface: the OAuth callback listener plus the
// command API the UI talks to. Everything binds to localhost only.
type Server struct {
	app         *App
	cfg         *config.Config
	log         zerolog.Logger
	cookieStore *sessions.CookieStore
	landing     *template.Template
	quit        func()
}

func NewServer(app *App, cfg *config.Config, quit func(), log zerolog.Logger) *Server {
	return &Server{
		app:         app,
		cfg:         cfg,
		log:         log,
		cookieStore: sessions.NewCookieStore([]byte(cfg.SessionKey)),
		landing:     template.Must(template.New("landing").Parse(landingDocument)),
		quit:        quit,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleLanding)
	mux.HandleFunc("GET /auth", s.handleAuthPage)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.HandleFunc("GET /api/channels", s.handleListChannels)
	mux.HandleFunc("POST /api/channels", s.handleAddChannel)
	mux.HandleFunc("DELETE /api/channels/{name}", s.handleRemoveChannel)
	mux.HandleFunc("GET /api/raid", s.handleRaidStatus)
	mux.HandleFunc("POST /api/raid", s.handleStartRaid)
	mux.HandleFunc("DELETE /api/raid", s.handleCancelRaid)
	mux.HandleFunc("POST /api/settings", s.handleSettings)
	mux.HandleFunc("POST /api/visit", s.handleVisit)
	mux.HandleFunc("POST /api/login", s.handleLoginCommand)
	mux.HandleFunc("GET /api/raids.csv", s.handleExportRaids)
	mux.HandleFunc("POST /api/quit", s.handleQuit)

	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("local server listening")

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	session, _ := s.cookieStore.Get(r, sessionName)

	state := generateSecret()
	session.Values["state"] = state
	if err := session.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		LoggedIn bool
		Login    string
		AuthURL  string
	}{
		LoggedIn: s.app.LoggedIn(),
		AuthURL:  config.OAuthURL(state),
	}
	if user := s.app.User(); user != nil {
		data.Login = user.Login
	}

	if err := s.landing.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("rendering landing page")
	}
}

func (s *Server) handleAuthPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(oauthClientDocument))
}

// handleLogin receives the token the browser extracted from the redirect
// fragment. Malformed payloads get a 400 and the listener keeps waiting.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccessToken string `json:"access_token"`
		State       string `json:"state"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.log.Error().Err(err).Msg("undecodable login payload")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.AccessToken == "" {
		s.log.Error().Msg("login payload is missing access_token")
		http.Error(w, "missing access_token", http.StatusBadRequest)
		return
	}

	session, _ := s.cookieStore.Get(r, sessionName)
	if state, ok := session.Values["state"].(string); !ok || state != payload.State {
		s.log.Error().Msg("login state mismatch")
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	if err := s.app.ConnectAPI(payload.AccessToken); err != nil {
		s.log.Error().Err(err).Msg("connecting with fresh token")
		http.Error(w, "login failed", http.StatusUnauthorized)
		return
	}

	if err := s.app.Tokens().Save(payload.AccessToken); err != nil {
		s.log.Error().Err(err).Msg("persisting token")
	}

	s.log.Info().Msg("received access token")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.app.Database().ChannelsFiltered(r.URL.Query().Get("filter"))

	views := make([]channelView, 0, len(channels))
	for _, channel := range channels {
		views = append(views, channelView{
			Name:          channel.Name(),
			DisplayName:   channel.DisplayName(),
			BroadcasterID: channel.ID(),
			IsLive:        channel.IsLive(),
			ViewerCount:   channel.ViewerCount(),
			Category:      channel.Category(),
			Title:         channel.Title(),
			ThumbnailURL:  channel.ThumbnailURL(),
			LastRaided:    channel.LastRaided(),
		})
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		http.Error(w, "missing channel name", http.StatusBadRequest)
		return
	}

	if _, added := s.app.AddChannel(payload.Name); !added {
		http.Error(w, "channel already on the watchlist", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	if !s.app.RemoveChannel(r.PathValue("name")) {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRaidStatus(w http.ResponseWriter, r *http.Request) {
	raids := s.app.Raids()
	if raids == nil {
		writeJSON(w, http.StatusOK, raidView{State: RaidStateNoRaid.String()})
		return
	}

	session := raids.Current()
	if session == nil {
		writeJSON(w, http.StatusOK, raidView{State: RaidStateNoRaid.String()})
		return
	}

	startedAt := session.StartedAt()
	writeJSON(w, http.StatusOK, raidView{
		State:        session.State().String(),
		Target:       session.Target().Name(),
		StartedAt:    &startedAt,
		Progress:     session.Progress(),
		Participants: session.Participants(),
	})
}

func (s *Server) handleStartRaid(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		http.Error(w, "missing channel name", http.StatusBadRequest)
		return
	}

	_, err := s.app.StartRaid(payload.Name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrRaidInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrRaidNotPossible):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, twitch.ErrAuth):
		http.Error(w, "not logged in", http.StatusUnauthorized)
	case errors.Is(err, twitch.ErrChannelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.Error().Err(err).Msg("starting raid")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleCancelRaid(w http.ResponseWriter, r *http.Request) {
	if err := s.app.CancelRaid(); err != nil {
		s.log.Error().Err(err).Msg("cancelling raid")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OnlyOnline             *bool `json:"onlyOnline"`
		ShowUserViewerCount    *bool `json:"showUserViewerCount"`
		AutoVisitChannelOnRaid *bool `json:"autoVisitChannelOnRaid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	db := s.app.Database()
	if payload.OnlyOnline != nil {
		db.SetOnlyOnline(*payload.OnlyOnline)
	}
	if payload.ShowUserViewerCount != nil {
		db.SetShowUserViewerCount(*payload.ShowUserViewerCount)
	}
	if payload.AutoVisitChannelOnRaid != nil {
		db.SetAutoVisitChannelOnRaid(*payload.AutoVisitChannelOnRaid)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		http.Error(w, "missing channel name", http.StatusBadRequest)
		return
	}

	if err := s.app.Visit(payload.Name); err != nil {
		s.log.Error().Err(err).Msg("opening channel in browser")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLoginCommand opens the landing page in the external browser to kick
// off the OAuth flow.
func (s *Server) handleLoginCommand(w http.ResponseWriter, r *http.Request) {
	if err := OpenURL("http://" + s.cfg.ListenAddr + "/"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExportRaids(w http.ResponseWriter, r *http.Request) {
	history := s.app.History()
	if history == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}

	records, err := history.RecentRaids(1000)
	if err != nil {
		s.log.Error().Err(err).Msg("reading raid history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="raids.csv"`)
	if err := gocsv.Marshal(&records, w); err != nil {
		s.log.Error().Err(err).Msg("writing raid export")
	}
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	if s.quit != nil {
		s.quit()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func generateSecret() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

// App is the session context owning everything with a lifecycle: the
// watchlist, the platform client, the push connection, the raid manager and
// the sync loop. It is built once at startup and passed down explicitly;
// there is no global state.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      *Database
	history *History
	tokens  *twitch.TokenStore

	mu          sync.Mutex
	api         *twitch.APIClient
	events      *twitch.EventSubClient
	raids       *RaidManager
	syncer      *Syncer
	announcer   *twitch.ChatAnnouncer
	user        *twitch.User
	userChannel *Channel
	syncCancel  context.CancelFunc

	ctx context.Context
}

func New(cfg *config.Config, db *Database, history *History, tokens *twitch.TokenStore, log zerolog.Logger) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		history: history,
		tokens:  tokens,
	}
}

// Start brings the app up: log in with a stored token if one exists, then
// run until the context is cancelled. A missing or stale token is not fatal;
// the app stays in logged-out browsing mode until the user logs in.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	token, err := a.tokens.Load()
	if err != nil {
		a.log.Error().Err(err).Msg("loading stored token")
	}

	if token == "" {
		a.log.Info().Msg("no access token found, starting logged out")
		return
	}

	// A failed validation request is not the same as a rejected token; the
	// login attempt below still decides.
	if valid, err := twitch.ValidateToken(token); err != nil {
		a.log.Warn().Err(err).Msg("token validation unreachable")
	} else if !valid {
		a.log.Warn().Msg("stored token rejected, starting logged out")
		return
	}

	if err := a.ConnectAPI(token); err != nil {
		if twitch.IsAuthError(err) {
			a.log.Warn().Msg("stored token expired, starting logged out")
			return
		}
		a.log.Error().Err(err).Msg("connecting to the platform")
	}
}

// Shutdown flushes state and tears connections down.
func (a *App) Shutdown() {
	a.mu.Lock()
	events := a.events
	announcer := a.announcer
	syncCancel := a.syncCancel
	a.mu.Unlock()

	if syncCancel != nil {
		syncCancel()
	}
	if events != nil {
		events.Close()
	}
	announcer.Disconnect()

	if err := a.db.Save(); err != nil {
		a.log.Error().Err(err).Msg("final watchlist save")
	}
	if a.history != nil {
		a.history.Close()
	}
}

// ConnectAPI logs in with an access token: resolves the user, builds the
// broadcaster's own channel, connects the push subscription and starts the
// sync loop. Called at startup with the stored token and again whenever the
// OAuth listener receives a fresh one.
func (a *App) ConnectAPI(token string) error {
	api, err := twitch.NewAPIClient(config.TwitchClientID, token)
	if err != nil {
		return err
	}

	user, err := api.ResolveUser()
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}

	userChannel := NewChannel(user.Login)
	if err := userChannel.Refresh(api); err != nil {
		a.log.Warn().Err(err).Msg("loading own channel data")
	}

	events := twitch.NewEventSubClient(api.Client, a.log)
	raids := NewRaidManager(api, a.db, a.history, a.log)
	raids.SetSource(userChannel)
	raids.SetOnVisit(func(channelName string) {
		if err := OpenURL(ChannelURL(channelName)); err != nil {
			a.log.Warn().Err(err).Msg("auto-visiting raided channel")
		}
	})

	a.mu.Lock()
	if a.syncCancel != nil {
		a.syncCancel()
	}
	if a.events != nil {
		a.events.Close()
	}
	a.announcer.Disconnect()

	a.api = api
	a.user = user
	a.userChannel = userChannel
	a.events = events
	a.raids = raids
	ctx := a.ctx
	a.mu.Unlock()

	if err := events.Connect(); err != nil {
		a.log.Error().Err(err).Msg("connecting push subscription")
	} else {
		// Raid progress and the user's own live status come in as push
		// events for the broadcaster id.
		events.ListenRaids(user.ID, twitch.RaidHandlers{
			OnRaidUpdate: raids.HandleRaidUpdate,
			OnRaidGo:     raids.HandleRaidGo,
		})
		events.Subscribe(user.ID, twitch.ChannelHandlers{
			OnStreamUp: func(time.Time) { userChannel.SetLive(true) },
			OnStreamDown: func() {
				userChannel.SetLive(false)
				raids.HandleSourceOffline()
			},
			OnViewerCount: userChannel.SetViewerCount,
		})
	}

	var announcer *twitch.ChatAnnouncer
	if a.cfg.ChatAnnounce {
		announcer = twitch.NewChatAnnouncer(user.Login, api.AccessToken(), a.log)
		announcer.Connect()
		raids.SetAnnouncer(announcer)
	}

	syncer := NewSyncer(a.db, api, a.history, events, a.cfg.SyncInterval, a.log)
	syncCtx, cancel := context.WithCancel(ctx)
	go syncer.Run(syncCtx)

	a.mu.Lock()
	a.announcer = announcer
	a.syncer = syncer
	a.syncCancel = cancel
	a.mu.Unlock()

	a.log.Info().Str("login", user.Login).Str("broadcaster_id", user.ID).Msg("connected to the platform")
	return nil
}

// LoggedIn reports whether a platform session is established.
func (a *App) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.api != nil
}

func (a *App) User() *twitch.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *App) UserChannel() *Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userChannel
}

func (a *App) Database() *Database {
	return a.db
}

func (a *App) Raids() *RaidManager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raids
}

func (a *App) History() *History {
	return a.history
}

func (a *App) Tokens() *twitch.TokenStore {
	return a.tokens
}

// AddChannel adds a watchlist entry and nudges the sync loop so the new
// channel resolves quickly.
func (a *App) AddChannel(name string) (*Channel, bool) {
	channel, added := a.db.AddChannel(name)
	if added {
		a.kickSync()
	}
	return channel, added
}

// RemoveChannel drops a channel from the watchlist and detaches its push
// listeners.
func (a *App) RemoveChannel(name string) bool {
	channel := a.db.FindChannel(name)
	if channel == nil {
		return false
	}

	if !a.db.RemoveChannel(channel) {
		return false
	}

	a.mu.Lock()
	syncer := a.syncer
	a.mu.Unlock()
	if syncer != nil {
		syncer.Unwatch(channel)
	}

	return true
}

// StartRaid starts a raid to a watched channel by name.
func (a *App) StartRaid(name string) (*RaidSession, error) {
	a.mu.Lock()
	raids := a.raids
	a.mu.Unlock()

	if raids == nil {
		return nil, twitch.ErrAuth
	}

	channel := a.db.FindChannel(name)
	if channel == nil {
		return nil, fmt.Errorf("%w: %s", twitch.ErrChannelNotFound, name)
	}

	return raids.Start(channel)
}

// CancelRaid stops the raid in flight, if any.
func (a *App) CancelRaid() error {
	a.mu.Lock()
	raids := a.raids
	a.mu.Unlock()

	if raids == nil {
		return nil
	}
	return raids.Cancel()
}

// Visit opens a channel's page in the external browser.
func (a *App) Visit(channelName string) error {
	return OpenURL(ChannelURL(channelName))
}

func (a *App) kickSync() {
	a.mu.Lock()
	syncer := a.syncer
	a.mu.Unlock()

	if syncer != nil {
		syncer.Kick()
	}
}

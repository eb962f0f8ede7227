package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zion-networks/BetterRaid/internal/twitch"
)

// refreshParallelism bounds concurrent refresh calls per cycle so a large
// watchlist does not hammer the platform's rate limits.
const refreshParallelism = 4

// Syncer keeps every watched channel's telemetry approximately fresh. It
// polls on a fixed interval and, when the push connection is up, attaches
// per-channel listeners so live/offline/viewer-count events land between
// polls. Polling stays the ground truth.
type Syncer struct {
	db       *Database
	api      twitch.API
	history  *History
	events   *twitch.EventSubClient
	interval time.Duration
	log      zerolog.Logger

	kick chan struct{}

	mu   sync.Mutex
	subs map[string]*twitch.Subscription
}

// NewSyncer wires the loop. history and events may be nil (no telemetry
// recording, logged-out mode respectively).
func NewSyncer(db *Database, api twitch.API, history *History, events *twitch.EventSubClient, interval time.Duration, log zerolog.Logger) *Syncer {
	return &Syncer{
		db:       db,
		api:      api,
		history:  history,
		events:   events,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
		subs:     make(map[string]*twitch.Subscription),
	}
}

// Kick requests an out-of-band refresh, e.g. after add/remove. It never
// blocks; a pending kick coalesces with the next one.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled. The sleep between cycles is
// cancellable so shutdown is not delayed by the interval.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.refreshAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("sync loop stopped")
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		case <-s.kick:
			s.refreshAll(ctx)
		}
	}
}

// refreshAll runs one sync cycle over a snapshot of the watchlist. Refreshes
// are best effort: one channel failing is logged and must not abort the
// batch.
func (s *Syncer) refreshAll(ctx context.Context) {
	channels := s.db.Channels()
	if len(channels) == 0 {
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(refreshParallelism)

	for _, channel := range channels {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			if err := channel.Refresh(s.api); err != nil {
				if errors.Is(err, twitch.ErrChannelNotFound) {
					s.log.Warn().Str("channel", channel.Name()).Msg("channel not found, keeping stale data")
				} else {
					s.log.Error().Err(err).Str("channel", channel.Name()).Msg("refreshing channel")
				}
				return nil
			}

			s.ensureSubscribed(channel)
			return nil
		})
	}
	g.Wait()

	s.recordTelemetry(channels)
}

// ensureSubscribed attaches push listeners once the channel's id is known.
func (s *Syncer) ensureSubscribed(channel *Channel) {
	if s.events == nil || channel.ID() == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[channel.Name()]; ok {
		return
	}

	s.subs[channel.Name()] = s.events.Subscribe(channel.ID(), twitch.ChannelHandlers{
		OnStreamUp:    func(time.Time) { channel.SetLive(true) },
		OnStreamDown:  func() { channel.SetLive(false) },
		OnViewerCount: channel.SetViewerCount,
	})
}

// Unwatch detaches the push listeners of a removed channel.
func (s *Syncer) Unwatch(channel *Channel) {
	s.mu.Lock()
	sub := s.subs[channel.Name()]
	delete(s.subs, channel.Name())
	s.mu.Unlock()

	sub.Unsubscribe()
}

func (s *Syncer) recordTelemetry(channels []*Channel) {
	if s.history == nil {
		return
	}

	now := time.Now()
	samples := make([]TelemetrySample, 0, len(channels))
	for _, channel := range channels {
		if channel.ID() == "" {
			continue
		}
		samples = append(samples, TelemetrySample{
			ChannelID: channel.ID(),
			Login:     channel.Name(),
			Viewers:   channel.ViewerCount(),
			IsLive:    channel.IsLive(),
			SampledAt: now,
		})
	}

	if err := s.history.RecordTelemetry(samples); err != nil {
		s.log.Error().Err(err).Msg("recording telemetry samples")
	}
}

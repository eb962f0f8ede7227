package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

// ErrRaidInProgress rejects a second raid while one is running. Raids act on
// the broadcaster's own channel and cannot be parallelized.
var ErrRaidInProgress = errors.New("a raid is already in progress")

// ErrRaidNotPossible means a precondition failed: no source channel, source
// or target offline, or source equals target.
var ErrRaidNotPossible = errors.New("raid preconditions not met")

type RaidState int

const (
	RaidStateNoRaid RaidState = iota
	RaidStateStarting
	RaidStateActive
	RaidStateCompleted
	RaidStateCancelled
	RaidStateAborted
)

func (s RaidState) String() string {
	switch s {
	case RaidStateNoRaid:
		return "no_raid"
	case RaidStateStarting:
		return "starting"
	case RaidStateActive:
		return "active"
	case RaidStateCompleted:
		return "completed"
	case RaidStateCancelled:
		return "cancelled"
	case RaidStateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RaidSession is the ephemeral state of one raid, from the start call until
// the platform reports it done, the user cancels, or the source goes
// offline. The target is a reference into the watchlist, not owned here.
type RaidSession struct {
	mu           sync.Mutex
	state        RaidState
	target       *Channel
	startedAt    time.Time
	participants int
	progress     float64
}

func (s *RaidSession) State() RaidState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RaidSession) Target() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *RaidSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *RaidSession) Participants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants
}

// Progress is the elapsed fraction of the fixed raid countdown, 0..1. It is
// recomputed on a short tick for display only and gates nothing.
func (s *RaidSession) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *RaidSession) updateProgress(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != RaidStateActive {
		return
	}

	progress := now.Sub(s.startedAt).Seconds() / config.RaidDuration.Seconds()
	s.progress = max(0, min(progress, 1))
}

// transition moves the session to a state, returning false if it was already
// terminal.
func (s *RaidSession) transition(to RaidState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case RaidStateCompleted, RaidStateCancelled, RaidStateAborted:
		return false
	}

	s.state = to
	return true
}

// activate promotes Starting to Active with the platform's timestamp. It
// fails when the session left Starting in the meantime, e.g. a cancel racing
// the start call.
func (s *RaidSession) activate(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != RaidStateStarting {
		return false
	}

	s.startedAt = at
	s.state = RaidStateActive
	return true
}

// RaidManager enforces the one-raid-at-a-time rule and drives the session
// through its lifecycle from user commands and push events.
type RaidManager struct {
	api       twitch.API
	db        *Database
	history   *History
	announcer *twitch.ChatAnnouncer
	log       zerolog.Logger

	mu      sync.Mutex
	source  *Channel
	current *RaidSession
	onVisit func(channelName string)
}

func NewRaidManager(api twitch.API, db *Database, history *History, log zerolog.Logger) *RaidManager {
	return &RaidManager{api: api, db: db, history: history, log: log}
}

// SetSource sets the broadcaster's own channel after login.
func (rm *RaidManager) SetSource(channel *Channel) {
	rm.mu.Lock()
	rm.source = channel
	rm.mu.Unlock()
}

func (rm *RaidManager) Source() *Channel {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.source
}

func (rm *RaidManager) SetAnnouncer(announcer *twitch.ChatAnnouncer) {
	rm.mu.Lock()
	rm.announcer = announcer
	rm.mu.Unlock()
}

// SetOnVisit installs the callback used for auto-visit after a completed
// raid.
func (rm *RaidManager) SetOnVisit(fn func(channelName string)) {
	rm.mu.Lock()
	rm.onVisit = fn
	rm.mu.Unlock()
}

// Current returns the session in flight, or nil.
func (rm *RaidManager) Current() *RaidSession {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.current
}

// CanStart reports whether the start command is available for a target:
// no raid in flight, a resolved live source, a resolved live target and
// target distinct from source.
func (rm *RaidManager) CanStart(target *Channel) bool {
	if target == nil {
		return false
	}

	rm.mu.Lock()
	source := rm.source
	busy := rm.current != nil
	rm.mu.Unlock()

	if busy || source == nil {
		return false
	}

	return source.ID() != "" && source.IsLive() &&
		target.ID() != "" && target.IsLive() &&
		!source.Equal(target)
}

// Start begins a raid to the target. The start timestamp comes from the
// platform's response, not the local clock, to tolerate request latency.
func (rm *RaidManager) Start(target *Channel) (*RaidSession, error) {
	rm.mu.Lock()
	if rm.current != nil {
		rm.mu.Unlock()
		return nil, ErrRaidInProgress
	}

	source := rm.source
	if source == nil || target == nil ||
		source.ID() == "" || !source.IsLive() ||
		target.ID() == "" || !target.IsLive() ||
		source.Equal(target) {
		rm.mu.Unlock()
		return nil, ErrRaidNotPossible
	}

	session := &RaidSession{state: RaidStateStarting, target: target}
	rm.current = session
	announcer := rm.announcer
	rm.mu.Unlock()

	info, err := rm.api.StartRaid(source.ID(), target.ID())
	if err != nil {
		rm.mu.Lock()
		rm.current = nil
		rm.mu.Unlock()
		session.transition(RaidStateNoRaid)
		return nil, fmt.Errorf("starting raid to %s: %w", target.Name(), err)
	}

	if !session.activate(info.CreatedAt) {
		// Cancelled while the start call was in flight. The platform raid
		// exists now, so undo it best effort.
		if err := rm.api.CancelRaid(source.ID()); err != nil {
			rm.log.Warn().Err(err).Msg("undoing raid started during cancel")
		}
		return session, nil
	}

	rm.db.SetRaided(target.Name(), info.CreatedAt)
	announcer.AnnounceRaid(target.DisplayName(), source.ViewerCount())
	rm.log.Info().Str("target", target.Name()).Time("started_at", info.CreatedAt).Msg("raid started")

	go rm.tickProgress(session)

	return session, nil
}

func (rm *RaidManager) tickProgress(session *RaidSession) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for now := range ticker.C {
		if session.State() != RaidStateActive {
			return
		}
		session.updateProgress(now)
	}
}

// Cancel stops the raid in flight. Cancelling with none running is a no-op.
func (rm *RaidManager) Cancel() error {
	rm.mu.Lock()
	session := rm.current
	source := rm.source
	announcer := rm.announcer
	rm.mu.Unlock()

	if session == nil || source == nil {
		return nil
	}

	if err := rm.api.CancelRaid(source.ID()); err != nil {
		return fmt.Errorf("cancelling raid: %w", err)
	}

	rm.finish(session, RaidStateCancelled)
	announcer.AnnounceCancel()
	rm.log.Info().Str("target", session.Target().Name()).Msg("raid cancelled")
	return nil
}

// HandleRaidGo reacts to the platform's "raid go" push event: the raid
// executed, the session completes and the target's last-raided time takes
// the event's timestamp.
func (rm *RaidManager) HandleRaidGo(at time.Time, viewers int) {
	rm.mu.Lock()
	session := rm.current
	onVisit := rm.onVisit
	rm.mu.Unlock()

	if session == nil {
		return
	}

	session.mu.Lock()
	if viewers > 0 {
		session.participants = viewers
	}
	session.mu.Unlock()

	if !rm.finish(session, RaidStateCompleted) {
		return
	}

	target := session.Target()
	rm.db.SetRaided(target.Name(), at)
	rm.log.Info().Str("target", target.Name()).Int("participants", session.Participants()).Msg("raid executed")

	if onVisit != nil && rm.db.AutoVisitChannelOnRaid() {
		onVisit(target.Name())
	}
}

// HandleRaidUpdate tracks the participant count while the raid counts down.
func (rm *RaidManager) HandleRaidUpdate(viewers int) {
	session := rm.Current()
	if session == nil {
		return
	}

	session.mu.Lock()
	session.participants = viewers
	session.mu.Unlock()
}

// HandleSourceOffline aborts the session when the broadcaster's own stream
// ends mid-raid. The platform does not guarantee the raid survives that, so
// local state resets pessimistically.
func (rm *RaidManager) HandleSourceOffline() {
	rm.mu.Lock()
	session := rm.current
	rm.mu.Unlock()

	if session == nil {
		return
	}

	if rm.finish(session, RaidStateAborted) {
		rm.log.Warn().Str("target", session.Target().Name()).Msg("source went offline, raid aborted")
	}
}

func (rm *RaidManager) finish(session *RaidSession, outcome RaidState) bool {
	if !session.transition(outcome) {
		return false
	}

	rm.mu.Lock()
	if rm.current == session {
		rm.current = nil
	}
	rm.mu.Unlock()

	if rm.history != nil {
		target := session.Target()
		err := rm.history.RecordRaid(RaidRecord{
			TargetID:     target.ID(),
			TargetLogin:  target.Name(),
			StartedAt:    session.StartedAt(),
			Outcome:      outcome.String(),
			Participants: session.Participants(),
		})
		if err != nil {
			rm.log.Error().Err(err).Msg("recording raid outcome")
		}
	}

	return true
}

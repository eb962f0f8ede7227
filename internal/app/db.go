package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zion-networks/BetterRaid/internal/config"
)

// ErrCorruptStore means the watchlist file exists but cannot be parsed.
// There is no recovery heuristic for partially written JSON; silently
// discarding the user's list would be worse than refusing to start, so this
// is fatal at startup.
var ErrCorruptStore = errors.New("watchlist store is corrupt")

// channelRecord is the persisted subset of a channel. Live flag and viewer
// count are ephemeral and deliberately excluded.
type channelRecord struct {
	ID            string     `json:"id"`
	BroadcasterID string     `json:"broadcasterId"`
	Name          string     `json:"name"`
	DisplayName   string     `json:"displayName"`
	ThumbnailURL  string     `json:"thumbnailUrl"`
	Category      string     `json:"category"`
	Title         string     `json:"title"`
	LastRaided    *time.Time `json:"lastRaided"`
}

type document struct {
	OnlyOnline             bool            `json:"onlyOnline"`
	ShowUserViewerCount    bool            `json:"showUserViewerCount"`
	AutoVisitChannelOnRaid bool            `json:"autoVisitChannelOnRaid"`
	Channels               []channelRecord `json:"channels"`
}

// Database owns the watched channels and the display settings, persisted as
// a single JSON document. Mutations and saves are serialized by one mutex;
// with auto-save enabled every channel change triggers an immediate save.
// That trades write amplification for simplicity (tens of channels, tiny
// document) and is an accepted cost, not an oversight.
type Database struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger

	autoSave               bool
	onlyOnline             bool
	showUserViewerCount    bool
	autoVisitChannelOnRaid bool
	channels               []*Channel
}

// LoadOrCreate deserializes the document at path. A missing file yields a
// fresh document holding one seed channel, persisted immediately.
func LoadOrCreate(path string, log zerolog.Logger) (*Database, error) {
	db := &Database{path: path, log: log, autoSave: true}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("watchlist not found, creating a new one")

		db.showUserViewerCount = true
		db.autoVisitChannelOnRaid = true
		db.attach(NewChannel(config.SeedChannel))

		if err := db.Save(); err != nil {
			return nil, fmt.Errorf("persisting new watchlist: %w", err)
		}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading watchlist: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}

	db.onlyOnline = doc.OnlyOnline
	db.showUserViewerCount = doc.ShowUserViewerCount
	db.autoVisitChannelOnRaid = doc.AutoVisitChannelOnRaid
	for _, rec := range doc.Channels {
		channel := NewChannel(rec.Name)
		channel.id = rec.BroadcasterID
		if channel.id == "" {
			channel.id = rec.ID
		}
		if rec.DisplayName != "" {
			channel.displayName = rec.DisplayName
		}
		if rec.ThumbnailURL != "" {
			channel.thumbnailURL = rec.ThumbnailURL
		}
		channel.category = rec.Category
		channel.title = rec.Title
		channel.lastRaided = rec.LastRaided
		db.attach(channel)
	}

	log.Debug().Str("path", path).Int("channels", len(db.channels)).Msg("loaded watchlist")
	return db, nil
}

// attach takes ownership of a channel and wires the auto-save hook.
func (db *Database) attach(channel *Channel) {
	channel.OnChange(func(string) {
		if db.AutoSave() {
			if err := db.Save(); err != nil {
				db.log.Error().Err(err).Msg("auto-saving watchlist")
			}
		}
	})
	db.channels = append(db.channels, channel)
}

func (db *Database) AutoSave() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.autoSave
}

func (db *Database) SetAutoSave(enabled bool) {
	db.mu.Lock()
	db.autoSave = enabled
	db.mu.Unlock()
}

// AddChannel appends a new unresolved channel. Login names are unique
// case-insensitively; adding a duplicate is a no-op that returns the
// existing channel.
func (db *Database) AddChannel(name string) (*Channel, bool) {
	db.mu.Lock()
	for _, existing := range db.channels {
		if strings.EqualFold(existing.Name(), name) {
			db.mu.Unlock()
			return existing, false
		}
	}

	channel := NewChannel(name)
	db.attach(channel)
	db.mu.Unlock()

	db.saveAfterMutation()
	return channel, true
}

// RemoveChannel removes by identity or login match; absent channels are a
// no-op.
func (db *Database) RemoveChannel(channel *Channel) bool {
	db.mu.Lock()
	index := -1
	for i, existing := range db.channels {
		if existing == channel || existing.Equal(channel) || strings.EqualFold(existing.Name(), channel.Name()) {
			index = i
			break
		}
	}
	if index == -1 {
		db.mu.Unlock()
		return false
	}

	db.channels = append(db.channels[:index], db.channels[index+1:]...)
	db.mu.Unlock()

	db.saveAfterMutation()
	return true
}

// SetRaided records the last-raided time on the matching channel. A missing
// match is not an error: the channel may have been removed concurrently.
func (db *Database) SetRaided(name string, at time.Time) bool {
	channel := db.FindChannel(name)
	if channel == nil {
		return false
	}

	// SetLastRaided notifies observers, which covers the auto-save.
	channel.SetLastRaided(at)
	return true
}

func (db *Database) FindChannel(name string) *Channel {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, channel := range db.channels {
		if strings.EqualFold(channel.Name(), name) {
			return channel
		}
	}
	return nil
}

// Channels returns a snapshot of the watched channels in insertion order.
func (db *Database) Channels() []*Channel {
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := make([]*Channel, len(db.channels))
	copy(snapshot, db.channels)
	return snapshot
}

// ChannelsFiltered is the single place the only-online setting and the text
// filter are applied. Sorted live first, then viewers descending, then name.
func (db *Database) ChannelsFiltered(filter string) []*Channel {
	db.mu.Lock()
	onlyOnline := db.onlyOnline
	channels := make([]*Channel, len(db.channels))
	copy(channels, db.channels)
	db.mu.Unlock()

	filter = strings.ToLower(strings.TrimSpace(filter))
	filtered := make([]*Channel, 0, len(channels))
	for _, channel := range channels {
		if onlyOnline && !channel.IsLive() {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(channel.Name()), filter) &&
			!strings.Contains(strings.ToLower(channel.DisplayName()), filter) {
			continue
		}
		filtered = append(filtered, channel)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.IsLive() != b.IsLive() {
			return a.IsLive()
		}
		if a.ViewerCount() != b.ViewerCount() {
			return a.ViewerCount() > b.ViewerCount()
		}
		return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
	})

	return filtered
}

func (db *Database) OnlyOnline() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.onlyOnline
}

func (db *Database) SetOnlyOnline(v bool) {
	db.mu.Lock()
	changed := db.onlyOnline != v
	db.onlyOnline = v
	db.mu.Unlock()

	if changed {
		db.saveAfterMutation()
	}
}

func (db *Database) ShowUserViewerCount() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.showUserViewerCount
}

func (db *Database) SetShowUserViewerCount(v bool) {
	db.mu.Lock()
	changed := db.showUserViewerCount != v
	db.showUserViewerCount = v
	db.mu.Unlock()

	if changed {
		db.saveAfterMutation()
	}
}

func (db *Database) AutoVisitChannelOnRaid() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.autoVisitChannelOnRaid
}

func (db *Database) SetAutoVisitChannelOnRaid(v bool) {
	db.mu.Lock()
	changed := db.autoVisitChannelOnRaid != v
	db.autoVisitChannelOnRaid = v
	db.mu.Unlock()

	if changed {
		db.saveAfterMutation()
	}
}

func (db *Database) saveAfterMutation() {
	if !db.AutoSave() {
		return
	}
	if err := db.Save(); err != nil {
		db.log.Error().Err(err).Msg("saving watchlist")
	}
}

// Save serializes the full document, overwriting the file. A failed save is
// reported but leaves in-memory state intact so the user can retry.
func (db *Database) Save() error {
	db.mu.Lock()
	doc := document{
		OnlyOnline:             db.onlyOnline,
		ShowUserViewerCount:    db.showUserViewerCount,
		AutoVisitChannelOnRaid: db.autoVisitChannelOnRaid,
		Channels:               make([]channelRecord, 0, len(db.channels)),
	}
	for _, channel := range db.channels {
		doc.Channels = append(doc.Channels, channelRecord{
			ID:            channel.ID(),
			BroadcasterID: channel.ID(),
			Name:          channel.Name(),
			DisplayName:   channel.DisplayName(),
			ThumbnailURL:  channel.ThumbnailURL(),
			Category:      channel.Category(),
			Title:         channel.Title(),
			LastRaided:    channel.LastRaided(),
		})
	}
	path := db.path
	db.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing watchlist: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing watchlist: %w", err)
	}

	db.log.Debug().Str("path", path).Msg("saved watchlist")
	return nil
}

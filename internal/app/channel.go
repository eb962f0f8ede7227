package app

import (
	"sync"
	"time"

	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

// Channel holds identity and live telemetry for one streamer. The login name
// is fixed at construction and acts as the durable key; the broadcaster id is
// assigned once on first resolution and never overwritten afterwards.
//
// All fields are guarded by the mutex so the sync loop, push events and the
// HTTP surface can touch the same channel concurrently. Observers registered
// with OnChange are invoked after each effective mutation, outside the lock.
type Channel struct {
	mu sync.RWMutex

	name         string
	id           string
	displayName  string
	isLive       bool
	viewerCount  int
	category     string
	title        string
	thumbnailURL string
	lastRaided   *time.Time

	observers []func(field string)
}

func NewChannel(name string) *Channel {
	return &Channel{
		name:         name,
		displayName:  name,
		thumbnailURL: config.ChannelPlaceholderImageURL,
	}
}

// OnChange registers an observer for field-change notifications. The field
// argument names the mutated attribute.
func (c *Channel) OnChange(fn func(field string)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Channel) notify(fields []string) {
	if len(fields) == 0 {
		return
	}

	c.mu.RLock()
	observers := make([]func(string), len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	for _, field := range fields {
		for _, fn := range observers {
			fn(field)
		}
	}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Channel) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Channel) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLive
}

func (c *Channel) ViewerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewerCount
}

func (c *Channel) Category() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.category
}

func (c *Channel) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

func (c *Channel) ThumbnailURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thumbnailURL
}

func (c *Channel) LastRaided() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRaided
}

func (c *Channel) SetLive(live bool) {
	c.mu.Lock()
	changed := c.isLive != live
	c.isLive = live
	if !live && c.viewerCount != 0 {
		c.viewerCount = 0
		c.mu.Unlock()
		c.notify([]string{"isLive", "viewerCount"})
		return
	}
	c.mu.Unlock()

	if changed {
		c.notify([]string{"isLive"})
	}
}

func (c *Channel) SetViewerCount(viewers int) {
	c.mu.Lock()
	changed := c.viewerCount != viewers
	c.viewerCount = viewers
	c.mu.Unlock()

	if changed {
		c.notify([]string{"viewerCount"})
	}
}

func (c *Channel) SetLastRaided(at time.Time) {
	c.mu.Lock()
	c.lastRaided = &at
	c.mu.Unlock()

	c.notify([]string{"lastRaided"})
}

// Equal treats the broadcaster id as the identity key. Two channels without
// resolved ids are never equal, which prevents false merges before the first
// resolution.
func (c *Channel) Equal(other *Channel) bool {
	if other == nil {
		return false
	}

	id, otherID := c.ID(), other.ID()
	return id != "" && id == otherID
}

// Refresh resolves the login name and fetches current stream data, then
// updates identity and telemetry in one pass. A channel the platform cannot
// resolve leaves prior state untouched and returns ErrChannelNotFound.
func (c *Channel) Refresh(api twitch.API) error {
	info, err := api.ResolveChannel(c.name)
	if err != nil {
		return err
	}

	stream, err := api.GetStreamInfo(info.Login)
	if err != nil {
		return err
	}

	changed := c.apply(info, stream)
	c.notify(changed)
	return nil
}

func (c *Channel) apply(info *twitch.ChannelInfo, stream *twitch.StreamInfo) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string
	set := func(field string, dst *string, value string) {
		if value != "" && *dst != value {
			*dst = value
			changed = append(changed, field)
		}
	}

	// The id is assigned at most once per login.
	if c.id == "" && info.ID != "" {
		c.id = info.ID
		changed = append(changed, "broadcasterId")
	}

	set("displayName", &c.displayName, info.DisplayName)
	set("thumbnailUrl", &c.thumbnailURL, info.ThumbnailURL)

	live := stream != nil
	if c.isLive != live {
		c.isLive = live
		changed = append(changed, "isLive")
	}

	if live {
		if c.viewerCount != stream.ViewerCount {
			c.viewerCount = stream.ViewerCount
			changed = append(changed, "viewerCount")
		}
		set("category", &c.category, stream.Category)
		set("title", &c.title, stream.Title)
	} else {
		if c.viewerCount != 0 {
			c.viewerCount = 0
			changed = append(changed, "viewerCount")
		}
		set("category", &c.category, info.Category)
		set("title", &c.title, info.Title)
	}

	return changed
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zion-networks/BetterRaid/internal/twitch"
)

func TestRefreshResolvesIdentityAndTelemetry(t *testing.T) {
	api := newFakeAPI()
	api.setChannel("streamer_x", "111", true, 100)

	channel := NewChannel("streamer_x")
	require.NoError(t, channel.Refresh(api))

	assert.Equal(t, "111", channel.ID())
	assert.True(t, channel.IsLive())
	assert.Equal(t, 100, channel.ViewerCount())
}

func TestRefreshGoingOfflineResetsViewerCount(t *testing.T) {
	api := newFakeAPI()
	api.setChannel("streamer_x", "111", true, 100)

	channel := NewChannel("streamer_x")
	require.NoError(t, channel.Refresh(api))
	require.True(t, channel.IsLive())

	api.setChannel("streamer_x", "111", false, 0)
	require.NoError(t, channel.Refresh(api))

	assert.False(t, channel.IsLive())
	assert.Zero(t, channel.ViewerCount())
}

func TestRefreshNotFoundLeavesPriorState(t *testing.T) {
	api := newFakeAPI()
	api.setChannel("streamer_x", "111", true, 42)

	channel := NewChannel("streamer_x")
	require.NoError(t, channel.Refresh(api))

	api.setError("streamer_x", twitch.ErrChannelNotFound)
	err := channel.Refresh(api)
	require.ErrorIs(t, err, twitch.ErrChannelNotFound)

	assert.Equal(t, "111", channel.ID())
	assert.True(t, channel.IsLive())
	assert.Equal(t, 42, channel.ViewerCount())
}

func TestIdentifierIsAssignedAtMostOnce(t *testing.T) {
	api := newFakeAPI()
	api.setChannel("streamer_x", "111", false, 0)

	channel := NewChannel("streamer_x")
	require.NoError(t, channel.Refresh(api))
	require.Equal(t, "111", channel.ID())

	api.setChannel("streamer_x", "999", false, 0)
	require.NoError(t, channel.Refresh(api))

	assert.Equal(t, "111", channel.ID())
	assert.Equal(t, "streamer_x", channel.Name())
}

func TestChannelEquality(t *testing.T) {
	a := NewChannel("a")
	b := NewChannel("b")

	// Unresolved channels never compare equal, not even to themselves.
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(a))

	a.mu.Lock()
	a.id = "42"
	a.mu.Unlock()
	b.mu.Lock()
	b.id = "42"
	b.mu.Unlock()

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}

func TestOnChangeNotifications(t *testing.T) {
	channel := NewChannel("streamer_x")

	var fields []string
	channel.OnChange(func(field string) {
		fields = append(fields, field)
	})

	channel.SetLive(true)
	channel.SetViewerCount(7)
	channel.SetViewerCount(7) // unchanged, no notification

	assert.Equal(t, []string{"isLive", "viewerCount"}, fields)
}

package twitch

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(t *testing.T, subType, broadcasterID string, event string) *incomingMessage {
	t.Helper()

	raw := fmt.Sprintf(`{
		"metadata": {
			"message_id": "abc",
			"message_type": "notification",
			"message_timestamp": "2024-06-01T20:01:30Z",
			"subscription_type": %q
		},
		"payload": {
			"subscription": {"type": %q, "condition": {"broadcaster_user_id": %q}},
			"event": %s
		}
	}`, subType, subType, broadcasterID, event)

	msg := &incomingMessage{}
	require.NoError(t, json.Unmarshal([]byte(raw), msg))
	return msg
}

func TestDispatchStreamOnlineOffline(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	var ups []time.Time
	downs := 0
	client.Subscribe("123", ChannelHandlers{
		OnStreamUp:   func(at time.Time) { ups = append(ups, at) },
		OnStreamDown: func() { downs++ },
	})

	client.dispatch(notification(t, "stream.online", "123",
		`{"broadcaster_user_id": "123", "started_at": "2024-06-01T19:00:00Z"}`))
	client.dispatch(notification(t, "stream.offline", "123",
		`{"broadcaster_user_id": "123"}`))

	require.Len(t, ups, 1)
	assert.True(t, ups[0].Equal(time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, downs)
}

func TestDispatchOnlyToMatchingBroadcaster(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	got := 0
	client.Subscribe("123", ChannelHandlers{
		OnViewerCount: func(int) { got++ },
	})

	client.dispatch(notification(t, "channel.viewer_count", "999",
		`{"broadcaster_user_id": "999", "viewers": 10}`))
	assert.Zero(t, got)

	client.dispatch(notification(t, "channel.viewer_count", "123",
		`{"broadcaster_user_id": "123", "viewers": 10}`))
	assert.Equal(t, 1, got)
}

func TestDispatchViewerCount(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	var viewers []int
	client.Subscribe("123", ChannelHandlers{
		OnViewerCount: func(v int) { viewers = append(viewers, v) },
	})

	client.dispatch(notification(t, "channel.viewer_count", "123",
		`{"broadcaster_user_id": "123", "viewers": 420}`))

	assert.Equal(t, []int{420}, viewers)
}

func TestDispatchRaidEvents(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	var updates []int
	var goAt time.Time
	var goViewers int
	client.ListenRaids("self", RaidHandlers{
		OnRaidUpdate: func(v int) { updates = append(updates, v) },
		OnRaidGo: func(at time.Time, v int) {
			goAt = at
			goViewers = v
		},
	})

	client.dispatch(notification(t, "channel.raid_update", "self",
		`{"broadcaster_user_id": "self", "viewers": 12}`))
	client.dispatch(notification(t, "channel.raid_update", "self",
		`{"broadcaster_user_id": "self", "viewers": 34}`))
	client.dispatch(notification(t, "channel.raid_go", "self",
		`{"broadcaster_user_id": "self", "viewers": 34}`))

	assert.Equal(t, []int{12, 34}, updates)
	assert.Equal(t, 34, goViewers)
	// The execution timestamp comes from the message metadata.
	assert.True(t, goAt.Equal(time.Date(2024, 6, 1, 20, 1, 30, 0, time.UTC)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	got := 0
	sub := client.Subscribe("123", ChannelHandlers{
		OnViewerCount: func(int) { got++ },
	})

	msg := notification(t, "channel.viewer_count", "123",
		`{"broadcaster_user_id": "123", "viewers": 1}`)

	client.dispatch(msg)
	sub.Unsubscribe()
	client.dispatch(msg)

	assert.Equal(t, 1, got)
}

func TestNilSubscriptionUnsubscribeIsSafe(t *testing.T) {
	var sub *Subscription
	sub.Unsubscribe()
}

func TestMultipleListenersPerChannel(t *testing.T) {
	client := NewEventSubClient(nil, zerolog.Nop())

	first, second := 0, 0
	client.Subscribe("123", ChannelHandlers{OnStreamDown: func() { first++ }})
	client.Subscribe("123", ChannelHandlers{OnStreamDown: func() { second++ }})

	client.dispatch(notification(t, "stream.offline", "123",
		`{"broadcaster_user_id": "123"}`))

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

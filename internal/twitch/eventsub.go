package twitch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/nicklaw5/helix/v2"
	"github.com/rs/zerolog"
)

const defaultEventSubAddr = "wss://eventsub.wss.twitch.tv/ws"

// Event kinds without a public EventSub counterpart. Viewer counts and raid
// progress came over PubSub video-playback topics historically; they share
// the EventSub envelope here so everything flows through one dispatch path.
const (
	eventTypeViewerCount = "channel.viewer_count"
	eventTypeRaidUpdate  = "channel.raid_update"
	eventTypeRaidGo      = "channel.raid_go"
)

// ChannelHandlers receive push notifications for one watched channel.
type ChannelHandlers struct {
	OnStreamUp    func(at time.Time)
	OnStreamDown  func()
	OnViewerCount func(viewers int)
}

// RaidHandlers receive raid progress for the broadcaster's own channel.
type RaidHandlers struct {
	OnRaidUpdate func(viewers int)
	OnRaidGo     func(at time.Time, viewers int)
}

type subKind int

const (
	subChannel subKind = iota
	subRaid
)

// Subscription is the handle returned by Subscribe/ListenRaids and is used
// for unsubscription.
type Subscription struct {
	client    *EventSubClient
	channelID string
	id        uint64
	kind      subKind
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.client == nil {
		return
	}
	s.client.unsubscribe(s)
}

// EventSubClient maintains the long-lived push connection. Consumers attach
// per-channel listeners; the client dispatches every notification to all
// listeners registered for the tagged broadcaster id. Reconnection is
// transparent: the listener set survives and subscriptions are recreated on
// the next welcome message.
type EventSubClient struct {
	api  *helix.Client
	log  zerolog.Logger
	addr string

	mu            sync.Mutex
	conn          *gws.Conn
	sessionID     string
	nextID        uint64
	listeners     map[string]map[uint64]ChannelHandlers
	raidListeners map[string]map[uint64]RaidHandlers
	closed        bool
}

func NewEventSubClient(api *helix.Client, log zerolog.Logger) *EventSubClient {
	return &EventSubClient{
		api:           api,
		log:           log,
		addr:          defaultEventSubAddr,
		listeners:     make(map[string]map[uint64]ChannelHandlers),
		raidListeners: make(map[string]map[uint64]RaidHandlers),
	}
}

// Subscribe attaches handlers for one channel id and, if the connection is
// already established, requests the matching platform subscriptions.
func (c *EventSubClient) Subscribe(channelID string, h ChannelHandlers) *Subscription {
	c.mu.Lock()
	c.nextID++
	sub := &Subscription{client: c, channelID: channelID, id: c.nextID, kind: subChannel}
	if c.listeners[channelID] == nil {
		c.listeners[channelID] = make(map[uint64]ChannelHandlers)
	}
	c.listeners[channelID][sub.id] = h
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		go c.createChannelSubs(sessionID, channelID)
	}

	return sub
}

// ListenRaids attaches raid progress handlers for the broadcaster's own id.
func (c *EventSubClient) ListenRaids(broadcasterID string, h RaidHandlers) *Subscription {
	c.mu.Lock()
	c.nextID++
	sub := &Subscription{client: c, channelID: broadcasterID, id: c.nextID, kind: subRaid}
	if c.raidListeners[broadcasterID] == nil {
		c.raidListeners[broadcasterID] = make(map[uint64]RaidHandlers)
	}
	c.raidListeners[broadcasterID][sub.id] = h
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		go c.createRaidSubs(sessionID, broadcasterID)
	}

	return sub
}

func (c *EventSubClient) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sub.kind {
	case subChannel:
		delete(c.listeners[sub.channelID], sub.id)
		if len(c.listeners[sub.channelID]) == 0 {
			delete(c.listeners, sub.channelID)
		}
	case subRaid:
		delete(c.raidListeners[sub.channelID], sub.id)
		if len(c.raidListeners[sub.channelID]) == 0 {
			delete(c.raidListeners, sub.channelID)
		}
	}
}

// Connect dials the push endpoint and starts the read loop.
func (c *EventSubClient) Connect() error {
	return c.dial(c.addr, nil)
}

// Close shuts the connection down for good; no reconnect follows.
func (c *EventSubClient) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteClose(1000, []byte("shutting down"))
	}
}

func (c *EventSubClient) dial(addr string, closeOld func()) error {
	conn, _, err := gws.NewClient(
		&eventSubHandler{client: c, closeOldConn: closeOld},
		&gws.ClientOption{Addr: addr},
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go conn.ReadLoop()
	return nil
}

func (c *EventSubClient) createChannelSubs(sessionID, channelID string) {
	c.createSub(sessionID, channelID, helix.EventSubTypeStreamOnline)
	c.createSub(sessionID, channelID, helix.EventSubTypeStreamOffline)
	c.createSub(sessionID, channelID, eventTypeViewerCount)
}

func (c *EventSubClient) createRaidSubs(sessionID, broadcasterID string) {
	c.createSub(sessionID, broadcasterID, eventTypeRaidUpdate)
	c.createSub(sessionID, broadcasterID, eventTypeRaidGo)
}

func (c *EventSubClient) createSub(sessionID, channelID, subType string) {
	_, err := c.api.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:      subType,
		Version:   "1",
		Condition: helix.EventSubCondition{BroadcasterUserID: channelID},
		Transport: helix.EventSubTransport{Method: "websocket", SessionID: sessionID},
	})
	if err != nil {
		c.log.Error().Err(err).Str("channel_id", channelID).Str("type", subType).
			Msg("creating push subscription")
	}
}

func (c *EventSubClient) resubscribeAll(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	channelIDs := make([]string, 0, len(c.listeners))
	for id := range c.listeners {
		channelIDs = append(channelIDs, id)
	}
	raidIDs := make([]string, 0, len(c.raidListeners))
	for id := range c.raidListeners {
		raidIDs = append(raidIDs, id)
	}
	c.mu.Unlock()

	for _, id := range channelIDs {
		go c.createChannelSubs(sessionID, id)
	}
	for _, id := range raidIDs {
		go c.createRaidSubs(sessionID, id)
	}
}

func (c *EventSubClient) dispatch(msg *incomingMessage) {
	event := msg.Payload.Event
	subType := msg.Payload.Subscription.Type

	c.mu.Lock()
	var channelHandlers []ChannelHandlers
	for _, h := range c.listeners[event.BroadcasterUserID] {
		channelHandlers = append(channelHandlers, h)
	}
	var raidHandlers []RaidHandlers
	for _, h := range c.raidListeners[event.BroadcasterUserID] {
		raidHandlers = append(raidHandlers, h)
	}
	c.mu.Unlock()

	switch subType {
	case helix.EventSubTypeStreamOnline:
		for _, h := range channelHandlers {
			if h.OnStreamUp != nil {
				h.OnStreamUp(event.StartedAt)
			}
		}
	case helix.EventSubTypeStreamOffline:
		for _, h := range channelHandlers {
			if h.OnStreamDown != nil {
				h.OnStreamDown()
			}
		}
	case eventTypeViewerCount:
		for _, h := range channelHandlers {
			if h.OnViewerCount != nil {
				h.OnViewerCount(event.Viewers)
			}
		}
	case eventTypeRaidUpdate:
		for _, h := range raidHandlers {
			if h.OnRaidUpdate != nil {
				h.OnRaidUpdate(event.Viewers)
			}
		}
	case eventTypeRaidGo:
		for _, h := range raidHandlers {
			if h.OnRaidGo != nil {
				h.OnRaidGo(msg.Metadata.MessageTimestamp, event.Viewers)
			}
		}
	default:
		c.log.Debug().Str("type", subType).Msg("notification for unknown subscription type")
	}
}

type eventSubHandler struct {
	client       *EventSubClient
	closeOldConn func()
}

func (h *eventSubHandler) OnOpen(conn *gws.Conn) {
	h.client.log.Info().Msg("push connection opened")
}

func (h *eventSubHandler) OnClose(conn *gws.Conn, err error) {
	c := h.client

	c.mu.Lock()
	superseded := c.conn != conn
	closed := c.closed
	c.mu.Unlock()

	if superseded || closed {
		return
	}

	c.log.Warn().Err(err).Msg(ErrTransport.Error())

	// Redial until shutdown; the listener set is kept and resubscribed on
	// the next welcome message.
	go func() {
		for backoff := time.Second; ; backoff = min(backoff*2, time.Minute) {
			time.Sleep(backoff)

			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}

			if err := c.dial(c.addr, nil); err == nil {
				return
			}
			c.log.Warn().Dur("backoff", backoff).Msg("push reconnect failed")
		}
	}()
}

func (h *eventSubHandler) OnPing(conn *gws.Conn, payload []byte) {
	conn.WritePong(payload)
}

func (h *eventSubHandler) OnPong(conn *gws.Conn, payload []byte) {
}

func (h *eventSubHandler) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()

	c := h.client
	msg := &incomingMessage{}
	if err := json.Unmarshal(message.Data.Bytes(), msg); err != nil {
		c.log.Warn().Err(err).Msg("undecodable push message")
		return
	}

	switch msg.Metadata.MessageType {
	case "session_welcome":
		if h.closeOldConn != nil {
			// Reconnect handover: subscriptions carry over to the new
			// session, only the old transport needs closing.
			h.closeOldConn()
			h.closeOldConn = nil
			c.mu.Lock()
			c.sessionID = msg.Payload.Session.ID
			c.mu.Unlock()
			return
		}
		c.resubscribeAll(msg.Payload.Session.ID)
	case "session_keepalive":
	case "notification":
		c.dispatch(msg)
	case "session_reconnect":
		err := c.dial(msg.Payload.Session.ReconnectUrl, func() {
			conn.WriteClose(1000, []byte("old connection"))
		})
		if err != nil {
			c.log.Error().Err(err).Msg("dialing reconnect url")
		}
	case "revocation":
		c.log.Warn().Str("type", msg.Payload.Subscription.Type).Msg("subscription revoked")
	default:
		c.log.Debug().Str("type", msg.Metadata.MessageType).Msg("unknown push message type")
	}
}

type incomingMessage struct {
	Metadata struct {
		MessageID           string    `json:"message_id"`
		MessageType         string    `json:"message_type"`
		MessageTimestamp    time.Time `json:"message_timestamp"`
		SubscriptionType    string    `json:"subscription_type"`
		SubscriptionVersion string    `json:"subscription_version"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID                      string    `json:"id"`
			Status                  string    `json:"status"`
			KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
			ReconnectUrl            string    `json:"reconnect_url"`
			ConnectedAt             time.Time `json:"connected_at"`
		} `json:"session"`
		Subscription struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			Type      string `json:"type"`
			Version   string `json:"version"`
			Cost      int    `json:"cost"`
			Condition struct {
				BroadcasterUserID string `json:"broadcaster_user_id"`
			} `json:"condition"`
			Transport struct {
				Method    string `json:"method"`
				SessionID string `json:"session_id"`
			} `json:"transport"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"subscription"`
		Event struct {
			ID                   string    `json:"id"`
			BroadcasterUserID    string    `json:"broadcaster_user_id"`
			BroadcasterUserLogin string    `json:"broadcaster_user_login"`
			BroadcasterUserName  string    `json:"broadcaster_user_name"`
			Type                 string    `json:"type"`
			StartedAt            time.Time `json:"started_at"`
			Viewers              int       `json:"viewers"`
		} `json:"event"`
	} `json:"payload"`
}

package twitch

import (
	"fmt"

	twitchIRC "github.com/gempir/go-twitch-irc/v4"
	"github.com/rs/zerolog"
)

// ChatAnnouncer posts raid notices in the broadcaster's own chat. It is
// optional; a nil announcer is safe to call.
type ChatAnnouncer struct {
	client  *twitchIRC.Client
	channel string
	log     zerolog.Logger
}

func NewChatAnnouncer(login, accessToken string, log zerolog.Logger) *ChatAnnouncer {
	client := twitchIRC.NewClient(login, "oauth:"+accessToken)
	client.Join(login)

	return &ChatAnnouncer{client: client, channel: login, log: log}
}

// Connect runs the IRC connection in the background.
func (a *ChatAnnouncer) Connect() {
	if a == nil {
		return
	}

	go func() {
		if err := a.client.Connect(); err != nil {
			a.log.Warn().Err(err).Msg("chat connection ended")
		}
	}()
}

func (a *ChatAnnouncer) AnnounceRaid(targetDisplayName string, viewers int) {
	if a == nil {
		return
	}

	msg := fmt.Sprintf("Raiding %s, get ready!", targetDisplayName)
	if viewers > 0 {
		msg = fmt.Sprintf("Raiding %s with %d viewers, get ready!", targetDisplayName, viewers)
	}
	a.client.Say(a.channel, msg)
}

func (a *ChatAnnouncer) AnnounceCancel() {
	if a == nil {
		return
	}
	a.client.Say(a.channel, "Raid cancelled.")
}

func (a *ChatAnnouncer) Disconnect() {
	if a == nil {
		return
	}
	if err := a.client.Disconnect(); err != nil {
		a.log.Debug().Err(err).Msg("disconnecting chat")
	}
}

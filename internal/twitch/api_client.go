package twitch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
)

// User is the authenticated broadcaster.
type User struct {
	ID          string
	Login       string
	DisplayName string
}

// ChannelInfo is the result of resolving a login name.
type ChannelInfo struct {
	ID           string
	Login        string
	DisplayName  string
	Title        string
	Category     string
	ThumbnailURL string
	IsLive       bool
}

// StreamInfo holds live telemetry for a channel that is currently streaming.
type StreamInfo struct {
	ViewerCount int
	Category    string
	Title       string
	StartedAt   time.Time
}

// RaidInfo is the platform's acknowledgement of a started raid.
type RaidInfo struct {
	CreatedAt time.Time
}

// API is the slice of the platform the rest of the app talks to.
// *APIClient satisfies it; tests substitute fakes.
type API interface {
	ResolveUser() (*User, error)
	ResolveChannel(login string) (*ChannelInfo, error)
	GetStreamInfo(login string) (*StreamInfo, error)
	StartRaid(fromID, toID string) (*RaidInfo, error)
	CancelRaid(fromID string) error
}

// APIClient wraps the Helix client behind the handful of calls the app needs.
type APIClient struct {
	*helix.Client
	accessToken string
}

func NewAPIClient(clientID, accessToken string) (*APIClient, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("creating helix client: %w", err)
	}

	return &APIClient{Client: client, accessToken: accessToken}, nil
}

func (ac *APIClient) AccessToken() string {
	return ac.accessToken
}

// ResolveUser returns the user who owns the access token.
func (ac *APIClient) ResolveUser() (*User, error) {
	resp, err := ac.GetUsers(&helix.UsersParams{})
	if err != nil {
		return nil, fmt.Errorf("getting current user: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuth
	}
	if resp.StatusCode != http.StatusOK || len(resp.Data.Users) == 0 {
		return nil, fmt.Errorf("getting current user: %s", resp.ErrorMessage)
	}

	user := resp.Data.Users[0]
	return &User{ID: user.ID, Login: user.Login, DisplayName: user.DisplayName}, nil
}

// ResolveChannel searches for a channel and returns the exact login match.
func (ac *APIClient) ResolveChannel(login string) (*ChannelInfo, error) {
	resp, err := ac.SearchChannels(&helix.SearchChannelsParams{Channel: login})
	if err != nil {
		return nil, fmt.Errorf("searching channel %s: %w", login, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuth
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searching channel %s: %s", login, resp.ErrorMessage)
	}

	for _, channel := range resp.Data.Channels {
		if !strings.EqualFold(channel.BroadcasterLogin, login) {
			continue
		}
		return &ChannelInfo{
			ID:           channel.ID,
			Login:        channel.BroadcasterLogin,
			DisplayName:  channel.DisplayName,
			Title:        channel.Title,
			Category:     channel.GameName,
			ThumbnailURL: channel.ThumbnailURL,
			IsLive:       channel.IsLive,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, login)
}

// GetStreamInfo returns nil when the channel is not live.
func (ac *APIClient) GetStreamInfo(login string) (*StreamInfo, error) {
	resp, err := ac.GetStreams(&helix.StreamsParams{UserLogins: []string{login}})
	if err != nil {
		return nil, fmt.Errorf("getting stream of %s: %w", login, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuth
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getting stream of %s: %s", login, resp.ErrorMessage)
	}

	for _, stream := range resp.Data.Streams {
		if !strings.EqualFold(stream.UserLogin, login) {
			continue
		}
		return &StreamInfo{
			ViewerCount: stream.ViewerCount,
			Category:    stream.GameName,
			Title:       stream.Title,
			StartedAt:   stream.StartedAt,
		}, nil
	}

	return nil, nil
}

// StartRaid asks the platform to raid from the broadcaster's channel to the
// target. The returned timestamp is the platform's, not the local clock.
func (ac *APIClient) StartRaid(fromID, toID string) (*RaidInfo, error) {
	resp, err := ac.Client.StartRaid(&helix.StartRaidParams{
		FromBroadcasterID: fromID,
		ToBroadcasterID:   toID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRaid, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuth
	}
	if resp.StatusCode != http.StatusOK || len(resp.Data.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRaid, resp.ErrorMessage)
	}

	return &RaidInfo{CreatedAt: resp.Data.Data[0].CreatedAt.Time}, nil
}

// CancelRaid is idempotent: cancelling with no pending raid is not an error.
func (ac *APIClient) CancelRaid(fromID string) error {
	resp, err := ac.Client.CancelRaid(&helix.CancelRaidParams{BroadcasterID: fromID})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRaid, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuth
	}
	// 404 means there was nothing to cancel.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrRaid, resp.ErrorMessage)
	}

	return nil
}

// IsAuthError reports whether err means the token is unusable.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

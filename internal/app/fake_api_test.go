package app

import (
	"sync"
	"time"

	"github.com/zion-networks/BetterRaid/internal/twitch"
)

// fakeAPI is an in-memory stand-in for the platform.
type fakeAPI struct {
	mu       sync.Mutex
	channels map[string]*twitch.ChannelInfo
	streams  map[string]*twitch.StreamInfo
	errs     map[string]error

	raidCreatedAt time.Time
	raidErr       error
	startedRaids  [][2]string
	cancelledFor  []string

	// When set, StartRaid signals startEntered and then blocks on startGate,
	// letting tests interleave other calls with an in-flight start.
	startEntered chan struct{}
	startGate    chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels: make(map[string]*twitch.ChannelInfo),
		streams:  make(map[string]*twitch.StreamInfo),
		errs:     make(map[string]error),
	}
}

func (f *fakeAPI) setChannel(login, id string, live bool, viewers int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.channels[login] = &twitch.ChannelInfo{
		ID:          id,
		Login:       login,
		DisplayName: login,
		IsLive:      live,
	}
	if live {
		f.streams[login] = &twitch.StreamInfo{ViewerCount: viewers}
	} else {
		delete(f.streams, login)
	}
}

func (f *fakeAPI) setError(login string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[login] = err
}

func (f *fakeAPI) ResolveUser() (*twitch.User, error) {
	return &twitch.User{ID: "self", Login: "self"}, nil
}

func (f *fakeAPI) ResolveChannel(login string) (*twitch.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[login]; err != nil {
		return nil, err
	}
	info, ok := f.channels[login]
	if !ok {
		return nil, twitch.ErrChannelNotFound
	}
	return info, nil
}

func (f *fakeAPI) GetStreamInfo(login string) (*twitch.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[login], nil
}

func (f *fakeAPI) StartRaid(fromID, toID string) (*twitch.RaidInfo, error) {
	if f.startGate != nil {
		f.startEntered <- struct{}{}
		<-f.startGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raidErr != nil {
		return nil, f.raidErr
	}
	f.startedRaids = append(f.startedRaids, [2]string{fromID, toID})
	return &twitch.RaidInfo{CreatedAt: f.raidCreatedAt}, nil
}

func (f *fakeAPI) CancelRaid(fromID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledFor = append(f.cancelledFor, fromID)
	return nil
}

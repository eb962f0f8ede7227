package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName = "BetterRaid"

	TwitchClientID         = "kkxu4jorjrrc5jch1ito5i61hbev2o"
	TwitchOAuthRedirectURL = "http://localhost:9900"
	TwitchAuthorizeURL     = "https://id.twitch.tv/oauth2/authorize"

	// Twitch gives the broadcaster 90 seconds before the raid executes.
	RaidDuration = 90 * time.Second

	SeedChannel = "ZionNetworks"

	ChannelPlaceholderImageURL = "https://cdn.pixabay.com/photo/2018/11/13/22/01/avatar-3814081_1280.png"
)

// OAuthScopes are requested during login. channel:manage:raids is required
// to start and cancel raids; the chat scopes let the announcer speak in the
// broadcaster's own channel.
var OAuthScopes = []string{
	"channel:manage:raids",
	"user:read:subscriptions",
	"chat:read",
	"chat:edit",
}

type Config struct {
	DataDir      string
	ListenAddr   string
	SyncInterval time.Duration
	SecretKey    string
	SessionKey   string
	ChatAnnounce bool
	LogLevel     string
}

// Load reads an optional .env file and the BR_* environment variables.
// The data directory is created if it does not exist yet.
func Load() (*Config, error) {
	godotenv.Load()

	dataDir := os.Getenv("BR_DATA_DIR")
	if dataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving user config dir: %w", err)
		}
		dataDir = filepath.Join(configDir, AppName)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}

	syncInterval := 10 * time.Second
	if v := os.Getenv("BR_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BR_SYNC_INTERVAL: %w", err)
		}
		syncInterval = d
	}

	cfg := &Config{
		DataDir:      dataDir,
		ListenAddr:   getEnv("BR_LISTEN_ADDR", "localhost:9900"),
		SyncInterval: syncInterval,
		SecretKey:    os.Getenv("BR_SECRET_KEY"),
		SessionKey:   getEnv("BR_SESSION_KEY", "betterraid-local-session"),
		ChatAnnounce: os.Getenv("BR_CHAT_ANNOUNCE") == "1",
		LogLevel:     getEnv("BR_LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "brdb.json")
}

func (c *Config) AccessTokenPath() string {
	return filepath.Join(c.DataDir, ".access_token")
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.sqlite3")
}

// OAuthURL builds the implicit-grant authorize URL. The token comes back as
// a URL fragment on the redirect, so response_type is "token".
func OAuthURL(state string) string {
	params := url.Values{}
	params.Set("client_id", TwitchClientID)
	params.Set("redirect_uri", TwitchOAuthRedirectURL+"/auth")
	params.Set("response_type", "token")
	params.Set("state", state)

	return TwitchAuthorizeURL + "?" + params.Encode() + "&scope=" + strings.Join(OAuthScopes, "+")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package twitch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zion-networks/BetterRaid/internal/crypto"
)

func tokenPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".access_token")
}

func TestTokenStoreMissingFile(t *testing.T) {
	store := NewTokenStore(tokenPath(t), "")

	token, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenStorePlainRoundTrip(t *testing.T) {
	path := tokenPath(t)
	store := NewTokenStore(path, "")

	require.NoError(t, store.Save("my-access-token"))

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "my-access-token", token)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestTokenStoreEncryptedRoundTrip(t *testing.T) {
	cipher, err := crypto.NewCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)

	path := tokenPath(t)
	store := NewTokenStore(path, cipher)

	require.NoError(t, store.Save("my-access-token"))

	// Nothing readable on disk.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "my-access-token")

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "my-access-token", token)

	// A store without the cipher cannot read it back.
	_, err = NewTokenStore(path, "").Load()
	assert.NoError(t, err) // plain load succeeds but yields ciphertext
}

func TestValidateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if r.Header.Get("Authorization") == "OAuth good-token" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	valid, err := validateTokenAt(server.URL, "good-token")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = validateTokenAt(server.URL, "stale-token")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTokenStoreDelete(t *testing.T) {
	path := tokenPath(t)
	store := NewTokenStore(path, "")

	require.NoError(t, store.Save("tok"))
	require.NoError(t, store.Delete())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is a no-op.
	require.NoError(t, store.Delete())
}

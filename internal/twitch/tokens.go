package twitch

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/zion-networks/BetterRaid/internal/crypto"
)

const validateURL = "https://id.twitch.tv/oauth2/validate"

// TokenStore persists the bearer token to a per-user file. When a cipher is
// configured the token is encrypted at rest; either way the file is created
// owner-readable only.
type TokenStore struct {
	path   string
	cipher crypto.Cipher
}

func NewTokenStore(path string, cipher crypto.Cipher) *TokenStore {
	return &TokenStore{path: path, cipher: cipher}
}

// Load returns the stored token, or "" if none has been saved yet.
func (ts *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(ts.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if ts.cipher != "" {
		token, err = ts.cipher.Decrypt(token)
		if err != nil {
			return "", fmt.Errorf("decrypting token: %w", err)
		}
	}

	return token, nil
}

// Save overwrites any previous token.
func (ts *TokenStore) Save(token string) error {
	if ts.cipher != "" {
		var err error
		token, err = ts.cipher.Encrypt(token)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}
	}

	if err := os.WriteFile(ts.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}

func (ts *TokenStore) Delete() error {
	err := os.Remove(ts.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ValidateToken checks the token against the platform's validation endpoint.
func ValidateToken(token string) (bool, error) {
	return validateTokenAt(validateURL, token)
}

func validateTokenAt(url, token string) (bool, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("OAuth %s", token))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/gtank/cryptopasta"
)

// Cipher encrypts small secrets (the stored access token) with AES-GCM.
// The value is a 32-byte key, hex-encoded.
type Cipher string

func NewCipher(hexKey string) (Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("secret key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return "", fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}

	return Cipher(hexKey), nil
}

func (c Cipher) key() *[32]byte {
	key, _ := hex.DecodeString(string(c))
	return (*[32]byte)(key)
}

func (c Cipher) Encrypt(value string) (string, error) {
	encrypted, err := cryptopasta.Encrypt([]byte(value), c.key())
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(encrypted), nil
}

func (c Cipher) Decrypt(value string) (string, error) {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return "", err
	}

	decrypted, err := cryptopasta.Decrypt(decoded, c.key())
	if err != nil {
		return "", err
	}

	return string(decrypted), nil
}

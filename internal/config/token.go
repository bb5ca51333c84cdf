package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenKey = "server.api_token"

// ensureAPIToken returns the persisted API bearer token, generating and
// saving a new one when none exists yet.
func ensureAPIToken(b Backend) (string, error) {
	token, ok, err := b.GetString(tokenKey)
	if err != nil {
		return "", fmt.Errorf("reading api token: %w", err)
	}
	if ok && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	token = hex.EncodeToString(buf)

	if err := b.SetString(tokenKey, token); err != nil {
		return "", fmt.Errorf("persisting api token: %w", err)
	}
	return token, nil
}

// Package auth provides the bearer credentials presented during the
// realtime gateway handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrNoToken is returned when neither a token nor a token file is given.
var ErrNoToken = errors.New("no gateway token configured")

// Credentials holds the bearer token for the gateway.
type Credentials struct {
	Token string
}

// LoadCredentials returns credentials from an inline token or, when that is
// empty, from tokenPath. Returns ErrNoToken when both are empty.
func LoadCredentials(token, tokenPath string) (*Credentials, error) {
	if token != "" {
		return &Credentials{Token: strings.TrimSpace(token)}, nil
	}
	if tokenPath == "" {
		return nil, ErrNoToken
	}

	loaded, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return &Credentials{Token: loaded}, nil
}

// LoadToken reads a token file. Surrounding whitespace is trimmed.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Header returns the handshake headers. A nil receiver yields headers
// without Authorization.
func (c *Credentials) Header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c != nil && c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// Package claim implements the GitHub OAuth flow that proves a publisher owns
// a node's source repository.
//
// The flow is stateless. Everything the callback needs travels in the OAuth
// state parameter as base64 encoded JSON and is consumed exactly once.
package claim

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrInvalidState is returned when the state parameter is not base64
	// encoded JSON.
	ErrInvalidState = errors.New("invalid state parameter")

	// ErrIncompleteState is returned when a decoded state lacks one of its
	// required fields.
	ErrIncompleteState = errors.New("missing required state information")
)

// State is the claim context round-tripped through the OAuth provider.
type State struct {
	RedirectURI string `json:"redirectUri"`
	NodeID      string `json:"nodeId"`
	PublisherID string `json:"publisherId"`
	Repo        string `json:"repo"`
}

// Complete reports whether every field is set.
func (s State) Complete() bool {
	return s.RedirectURI != "" && s.NodeID != "" && s.PublisherID != "" && s.Repo != ""
}

// EncodeState serializes s for use as an OAuth state parameter.
func EncodeState(s State) string {
	b, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeState parses a state parameter produced by EncodeState. Standard and
// URL-safe alphabets are accepted, padded or not. A '+' that query decoding
// turned into a space is restored.
func DecodeState(raw string) (State, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "+")

	b, err := decodeBase64(raw)
	if err != nil {
		return State{}, ErrInvalidState
	}

	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, ErrInvalidState
	}
	if !s.Complete() {
		return s, ErrIncompleteState
	}
	return s, nil
}

func decodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

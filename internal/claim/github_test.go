package claim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/comfyregistry/client"
)

func newTestGitHub(t *testing.T, handler http.HandlerFunc) *GitHub {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := NewGitHub("client-id", "client-secret", client.NewClient(client.WithMaxRetries(0)))
	g.TokenEndpoint = server.URL + "/login/oauth/access_token"
	g.APIBaseURL = server.URL
	return g
}

func TestAuthorizeURL(t *testing.T) {
	g := NewGitHub("client-id", "secret", nil)
	g.CallbackURL = "https://registry.test/api/auth/github/callback"

	u, err := url.Parse(g.AuthorizeURL("abc+/="))
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "/login/oauth/authorize", u.Path)
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "abc+/=", u.Query().Get("state"))
	assert.Equal(t, g.CallbackURL, u.Query().Get("redirect_uri"))
}

func TestExchangeCode(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_abc", "token_type": "bearer"})
	})

	token, err := g.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", token)
}

func TestExchangeCodeNoToken(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
	})

	_, err := g.ExchangeCode(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrNoAccessToken)
	assert.Contains(t, err.Error(), "bad_verification_code")
}

func TestExchangeCodeClientError(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := g.ExchangeCode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoAccessToken)
}

func TestExchangeCodeServerError(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := g.ExchangeCode(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAccessToken)
}

func TestExchangeCodeNotConfigured(t *testing.T) {
	called := false
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	g.ClientSecret = ""

	_, err := g.ExchangeCode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, called, "no request should be made without credentials")
}

func TestCheckRepository(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/kijai/ComfyUI-KJNodes" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"full_name":"kijai/ComfyUI-KJNodes"}`))
	})

	require.NoError(t, g.CheckRepository(context.Background(), "gho_abc", "kijai", "ComfyUI-KJNodes"))

	err := g.CheckRepository(context.Background(), "gho_abc", "kijai", "private-repo")
	assert.ErrorIs(t, err, ErrRepositoryAccessDenied)
	assert.Contains(t, err.Error(), "404")
}

func TestCheckRepositoryTransportError(t *testing.T) {
	g := NewGitHub("id", "secret", client.NewClient(client.WithMaxRetries(0)))
	g.APIBaseURL = "http://127.0.0.1:1"

	err := g.CheckRepository(context.Background(), "tok", "o", "r")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRepositoryAccessDenied)
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in, owner, name string
	}{
		{"kijai/ComfyUI-KJNodes", "kijai", "ComfyUI-KJNodes"},
		{"https://github.com/kijai/ComfyUI-KJNodes", "kijai", "ComfyUI-KJNodes"},
		{"https://github.com/kijai/ComfyUI-KJNodes.git", "kijai", "ComfyUI-KJNodes"},
		{"github.com/ltdrdata/ComfyUI-Impact-Pack/", "ltdrdata", "ComfyUI-Impact-Pack"},
		{"noslash", "noslash", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		owner, name := SplitRepo(tt.in)
		assert.Equal(t, tt.owner, owner, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
	}
}

package claim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/client"
	"github.com/git-pkgs/comfyregistry/internal/analytics"
)

type fakeProvider struct {
	configured  bool
	token       string
	exchangeErr error
	checkErr    error
	panicOn     string

	gotCode  string
	gotToken string
	gotOwner string
	gotName  string
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) ExchangeCode(_ context.Context, code string) (string, error) {
	if f.panicOn == "exchange" {
		panic("boom")
	}
	f.gotCode = code
	return f.token, f.exchangeErr
}

func (f *fakeProvider) CheckRepository(_ context.Context, token, owner, name string) error {
	f.gotToken, f.gotOwner, f.gotName = token, owner, name
	return f.checkErr
}

type fixture struct {
	provider *fakeProvider
	tracker  *analytics.Recorder
	metrics  *Metrics
	handler  *Handler
}

func newFixture() *fixture {
	f := &fixture{
		provider: &fakeProvider{configured: true, token: "gho_a+b/c"},
		tracker:  &analytics.Recorder{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.handler = NewHandler(f.provider, f.tracker, zap.NewNop(), f.metrics)
	return f
}

func (f *fixture) call(t *testing.T, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/callback?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func callbackQuery(s State) url.Values {
	return url.Values{"code": {"the-code"}, "state": {EncodeState(s)}}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCallbackMissingParameters(t *testing.T) {
	for name, q := range map[string]url.Values{
		"no state": {"code": {"abc"}},
		"no code":  {"state": {EncodeState(sampleState())}},
		"neither":  {},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			rec := f.call(t, q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, MsgMissingParameters, errorBody(t, rec))
			assert.Empty(t, rec.Header().Get("Location"))
			assert.Empty(t, f.provider.gotCode, "provider must not be called")
		})
	}
}

func TestCallbackInvalidState(t *testing.T) {
	f := newFixture()
	rec := f.call(t, url.Values{"code": {"abc"}, "state": {"%%%garbage"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgInvalidState, errorBody(t, rec))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Callbacks.WithLabelValues(OutcomeInvalidState)))
}

func TestCallbackIncompleteState(t *testing.T) {
	f := newFixture()
	s := sampleState()
	s.PublisherID = ""
	rec := f.call(t, callbackQuery(s))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgIncompleteState, errorBody(t, rec))
}

func TestCallbackNotConfigured(t *testing.T) {
	f := newFixture()
	f.provider.configured = false
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgNotConfigured, errorBody(t, rec))
	assert.Empty(t, f.provider.gotCode)
}

func TestCallbackNoAccessToken(t *testing.T) {
	f := newFixture()
	f.provider.token = ""
	f.provider.exchangeErr = ErrNoAccessToken
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNoAccessToken, errorBody(t, rec))
	assert.Empty(t, f.tracker.Events())
}

func TestCallbackExchangeTransportError(t *testing.T) {
	f := newFixture()
	f.provider.exchangeErr = errors.New("connection reset")
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgInternalError, errorBody(t, rec))
}

func TestCallbackAccessDenied(t *testing.T) {
	tests := []struct {
		redirect string
		want     string
	}{
		{"https://registry.test/claim", "https://registry.test/claim?error=repository_access_denied"},
		{"https://registry.test/claim?node=x", "https://registry.test/claim?node=x&error=repository_access_denied"},
		{"claim/done", "claim/done?error=repository_access_denied"},
		{"/publishers/kijai/claim", "/publishers/kijai/claim?error=repository_access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.redirect, func(t *testing.T) {
			f := newFixture()
			f.provider.checkErr = ErrRepositoryAccessDenied
			s := sampleState()
			s.RedirectURI = tt.redirect

			rec := f.call(t, callbackQuery(s))
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Location"))

			events := f.tracker.Events()
			require.Len(t, events, 1)
			assert.Equal(t, analytics.EventGitHubVerificationFailed, events[0].Name)
			assert.Equal(t, "comfyui-kjnodes", events[0].Properties["nodeId"])
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Callbacks.WithLabelValues(OutcomeAccessDenied)))
		})
	}
}

func TestCallbackSuccess(t *testing.T) {
	f := newFixture()
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://registry.comfy.org/publishers/kijai/claim?token=gho_a%2Bb%2Fc", rec.Header().Get("Location"))

	assert.Equal(t, "the-code", f.provider.gotCode)
	assert.Equal(t, "gho_a+b/c", f.provider.gotToken)
	assert.Equal(t, "kijai", f.provider.gotOwner)
	assert.Equal(t, "ComfyUI-KJNodes", f.provider.gotName)

	events := f.tracker.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventGitHubVerificationSuccess, events[0].Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Callbacks.WithLabelValues(OutcomeSuccess)))
}

func TestCallbackRelativeRedirectKeptAsIs(t *testing.T) {
	f := newFixture()
	s := sampleState()
	s.RedirectURI = "claim/done"

	rec := f.call(t, callbackQuery(s))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "claim/done?token=gho_a%2Bb%2Fc", rec.Header().Get("Location"))
}

func TestCallbackCheckTransportError(t *testing.T) {
	f := newFixture()
	f.provider.checkErr = errors.New("dial tcp: timeout")
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgInternalError, errorBody(t, rec))
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Empty(t, f.tracker.Events())
}

func TestCallbackRecoversPanic(t *testing.T) {
	f := newFixture()
	f.provider.panicOn = "exchange"
	rec := f.call(t, callbackQuery(sampleState()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgInternalError, errorBody(t, rec))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Callbacks.WithLabelValues(OutcomeError)))
}

func TestCallbackWithGitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_live"})
	})
	mux.HandleFunc("/repos/kijai/ComfyUI-KJNodes", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_live" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	g := NewGitHub("id", "secret", client.NewClient(client.WithMaxRetries(0)))
	g.TokenEndpoint = server.URL + "/login/oauth/access_token"
	g.APIBaseURL = server.URL

	h := NewHandler(g, nil, nil, nil)

	s := sampleState()
	s.Repo = "https://github.com/kijai/ComfyUI-KJNodes.git"
	req := httptest.NewRequest(http.MethodGet, "/cb?"+callbackQuery(s).Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "?token=gho_live")

	s.Repo = "kijai/someone-elses-repo"
	req = httptest.NewRequest(http.MethodGet, "/cb?"+callbackQuery(s).Encode(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=repository_access_denied")
}

func TestInitiator(t *testing.T) {
	g := NewGitHub("client-id", "secret", nil)
	i := NewInitiator(g, nil)

	s := sampleState()
	q := url.Values{
		"redirectUri": {s.RedirectURI},
		"nodeId":      {s.NodeID},
		"publisherId": {s.PublisherID},
		"repo":        {s.Repo},
	}
	rec := httptest.NewRecorder()
	i.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/github/authorize?"+q.Encode(), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)

	got, err := DecodeState(loc.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestInitiatorErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	NewInitiator(NewGitHub("id", "secret", nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?nodeId=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q := url.Values{"redirectUri": {"u"}, "nodeId": {"n"}, "publisherId": {"p"}, "repo": {"o/r"}}
	rec = httptest.NewRecorder()
	NewInitiator(NewGitHub("", "", nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "https://x.test/a?token=t%26u", AppendQuery("https://x.test/a", "token", "t&u"))
	assert.Equal(t, "https://x.test/a?b=1&token=t", AppendQuery("https://x.test/a?b=1", "token", "t"))
}

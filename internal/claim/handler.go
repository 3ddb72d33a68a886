package claim

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/internal/analytics"
)

// Error messages returned in JSON bodies.
const (
	MsgMissingParameters = "Missing required parameters"
	MsgInvalidState      = "Invalid state parameter"
	MsgIncompleteState   = "Missing required state information"
	MsgNotConfigured     = "GitHub OAuth is not configured"
	MsgNoAccessToken     = "Failed to obtain access token"
	MsgInternalError     = "Internal server error"
)

// Callback outcomes, used as the metric label.
const (
	OutcomeMissingParameters = "missing_parameters"
	OutcomeInvalidState      = "invalid_state"
	OutcomeIncompleteState   = "incomplete_state"
	OutcomeNotConfigured     = "not_configured"
	OutcomeNoAccessToken     = "no_access_token"
	OutcomeAccessDenied      = "access_denied"
	OutcomeSuccess           = "success"
	OutcomeError             = "error"
)

// ErrorQueryValue is appended as error=... when the repository check fails.
const ErrorQueryValue = "repository_access_denied"

// Metrics counts callback outcomes.
type Metrics struct {
	Callbacks *prometheus.CounterVec
}

// NewMetrics registers the claim metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comfyregistry",
			Subsystem: "claim",
			Name:      "callbacks_total",
			Help:      "OAuth claim callbacks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observe(outcome string) {
	if m != nil {
		m.Callbacks.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the OAuth callback.
type Handler struct {
	provider Provider
	tracker  analytics.Tracker
	logger   *zap.Logger
	metrics  *Metrics
}

// NewHandler returns a callback handler. A nil tracker or logger disables
// that output; metrics may be nil.
func NewHandler(p Provider, tracker analytics.Tracker, logger *zap.Logger, metrics *Metrics) *Handler {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{provider: p, tracker: tracker, logger: logger, metrics: metrics}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("claim callback panicked", zap.Any("panic", rec))
			h.fail(w, http.StatusInternalServerError, MsgInternalError, OutcomeError)
		}
	}()

	q := r.URL.Query()
	code, rawState := q.Get("code"), q.Get("state")
	if code == "" || rawState == "" {
		h.fail(w, http.StatusBadRequest, MsgMissingParameters, OutcomeMissingParameters)
		return
	}

	state, err := DecodeState(rawState)
	switch {
	case errors.Is(err, ErrIncompleteState):
		h.fail(w, http.StatusBadRequest, MsgIncompleteState, OutcomeIncompleteState)
		return
	case err != nil:
		h.fail(w, http.StatusBadRequest, MsgInvalidState, OutcomeInvalidState)
		return
	}

	if !h.provider.Configured() {
		h.logger.Error("github oauth credentials missing")
		h.fail(w, http.StatusInternalServerError, MsgNotConfigured, OutcomeNotConfigured)
		return
	}

	ctx := r.Context()
	log := h.logger.With(zap.String("node_id", state.NodeID), zap.String("publisher_id", state.PublisherID), zap.String("repo", state.Repo))

	token, err := h.provider.ExchangeCode(ctx, code)
	switch {
	case errors.Is(err, ErrNotConfigured):
		h.fail(w, http.StatusInternalServerError, MsgNotConfigured, OutcomeNotConfigured)
		return
	case errors.Is(err, ErrNoAccessToken):
		log.Warn("oauth code exchange returned no token", zap.Error(err))
		h.fail(w, http.StatusBadRequest, MsgNoAccessToken, OutcomeNoAccessToken)
		return
	case err != nil:
		log.Error("oauth code exchange failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, MsgInternalError, OutcomeError)
		return
	}

	owner, name := SplitRepo(state.Repo)
	props := map[string]any{
		"nodeId":      state.NodeID,
		"publisherId": state.PublisherID,
		"repo":        state.Repo,
	}

	err = h.provider.CheckRepository(ctx, token, owner, name)
	switch {
	case errors.Is(err, ErrRepositoryAccessDenied):
		log.Info("repository access denied", zap.Error(err))
		props["error"] = ErrorQueryValue
		h.tracker.Track(ctx, analytics.EventGitHubVerificationFailed, props)
		h.metrics.observe(OutcomeAccessDenied)
		redirect(w, AppendQuery(state.RedirectURI, "error", ErrorQueryValue))
	case err != nil:
		log.Error("repository check failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, MsgInternalError, OutcomeError)
	default:
		log.Info("repository access verified")
		h.tracker.Track(ctx, analytics.EventGitHubVerificationSuccess, props)
		h.metrics.observe(OutcomeSuccess)
		redirect(w, AppendQuery(state.RedirectURI, "token", token))
	}
}

// redirect sends a 302 to target as given. http.Redirect would resolve a
// relative target against the callback path.
func redirect(w http.ResponseWriter, target string) {
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg, outcome string) {
	h.metrics.observe(outcome)
	WriteError(w, status, msg)
}

// AppendQuery adds key=value to rawURL, using '&' when it already carries a
// query string and '?' otherwise. value is query-escaped.
func AppendQuery(rawURL, key, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

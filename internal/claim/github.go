package claim

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/git-pkgs/comfyregistry/client"
)

const (
	DefaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	DefaultTokenURL     = "https://github.com/login/oauth/access_token"
	DefaultAPIURL       = "https://api.github.com"

	tracerName = "github.com/git-pkgs/comfyregistry/internal/claim"
)

var (
	// ErrNotConfigured is returned when the OAuth client id or secret is missing.
	ErrNotConfigured = errors.New("github oauth is not configured")

	// ErrNoAccessToken is returned when the token endpoint answers without an
	// access token.
	ErrNoAccessToken = errors.New("no access token in oauth response")

	// ErrRepositoryAccessDenied is returned when the repository lookup with the
	// user's token does not succeed.
	ErrRepositoryAccessDenied = errors.New("repository access denied")
)

// Provider performs the two outbound steps of the callback.
type Provider interface {
	Configured() bool
	ExchangeCode(ctx context.Context, code string) (string, error)
	CheckRepository(ctx context.Context, token, owner, name string) error
}

// GitHub is the GitHub OAuth App provider.
type GitHub struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scope        string

	AuthorizeEndpoint string
	TokenEndpoint     string
	APIBaseURL        string

	client *client.Client
	tracer trace.Tracer
}

var _ Provider = (*GitHub)(nil)

// NewGitHub returns a provider talking to github.com through c.
func NewGitHub(clientID, clientSecret string, c *client.Client) *GitHub {
	if c == nil {
		c = client.DefaultClient()
	}
	return &GitHub{
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		Scope:             "read:user",
		AuthorizeEndpoint: DefaultAuthorizeURL,
		TokenEndpoint:     DefaultTokenURL,
		APIBaseURL:        DefaultAPIURL,
		client:            c,
		tracer:            otel.Tracer(tracerName),
	}
}

// Configured reports whether both OAuth credentials are set.
func (g *GitHub) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// AuthorizeURL returns the URL the user is sent to in order to grant access.
func (g *GitHub) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", g.ClientID)
	q.Set("state", state)
	if g.Scope != "" {
		q.Set("scope", g.Scope)
	}
	if g.CallbackURL != "" {
		q.Set("redirect_uri", g.CallbackURL)
	}
	return g.AuthorizeEndpoint + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an authorization code for an access token.
func (g *GitHub) ExchangeCode(ctx context.Context, code string) (token string, err error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}

	ctx, span := g.tracer.Start(ctx, "github.exchange_code", trace.WithSpanKind(trace.SpanKindClient))
	defer func() { endSpan(span, err) }()

	form := url.Values{}
	form.Set("client_id", g.ClientID)
	form.Set("client_secret", g.ClientSecret)
	form.Set("code", code)
	if g.CallbackURL != "" {
		form.Set("redirect_uri", g.CallbackURL)
	}

	var resp tokenResponse
	if err := g.client.PostForm(ctx, g.TokenEndpoint, form, &resp); err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return "", fmt.Errorf("%w: token endpoint returned %d", ErrNoAccessToken, httpErr.StatusCode)
		}
		return "", fmt.Errorf("exchanging code: %w", err)
	}
	if resp.AccessToken == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrNoAccessToken, resp.Error)
		}
		return "", ErrNoAccessToken
	}
	return resp.AccessToken, nil
}

// CheckRepository confirms the token can see owner/name.
func (g *GitHub) CheckRepository(ctx context.Context, token, owner, name string) (err error) {
	ctx, span := g.tracer.Start(ctx, "github.check_repository",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("github.repo", owner+"/"+name)),
	)
	defer func() { endSpan(span, err) }()

	endpoint := fmt.Sprintf("%s/repos/%s/%s", strings.TrimSuffix(g.APIBaseURL, "/"), url.PathEscape(owner), url.PathEscape(name))
	if _, err := g.client.WithToken(token).GetBody(ctx, endpoint); err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			return fmt.Errorf("%w: %s/%s returned %d", ErrRepositoryAccessDenied, owner, name, httpErr.StatusCode)
		}
		var rateErr *client.RateLimitError
		if errors.As(err, &rateErr) {
			return fmt.Errorf("%w: rate limited", ErrRepositoryAccessDenied)
		}
		return fmt.Errorf("checking repository %s/%s: %w", owner, name, err)
	}
	return nil
}

// SplitRepo splits "owner/name" into its parts. A github.com URL prefix and
// a .git suffix are ignored. When repo has no slash, owner is repo and name is
// empty.
func SplitRepo(repo string) (owner, name string) {
	repo = strings.TrimSpace(repo)
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		repo = strings.TrimPrefix(repo, prefix)
	}
	repo = strings.TrimSuffix(strings.TrimSuffix(repo, "/"), ".git")

	owner, name, _ = strings.Cut(repo, "/")
	return owner, name
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

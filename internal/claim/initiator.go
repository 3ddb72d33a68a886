package claim

import (
	"net/http"

	"go.uber.org/zap"
)

// Authorizer builds the provider URL that starts a claim.
type Authorizer interface {
	Configured() bool
	AuthorizeURL(state string) string
}

// Initiator starts a claim by redirecting to the provider with the claim
// context encoded in the state parameter. It reads nodeId, publisherId, repo
// and redirectUri from the query string.
type Initiator struct {
	authorizer Authorizer
	logger     *zap.Logger
}

func NewInitiator(a Authorizer, logger *zap.Logger) *Initiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initiator{authorizer: a, logger: logger}
}

func (i *Initiator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := State{
		RedirectURI: q.Get("redirectUri"),
		NodeID:      q.Get("nodeId"),
		PublisherID: q.Get("publisherId"),
		Repo:        q.Get("repo"),
	}
	if !state.Complete() {
		WriteError(w, http.StatusBadRequest, MsgMissingParameters)
		return
	}
	if !i.authorizer.Configured() {
		WriteError(w, http.StatusInternalServerError, MsgNotConfigured)
		return
	}

	i.logger.Debug("starting claim", zap.String("node_id", state.NodeID), zap.String("repo", state.Repo))
	http.Redirect(w, r, i.authorizer.AuthorizeURL(EncodeState(state)), http.StatusFound)
}

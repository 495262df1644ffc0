package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"golang.org/x/oauth2"

	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// stateTokenBytes gives 256 bits of entropy per state token
const stateTokenBytes = 32

// TokenSink receives exchanged tokens. Implemented by the credential store.
type TokenSink interface {
	StoreToken(ctx context.Context, userID, provider string, tok *oauth2.Token, scopes []string) (*models.OAuth2Credential, error)
}

// Service drives the authorization-code flow: issue a state-protected
// authorize URL, then exchange the callback code and hand the token to the
// credential store. The provider always redirects back to callbackURL; the
// caller's own redirect destination travels in the state record.
type Service struct {
	providers   *Providers
	states      StateStore
	sink        TokenSink
	callbackURL string
	stateTTL    time.Duration
	log         *logger.Logger
}

// NewService creates the OAuth2 flow service
func NewService(providers *Providers, states StateStore, sink TokenSink, callbackURL string, stateTTL time.Duration, log *logger.Logger) *Service {
	return &Service{
		providers:   providers,
		states:      states,
		sink:        sink,
		callbackURL: callbackURL,
		stateTTL:    stateTTL,
		log:         log,
	}
}

// Authorization is the outcome of BeginAuthorization
type Authorization struct {
	AuthURL   string    `json:"auth_url"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BeginAuthorization creates a single-use state token and the provider
// authorize URL carrying it. redirectURL is where the callback sends the
// user after the exchange, not the provider redirect.
func (s *Service) BeginAuthorization(ctx context.Context, userID, provider, redirectURL string, scopes []string) (*Authorization, error) {
	if userID == "" {
		return nil, errs.New(errs.KindInvalidInput, "user_id is required")
	}
	if s.callbackURL == "" {
		return nil, errs.New(errs.KindInvalidState, "oauth2 callback url is not configured")
	}

	cfg, err := s.providers.Config(provider, s.callbackURL)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}

	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	record := &models.OAuth2StateRecord{
		UserID:          userID,
		Provider:        provider,
		RequestedScopes: cfg.Scopes,
		RedirectURI:     redirectURL,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.states.Create(ctx, state, record, s.stateTTL); err != nil {
		return nil, err
	}

	s.log.Info("authorization started", "user_id", userID, "provider", provider)

	return &Authorization{
		AuthURL:   cfg.AuthCodeURL(state, oauth2.AccessTypeOffline),
		State:     state,
		ExpiresAt: time.Now().UTC().Add(s.stateTTL),
	}, nil
}

// CompleteAuthorization consumes the state token, exchanges the code, and
// stores the resulting credential. An unknown, expired, or replayed state
// fails with InvalidState before any token exchange happens. The second
// return value is the destination recorded at BeginAuthorization.
func (s *Service) CompleteAuthorization(ctx context.Context, state, code string) (*models.OAuth2Credential, string, error) {
	if code == "" {
		return nil, "", errs.New(errs.KindInvalidInput, "authorization code is required")
	}

	record, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, "", err
	}

	cfg, err := s.providers.Config(record.Provider, s.callbackURL)
	if err != nil {
		return nil, "", err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, "", errs.Wrap(errs.KindAuthorizationFailed, err, "code exchange with %s failed", record.Provider)
	}

	cred, err := s.sink.StoreToken(ctx, record.UserID, record.Provider, tok, record.RequestedScopes)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("authorization completed",
		"user_id", record.UserID,
		"provider", record.Provider,
		"credential_id", cred.ID,
	)
	return cred, record.RedirectURI, nil
}

// newStateToken returns a url-safe random token
func newStateToken() (string, error) {
	raw := make([]byte, stateTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "generate state token")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

package oauth

import (
	"context"
	"sort"

	"golang.org/x/oauth2"

	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/errs"
)

// Providers is the closed set of OAuth2 providers. Built once from config at
// startup; unknown or unconfigured providers are rejected at use.
type Providers struct {
	configs map[string]config.ProviderConfig
}

// NewProviders builds the registry from the loaded provider configs
func NewProviders(cfg config.OAuth2Config) *Providers {
	return &Providers{configs: cfg.Providers}
}

// Names lists known provider names, sorted
func (p *Providers) Names() []string {
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config resolves a provider into an oauth2.Config bound to a redirect URI.
// Providers without a client id exist in the registry but cannot be used.
func (p *Providers) Config(provider, redirectURI string) (*oauth2.Config, error) {
	pc, ok := p.configs[provider]
	if !ok {
		return nil, errs.New(errs.KindInvalidInput, "unknown provider %q", provider)
	}
	if pc.ClientID == "" {
		return nil, errs.New(errs.KindInvalidState, "provider %s is not configured", provider)
	}

	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       pc.DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthorizeURL,
			TokenURL: pc.TokenURL,
		},
	}, nil
}

// Refresh exchanges a refresh token for a fresh access token at the
// provider's token endpoint.
func (p *Providers) Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	cfg, err := p.Config(provider, "")
	if err != nil {
		return nil, err
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, errs.Wrap(errs.KindCredentialInvalid, err, "provider %s rejected the refresh token", provider)
	}
	return tok, nil
}

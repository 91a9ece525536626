package auth

import (
	"fmt"
	"net/url"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// TokenProvider authenticates HTTPS sources with a bearer-style token.
// Git hosts (GitHub, GitLab, Bitbucket) accept the token as the basic-auth
// password with an arbitrary username.
type TokenProvider struct {
	auth *http.BasicAuth
}

// NewTokenProvider returns a provider that offers token for HTTPS URLs.
func NewTokenProvider(token string) *TokenProvider {
	return &TokenProvider{
		auth: &http.BasicAuth{
			Username: "token",
			Password: token,
		},
	}
}

// Method offers the token for https URLs and declines everything else.
//
//nolint:ireturn // transport.AuthMethod is the contract go-git consumes
func (p *TokenProvider) Method(sourceURL string) (transport.AuthMethod, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, nil
	}
	return p.auth, nil
}

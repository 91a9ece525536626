// Package auth resolves credentials for pulling external subtree sources.
// It layers URL scheme dispatch and environment-based discovery on top of
// go-git's transport auth methods.
package auth

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Provider resolves the auth method for a source URL.
// Returning a nil method with a nil error means the provider declines the
// URL and the next provider in a chain should be tried.
type Provider interface {
	Method(sourceURL string) (transport.AuthMethod, error)
}

// Chain tries providers in order and returns the first method offered.
// A provider error stops the chain only when no later provider offers a
// method for the URL.
type Chain []Provider

// Method returns the first auth method any chained provider offers.
//
//nolint:ireturn // transport.AuthMethod is the contract go-git consumes
func (c Chain) Method(sourceURL string) (transport.AuthMethod, error) {
	var lastErr error
	for _, p := range c {
		method, err := p.Method(sourceURL)
		if err != nil {
			lastErr = err
			continue
		}
		if method != nil {
			return method, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no provider could authenticate %q: %w", sourceURL, lastErr)
	}
	return nil, nil
}

// Environment variables consulted by FromEnvironment.
const (
	EnvToken         = "SUBTREE_TOKEN"
	EnvSSHKey        = "SUBTREE_SSH_KEY"
	EnvSSHPassphrase = "SUBTREE_SSH_PASSPHRASE"
)

// FromEnvironment builds a provider chain from the process environment:
// a token provider when SUBTREE_TOKEN is set, an SSH key provider when
// SUBTREE_SSH_KEY names a key file, and an SSH agent provider when
// SSH_AUTH_SOCK is present. Returns nil when nothing is configured, which
// leaves pulls unauthenticated.
//
//nolint:ireturn // callers hold the Provider contract, not the chain
func FromEnvironment() Provider {
	var chain Chain
	if token := os.Getenv(EnvToken); token != "" {
		chain = append(chain, NewTokenProvider(token))
	}
	if keyPath := os.Getenv(EnvSSHKey); keyPath != "" {
		chain = append(chain, NewSSHKeyProvider(keyPath, os.Getenv(EnvSSHPassphrase)))
	}
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		chain = append(chain, NewSSHAgentProvider())
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

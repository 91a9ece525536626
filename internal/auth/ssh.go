package auth

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// SSHKeyProvider authenticates SSH sources with a private key file.
type SSHKeyProvider struct {
	// KeyPath is the path to the private key file.
	KeyPath string

	// Passphrase unlocks an encrypted key. Empty for unencrypted keys.
	Passphrase string

	// Username for the SSH connection. Defaults to "git".
	Username string
}

// NewSSHKeyProvider returns a provider reading the key at keyPath.
func NewSSHKeyProvider(keyPath, passphrase string) *SSHKeyProvider {
	return &SSHKeyProvider{KeyPath: keyPath, Passphrase: passphrase, Username: "git"}
}

// Method offers public-key auth for SSH URLs and declines everything else.
//
//nolint:ireturn // transport.AuthMethod is the contract go-git consumes
func (p *SSHKeyProvider) Method(sourceURL string) (transport.AuthMethod, error) {
	if !isSSHURL(sourceURL) {
		return nil, nil
	}
	if _, err := os.Stat(p.KeyPath); err != nil {
		return nil, fmt.Errorf("ssh key file %q: %w", p.KeyPath, err)
	}
	method, err := ssh.NewPublicKeysFromFile(p.username(), p.KeyPath, p.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load ssh key %q: %w", p.KeyPath, err)
	}
	return method, nil
}

func (p *SSHKeyProvider) username() string {
	if p.Username != "" {
		return p.Username
	}
	return "git"
}

// SSHAgentProvider authenticates SSH sources through a running ssh-agent.
type SSHAgentProvider struct {
	// Username for the SSH connection. Defaults to "git".
	Username string
}

// NewSSHAgentProvider returns a provider backed by the local ssh-agent.
func NewSSHAgentProvider() *SSHAgentProvider {
	return &SSHAgentProvider{Username: "git"}
}

// Method offers agent auth for SSH URLs and declines everything else.
//
//nolint:ireturn // transport.AuthMethod is the contract go-git consumes
func (p *SSHAgentProvider) Method(sourceURL string) (transport.AuthMethod, error) {
	if !isSSHURL(sourceURL) {
		return nil, nil
	}
	username := p.Username
	if username == "" {
		username = "git"
	}
	method, err := ssh.NewSSHAgentAuth(username)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}
	return method, nil
}

// isSSHURL reports whether the URL reaches its host over SSH, covering
// both ssh:// URLs and git@host:path shorthand.
func isSSHURL(sourceURL string) bool {
	if strings.HasPrefix(sourceURL, "git@") {
		return true
	}
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "ssh", "git+ssh":
		return true
	default:
		return false
	}
}

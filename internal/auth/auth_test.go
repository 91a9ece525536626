package auth

import (
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider("secret")

	t.Run("offers basic auth for https", func(t *testing.T) {
		method, err := p.Method("https://example.com/lib.git")
		require.NoError(t, err)

		basic, ok := method.(*http.BasicAuth)
		require.True(t, ok)
		assert.Equal(t, "secret", basic.Password)
	})

	t.Run("declines non-https schemes", func(t *testing.T) {
		method, err := p.Method("ssh://example.com/lib.git")
		require.NoError(t, err)
		assert.Nil(t, method)
	})
}

func TestSSHKeyProviderMissingKey(t *testing.T) {
	p := NewSSHKeyProvider("/nonexistent/id_ed25519", "")

	method, err := p.Method("git@example.com:lib.git")
	assert.Error(t, err)
	assert.Nil(t, method)
}

func TestSSHKeyProviderDeclinesHTTPS(t *testing.T) {
	p := NewSSHKeyProvider("/nonexistent/id_ed25519", "")

	method, err := p.Method("https://example.com/lib.git")
	require.NoError(t, err)
	assert.Nil(t, method)
}

func TestIsSSHURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{url: "git@github.com:org/repo.git", want: true},
		{url: "ssh://git@github.com/org/repo.git", want: true},
		{url: "git+ssh://example.com/repo.git", want: true},
		{url: "https://github.com/org/repo.git", want: false},
		{url: "file:///tmp/repo", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSSHURL(tt.url), tt.url)
	}
}

type stubProvider struct {
	method transport.AuthMethod
	err    error
}

func (s stubProvider) Method(string) (transport.AuthMethod, error) {
	return s.method, s.err
}

func TestChain(t *testing.T) {
	basic := &http.BasicAuth{Username: "token", Password: "x"}

	t.Run("first offered method wins", func(t *testing.T) {
		chain := Chain{
			stubProvider{},
			stubProvider{method: basic},
			stubProvider{err: errors.New("never reached")},
		}

		method, err := chain.Method("https://example.com/lib.git")
		require.NoError(t, err)
		assert.Equal(t, basic, method)
	})

	t.Run("provider errors are skipped when a later provider offers", func(t *testing.T) {
		chain := Chain{
			stubProvider{err: errors.New("key unreadable")},
			stubProvider{method: basic},
		}

		method, err := chain.Method("https://example.com/lib.git")
		require.NoError(t, err)
		assert.Equal(t, basic, method)
	})

	t.Run("trailing error surfaces when nothing offers", func(t *testing.T) {
		chain := Chain{
			stubProvider{},
			stubProvider{err: errors.New("key unreadable")},
		}

		method, err := chain.Method("https://example.com/lib.git")
		assert.Error(t, err)
		assert.Nil(t, method)
	})

	t.Run("empty chain offers nothing", func(t *testing.T) {
		method, err := Chain{}.Method("https://example.com/lib.git")
		require.NoError(t, err)
		assert.Nil(t, method)
	})
}

func TestFromEnvironment(t *testing.T) {
	t.Run("token configured", func(t *testing.T) {
		t.Setenv(EnvToken, "secret")
		t.Setenv(EnvSSHKey, "")
		t.Setenv("SSH_AUTH_SOCK", "")

		p := FromEnvironment()
		require.NotNil(t, p)

		method, err := p.Method("https://example.com/lib.git")
		require.NoError(t, err)
		assert.NotNil(t, method)
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(EnvToken, "")
		t.Setenv(EnvSSHKey, "")
		t.Setenv("SSH_AUTH_SOCK", "")

		assert.Nil(t, FromEnvironment())
	})
}

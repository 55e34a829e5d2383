// Package auth supplies bearer credentials to the receipt API client. A
// provider is injected into the client explicitly; nothing is looked up from
// ambient state per request.
package auth

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/logger"
)

// CredentialProvider returns the bearer token to use for a backend call.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to CredentialProvider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

func noCredentials() error {
	return errors.Unauthorized("missing_token", "No credentials available")
}

func accept(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", noCredentials()
	}
	if err := CheckExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// StaticProvider always returns the same token.
type StaticProvider string

func (p StaticProvider) Token(_ context.Context) (string, error) {
	return accept(string(p))
}

// Source is a named token lookup used by ChainProvider.
type Source struct {
	Name   string
	Lookup func() string
}

// ChainProvider returns the token of the first source that yields one.
type ChainProvider struct {
	sources []Source
}

// NewChainProvider creates a provider that consults sources in order.
func NewChainProvider(sources ...Source) *ChainProvider {
	return &ChainProvider{sources: sources}
}

func (p *ChainProvider) Token(_ context.Context) (string, error) {
	for _, src := range p.sources {
		token := strings.TrimSpace(src.Lookup())
		if token == "" {
			continue
		}
		logger.GetLogger().Debugw("Using credentials", "source", src.Name, "token", logger.MaskJWT(token))
		return accept(token)
	}
	return "", noCredentials()
}

// Environment variables consulted by EnvSources, highest precedence first.
const (
	EnvBusinessToken = "ROUNDUP_BUSINESS_TOKEN"
	EnvUserToken     = "ROUNDUP_USER_TOKEN"
	EnvAuthToken     = "ROUNDUP_AUTH_TOKEN"
)

// EnvSource reads a token from an environment variable.
func EnvSource(name, envVar string) Source {
	return Source{Name: name, Lookup: func() string { return os.Getenv(envVar) }}
}

// EnvSources returns the business, user and generic token sources in
// precedence order.
func EnvSources() []Source {
	return []Source{
		EnvSource("business", EnvBusinessToken),
		EnvSource("user", EnvUserToken),
		EnvSource("auth", EnvAuthToken),
	}
}

// SessionProvider holds the most recent token presented by the client that
// owns a review session. Background work for the session (debounced searches,
// learning submissions) uses whatever token was last set.
type SessionProvider struct {
	mu    sync.RWMutex
	token string
}

func NewSessionProvider(token string) *SessionProvider {
	return &SessionProvider{token: token}
}

// Set replaces the session token.
func (p *SessionProvider) Set(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

func (p *SessionProvider) Token(_ context.Context) (string, error) {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	return accept(token)
}

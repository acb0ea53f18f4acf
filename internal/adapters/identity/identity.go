// Package identity resolves opaque bearer tokens into users. Token
// issuance lives in an external auth service; this package is only a
// consumer.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
)

// Provider resolves a bearer token to the user it authenticates.
type Provider interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// HTTPProvider asks the external auth service who the token belongs to.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProvider) Resolve(ctx context.Context, token string) (*domain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, core.ErrUnauthorized
	default:
		return nil, fmt.Errorf("identity service: unexpected status %d", resp.StatusCode)
	}

	var u domain.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("identity decode: %w", err)
	}
	if u.ID == "" {
		return nil, core.ErrUnauthorized
	}
	return &u, nil
}

// StaticProvider maps tokens to users in memory. Used by tests and
// standalone mode where no auth service runs.
type StaticProvider struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{users: make(map[string]*domain.User)}
}

func (p *StaticProvider) Add(token string, user *domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[token] = user
}

func (p *StaticProvider) Resolve(_ context.Context, token string) (*domain.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[token]
	if !ok {
		return nil, core.ErrUnauthorized
	}
	return u, nil
}

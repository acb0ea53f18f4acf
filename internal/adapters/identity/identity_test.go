package identity

import (
	"context"
	"testing"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderResolve(t *testing.T) {
	p := NewStaticProvider()
	p.Add("tok-1", &domain.User{ID: "alice", Username: "alice"})

	user, err := p.Resolve(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user.ID)

	_, err = p.Resolve(context.Background(), "tok-unknown")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

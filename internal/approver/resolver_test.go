package approver

import (
	"context"
	"testing"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testResolver() *Resolver {
	return NewStatic(Hierarchy{
		Managers: map[string][]string{
			"bob@example.com":   {"dev@example.com", "ops@example.com"},
			"alice@example.com": {"dev@example.com"},
		},
		FallbackApprovers: []string{"security@example.com"},
	}, zap.NewNop())
}

func TestResolver_ManagersForRequester(t *testing.T) {
	r := testResolver()

	got, err := r.Resolve(context.Background(), entity.RequestDetails{RequesterEmail: "dev@example.com"})
	require.NoError(t, err)
	// Sorted: deterministic across runs and resumes
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, got)
}

func TestResolver_CaseInsensitive(t *testing.T) {
	r := testResolver()

	got, err := r.Resolve(context.Background(), entity.RequestDetails{RequesterEmail: "DEV@Example.COM"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, got)
}

func TestResolver_Fallback(t *testing.T) {
	r := testResolver()

	got, err := r.Resolve(context.Background(), entity.RequestDetails{RequesterEmail: "newhire@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"security@example.com"}, got)
}

func TestResolver_NoApprovers(t *testing.T) {
	r := NewStatic(Hierarchy{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), entity.RequestDetails{RequesterEmail: "x@example.com"})
	assert.Error(t, err)
}

func TestResolver_Deterministic(t *testing.T) {
	r := testResolver()
	req := entity.RequestDetails{RequesterEmail: "dev@example.com"}

	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

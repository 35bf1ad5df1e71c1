package usagelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/errors"
)

func openLog(t *testing.T, maxBytes int64) *Log {
	t.Helper()
	l, err := Open(config.QuotaConfig{
		DBPath:          filepath.Join(t.TempDir(), "usage.db"),
		MaxBytesPerUser: maxBytes,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAllowUnderBudget(t *testing.T) {
	l := openLog(t, 100)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1_acme_chat", 60))
	require.NoError(t, l.Record(ctx, "u1_acme_chat", 60))
	require.NoError(t, l.Allow(ctx, "u1_acme_chat", 40))

	err := l.Allow(ctx, "u1_acme_chat", 41)
	require.Error(t, err)
	assert.True(t, errors.IsQuota(err))
}

func TestBudgetIsPerUserAcrossTenants(t *testing.T) {
	l := openLog(t, 100)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "u1_acme_chat", 80))

	// Same user, different app: draws from the same pool.
	err := l.Allow(ctx, "u1_acme_wiki", 30)
	require.Error(t, err)
	assert.True(t, errors.IsQuota(err))

	// Different user: untouched budget.
	require.NoError(t, l.Allow(ctx, "u2_acme_chat", 100))
}

func TestZeroBudgetDisablesGate(t *testing.T) {
	l := openLog(t, 0)
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx, "u1_acme_chat", 1<<40))
}

func TestUsedAndEvents(t *testing.T) {
	l := openLog(t, 0)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "u1_acme_chat", 10))
	require.NoError(t, l.Record(ctx, "u1_acme_wiki", 20))

	used, err := l.Used(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), used)

	used, err = l.Used(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, used)

	events, err := l.Events(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "u1_acme_wiki", events[0].Tenant)
	assert.Equal(t, int64(20), events[0].Bytes)
	assert.Equal(t, "u1_acme_chat", events[1].Tenant)
}

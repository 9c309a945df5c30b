package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecordAndSeen(t *testing.T) {
	store := NewMemoryStore(time.Hour, logger.New(logger.ERROR))
	ctx := context.Background()

	_, seen, err := store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, "evt_1", domain.Applied()))

	outcome, seen, err := store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
}

func TestMemoryStoreRetention(t *testing.T) {
	// Нулевой срок хранения: запись устаревает немедленно
	store := NewMemoryStore(-time.Second, logger.New(logger.ERROR))
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "evt_1", domain.Applied()))

	_, seen, err := store.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStoreTerminalMark(t *testing.T) {
	store := NewMemoryStore(time.Hour, logger.New(logger.ERROR))
	ctx := context.Background()

	terminal, err := store.IsTerminal(ctx, "cus_1")
	require.NoError(t, err)
	assert.False(t, terminal)

	require.NoError(t, store.MarkTerminal(ctx, "cus_1"))

	terminal, err = store.IsTerminal(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, terminal)

	// Отметка видна только для помеченного клиента
	terminal, err = store.IsTerminal(ctx, "cus_2")
	require.NoError(t, err)
	assert.False(t, terminal)
}

func TestMemoryStoreKeepsDistinctOutcomes(t *testing.T) {
	store := NewMemoryStore(time.Hour, logger.New(logger.ERROR))
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "evt_a", domain.Skipped("duplicate activation")))
	require.NoError(t, store.Record(ctx, "evt_b", domain.FailedTerminal("unresolvable key")))

	outcome, seen, err := store.Seen(ctx, "evt_a")
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)

	outcome, seen, err = store.Seen(ctx, "evt_b")
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "unresolvable key", outcome.Reason)
}

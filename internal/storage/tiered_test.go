package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"synchire-go/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenTier struct{}

func (brokenTier) GetExtraction(context.Context, types.ExtractionKind, types.ContentHash) (*types.ExtractionRecord, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenTier) SaveExtraction(context.Context, *types.ExtractionRecord) error {
	return errors.New("connection refused")
}

func cvRecord(hash types.ContentHash, skills ...string) *types.ExtractionRecord {
	return &types.ExtractionRecord{
		Hash:        hash,
		ExtractedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ExtractedData: types.ExtractedData{
			Kind:    types.ExtractionKindCV,
			Profile: &types.StructuredProfile{Skills: skills},
		},
	}
}

func TestTieredExtractionStore_BackfillsHotTier(t *testing.T) {
	ctx := context.Background()
	hot, durable := NewMemoryStore(), NewMemoryStore()
	require.NoError(t, durable.SaveExtraction(ctx, cvRecord("h1", "Go")))

	store := NewTieredExtractionStore(hot, durable, zerolog.Nop())
	rec, ok, err := store.GetExtraction(ctx, types.ExtractionKindCV, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Go"}, rec.Profile.Skills)

	_, ok, err = hot.GetExtraction(ctx, types.ExtractionKindCV, "h1")
	require.NoError(t, err)
	assert.True(t, ok, "热层应被回填")
}

func TestTieredExtractionStore_WritesBothTiers(t *testing.T) {
	ctx := context.Background()
	hot, durable := NewMemoryStore(), NewMemoryStore()
	store := NewTieredExtractionStore(hot, durable, zerolog.Nop())

	require.NoError(t, store.SaveExtraction(ctx, cvRecord("h2", "SQL")))
	for _, tier := range []ExtractionTier{hot, durable} {
		_, ok, err := tier.GetExtraction(ctx, types.ExtractionKindCV, "h2")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestTieredExtractionStore_HotTierFailureIgnored(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryStore()
	store := NewTieredExtractionStore(brokenTier{}, durable, zerolog.Nop())

	require.NoError(t, store.SaveExtraction(ctx, cvRecord("h3", "Go")))
	rec, ok, err := store.GetExtraction(ctx, types.ExtractionKindCV, "h3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.ContentHash("h3"), rec.Hash)
}

func TestTieredExtractionStore_DurableFailurePropagates(t *testing.T) {
	ctx := context.Background()
	store := NewTieredExtractionStore(nil, brokenTier{}, zerolog.Nop())

	assert.Error(t, store.SaveExtraction(ctx, cvRecord("h4")))
	_, ok, err := store.GetExtraction(ctx, types.ExtractionKindCV, "h4")
	assert.Error(t, err)
	assert.False(t, ok)
}

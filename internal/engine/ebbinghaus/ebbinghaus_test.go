package ebbinghaus

import (
	"context"
	"testing"
	"time"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.IntelligentMemoryConfig {
	c := config.Default().Intelligence
	return c
}

func TestRetentionAtOneHourMatchesSpec(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{LastAccessed: now.Add(-time.Hour), RetentionStrength: 1.0}
	r := m.Retention(f, now)
	assert.InDelta(t, 0.44, r, 0.01)
}

func TestRetentionFloorsAtRMin(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{LastAccessed: now.Add(-1000 * time.Hour), RetentionStrength: 1.0}
	assert.Equal(t, 0.20, m.Retention(f, now))
}

func TestReinforceCapsAtSMax(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{RetentionStrength: 9.9}
	f = m.Reinforce(f, now)
	assert.LessOrEqual(t, f.RetentionStrength, 10.0)
	assert.Equal(t, int64(1), f.AccessCount)
	assert.Equal(t, now, f.LastAccessed)
}

func TestInitialTierThresholds(t *testing.T) {
	m := New(testConfig())
	assert.Equal(t, store.TierLongTerm, m.InitialTier(0.8))
	assert.Equal(t, store.TierShortTerm, m.InitialTier(0.5))
	assert.Equal(t, store.TierWorking, m.InitialTier(0.1))
}

func TestWorkingPromotesAfterThreeAccessesWithin24h(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{Tier: store.TierWorking}
	f = m.Reinforce(f, now.Add(-2*time.Hour))
	f = m.Reinforce(f, now.Add(-1*time.Hour))
	f = m.Reinforce(f, now)
	tier, changed := m.Evaluate(f, now)
	assert.True(t, changed)
	assert.Equal(t, store.TierShortTerm, tier)
}

func TestShortTermPromotesOnAccessCountOrStrength(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{Tier: store.TierShortTerm, AccessCount: 10, RetentionStrength: 1, LastAccessed: now}
	tier, changed := m.Evaluate(f, now)
	assert.True(t, changed)
	assert.Equal(t, store.TierLongTerm, tier)

	f2 := store.MemoryFact{Tier: store.TierShortTerm, RetentionStrength: 3.5, LastAccessed: now}
	tier2, changed2 := m.Evaluate(f2, now)
	assert.True(t, changed2)
	assert.Equal(t, store.TierLongTerm, tier2)
}

func TestShortTermArchivesOnLowRetention(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{Tier: store.TierShortTerm, RetentionStrength: 1, LastAccessed: now.Add(-10 * time.Hour)}
	tier, changed := m.Evaluate(f, now)
	assert.True(t, changed)
	assert.Equal(t, store.TierArchived, tier)
}

func TestLongTermNeverArchivesByDefault(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	f := store.MemoryFact{Tier: store.TierLongTerm, RetentionStrength: 1, LastAccessed: now.Add(-10000 * time.Hour)}
	tier, changed := m.Evaluate(f, now)
	assert.False(t, changed)
	assert.Equal(t, store.TierLongTerm, tier)
}

func TestLongTermArchivesWhenEscapeHatchEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.AllowLongTermArchival = true
	m := New(cfg)
	now := time.Now()
	f := store.MemoryFact{Tier: store.TierLongTerm, RetentionStrength: 1, LastAccessed: now.Add(-10000 * time.Hour)}
	tier, changed := m.Evaluate(f, now)
	assert.True(t, changed)
	assert.Equal(t, store.TierArchived, tier)
}

func TestEligibleForDeletionRespectsGrace(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	fresh := store.MemoryFact{Tier: store.TierArchived, RetentionStrength: 1, LastAccessed: now.Add(-10000 * time.Hour), UpdatedAt: now.Add(-1 * time.Hour)}
	assert.False(t, m.EligibleForDeletion(fresh, now))

	aged := store.MemoryFact{Tier: store.TierArchived, RetentionStrength: 1, LastAccessed: now.Add(-10000 * time.Hour), UpdatedAt: now.Add(-31 * 24 * time.Hour)}
	assert.True(t, m.EligibleForDeletion(aged, now))
}

func TestRunMaintenanceAppliesAndDeletes(t *testing.T) {
	m := New(testConfig())
	now := time.Now()
	facts := []store.MemoryFact{
		{ID: 1, Tier: store.TierShortTerm, AccessCount: 10, LastAccessed: now},
		{ID: 2, Tier: store.TierArchived, RetentionStrength: 1, LastAccessed: now.Add(-10000 * time.Hour), UpdatedAt: now.Add(-31 * 24 * time.Hour)},
	}
	var applied, deleted []int64
	err := m.RunMaintenance(context.Background(), now, facts,
		func(_ context.Context, f store.MemoryFact) error { applied = append(applied, f.ID); return nil },
		func(_ context.Context, f store.MemoryFact) error { deleted = append(deleted, f.ID); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, applied)
	assert.Equal(t, []int64{2}, deleted)
}

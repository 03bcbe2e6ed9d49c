// Package ebbinghaus implements the retention-decay and tier lifecycle
// manager (C7): the forgetting-curve scoring function, access reinforcement,
// initial tier assignment, and the promotion/demotion/cleanup maintenance
// pass.
package ebbinghaus

import (
	"context"
	"math"
	"time"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/store"
)

const accessLogKey = "_access_log"

// maxAccessLogEntries bounds the per-fact access-timestamp log kept to
// evaluate the "access_count >= 3 within any 24h window" promotion rule;
// it is pruned on every reinforcement so it never needs more than a
// handful of recent entries.
const maxAccessLogEntries = 32

// Manager evaluates retention scores and drives tier transitions.
type Manager struct {
	cfg config.IntelligentMemoryConfig
}

// New builds a Manager from the engine's intelligence configuration.
func New(cfg config.IntelligentMemoryConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Retention computes R(t) = max(R_min, exp(-lambda*t/S)), where t is the
// time in hours from the fact's last touch (last_accessed, falling back to
// created_at) to now.
func (m *Manager) Retention(f store.MemoryFact, now time.Time) float64 {
	last := f.LastAccessed
	if last.IsZero() {
		last = f.CreatedAt
	}
	t := now.Sub(last).Hours()
	if t < 0 {
		t = 0
	}
	s := f.RetentionStrength
	if s <= 0 {
		s = 1.0
	}
	r := math.Exp(-m.cfg.RetentionLambda * t / s)
	if r < m.cfg.RMin {
		return m.cfg.RMin
	}
	return r
}

// Reinforce applies the access-reinforcement rule to f as of now: bumps
// access_count, last_accessed, and retention_strength (capped at S_max),
// and appends now to the bounded access log used for 24h-window promotion.
func (m *Manager) Reinforce(f store.MemoryFact, now time.Time) store.MemoryFact {
	f.AccessCount++
	f.LastAccessed = now
	s := f.RetentionStrength
	if s <= 0 {
		s = 1.0
	}
	s *= 1 + m.cfg.RReinforceAlpha
	if s > m.cfg.SMax {
		s = m.cfg.SMax
	}
	f.RetentionStrength = s
	f.Metadata = appendAccessLog(f.Metadata, now)
	return f
}

// InitialTier maps an LLM-provided importance score to an initial tier per
// spec §4.7's thresholds.
func (m *Manager) InitialTier(score float64) store.Tier {
	switch {
	case score >= m.cfg.Thresholds.LongTerm:
		return store.TierLongTerm
	case score >= m.cfg.Thresholds.ShortTerm:
		return store.TierShortTerm
	default:
		return store.TierWorking
	}
}

// Evaluate decides whether f should transition tiers given the current
// time, per the maintenance-pass rules. It returns the new tier and
// whether a transition occurred; it never mutates f.
func (m *Manager) Evaluate(f store.MemoryFact, now time.Time) (store.Tier, bool) {
	switch f.Tier {
	case store.TierWorking:
		if accessesWithin(f.Metadata, now, 24*time.Hour) >= 3 {
			return store.TierShortTerm, true
		}
	case store.TierShortTerm:
		if f.AccessCount >= 10 || f.RetentionStrength >= 3.0 {
			return store.TierLongTerm, true
		}
		if m.Retention(f, now) < 0.25 {
			return store.TierArchived, true
		}
	case store.TierLongTerm:
		if m.cfg.AllowLongTermArchival && m.Retention(f, now) <= m.cfg.RMin {
			return store.TierArchived, true
		}
	case store.TierArchived:
		// Archived facts only leave via EligibleForDeletion, handled by the
		// caller's cleanup pass, not a tier transition.
	}
	return f.Tier, false
}

// EligibleForDeletion reports whether an ARCHIVED fact has sat below
// R_min+epsilon for longer than the configured archive grace period and so
// may be physically deleted (the caller must still write a DELETE
// HistoryEvent).
func (m *Manager) EligibleForDeletion(f store.MemoryFact, now time.Time) bool {
	if f.Tier != store.TierArchived {
		return false
	}
	const epsilon = 1e-6
	if m.Retention(f, now) >= m.cfg.RMin+epsilon {
		return false
	}
	grace := time.Duration(m.cfg.ArchiveGraceDays) * 24 * time.Hour
	return now.Sub(f.UpdatedAt) > grace
}

func accessesWithin(meta map[string]any, now time.Time, window time.Duration) int {
	log := readAccessLog(meta)
	count := 0
	for _, ts := range log {
		if now.Sub(ts) <= window {
			count++
		}
	}
	return count
}

func readAccessLog(meta map[string]any) []time.Time {
	raw, ok := meta[accessLogKey]
	if !ok {
		return nil
	}
	var out []time.Time
	switch v := raw.(type) {
	case []time.Time:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					out = append(out, ts)
				}
			}
		}
	case []string:
		for _, s := range v {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				out = append(out, ts)
			}
		}
	}
	return out
}

func appendAccessLog(meta map[string]any, ts time.Time) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	} else {
		cloned := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			cloned[k] = v
		}
		meta = cloned
	}
	log := readAccessLog(meta)
	log = append(log, ts)
	if len(log) > maxAccessLogEntries {
		log = log[len(log)-maxAccessLogEntries:]
	}
	encoded := make([]string, len(log))
	for i, t := range log {
		encoded[i] = t.Format(time.RFC3339Nano)
	}
	meta[accessLogKey] = encoded
	return meta
}

// maintenanceScan drives the periodic promotion/demotion/cleanup pass over
// every fact in scope, delegating to the caller-supplied apply/delete
// callbacks so the manager stays storage-agnostic.
type maintenanceScan struct {
	apply  func(ctx context.Context, f store.MemoryFact) error
	delete func(ctx context.Context, f store.MemoryFact) error
}

// RunMaintenance walks facts (already fetched by the caller, e.g. via
// VectorStore.List), transitions tiers, and deletes eligible ARCHIVED
// facts. apply persists a tier change; del physically removes a fact and
// is expected to also write the mandatory DELETE HistoryEvent.
func (m *Manager) RunMaintenance(ctx context.Context, now time.Time, facts []store.MemoryFact, apply func(ctx context.Context, f store.MemoryFact) error, del func(ctx context.Context, f store.MemoryFact) error) error {
	scan := maintenanceScan{apply: apply, delete: del}
	for _, f := range facts {
		if m.EligibleForDeletion(f, now) {
			if err := scan.delete(ctx, f); err != nil {
				return err
			}
			continue
		}
		if tier, changed := m.Evaluate(f, now); changed {
			f.Tier = tier
			f.UpdatedAt = now
			if err := scan.apply(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

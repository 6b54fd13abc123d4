package store

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/identity"
	"github.com/workflowlabs/patternbank/internal/pattern"
)

// SyncSet is the outcome of a sync eligibility scan: every published pattern
// whose content changed since it was last pushed (or that was never pushed).
type SyncSet struct {
	Fixes      []*pattern.FixPattern      `json:"fixes"`
	Blueprints []*pattern.Blueprint       `json:"blueprints"`
	Solutions  []*pattern.SolutionPattern `json:"solutions"`
}

// Total returns the number of patterns across all kinds.
func (s *SyncSet) Total() int {
	return len(s.Fixes) + len(s.Blueprints) + len(s.Solutions)
}

// KindStats summarizes one pattern kind.
type KindStats struct {
	Count          int     `json:"count"`
	TotalUses      int     `json:"totalUses"`
	AvgSuccessRate float64 `json:"avgSuccessRate"`
	Deprecated     int     `json:"deprecated"`
	Private        int     `json:"private"`
	Synced         int     `json:"synced"`
}

// Stats summarizes the whole store.
type Stats struct {
	Fixes      KindStats `json:"fixes"`
	Blueprints KindStats `json:"blueprints"`
	Solutions  KindStats `json:"solutions"`
}

// TotalPatterns returns the pattern count across all kinds.
func (s *Stats) TotalPatterns() int {
	return s.Fixes.Count + s.Blueprints.Count + s.Solutions.Count
}

// UpdateMetrics records a usage outcome against a pattern of any kind.
func (s *store) UpdateMetrics(ctx context.Context, kind pattern.Kind, id string, success bool) error {
	switch kind {
	case pattern.KindFix:
		return s.UpdateFixMetrics(ctx, id, success)
	case pattern.KindSolution:
		return s.UpdateSolutionMetrics(ctx, id, success)
	case pattern.KindBlueprint:
		return mutate(ctx, s, pattern.KindBlueprint, id, func(p *pattern.Blueprint) error {
			p.Metrics.Record(success, time.Now().UTC())
			return nil
		})
	}
	return fmt.Errorf("%w: %q", pattern.ErrInvalidKind, kind)
}

// UpdateFixMetrics records a usage outcome against a fix pattern.
func (s *store) UpdateFixMetrics(ctx context.Context, id string, success bool) error {
	return mutate(ctx, s, pattern.KindFix, id, func(p *pattern.FixPattern) error {
		p.Metrics.Record(success, time.Now().UTC())
		return nil
	})
}

// UpdateSolutionMetrics records a usage outcome against a solution pattern.
func (s *store) UpdateSolutionMetrics(ctx context.Context, id string, success bool) error {
	return mutate(ctx, s, pattern.KindSolution, id, func(p *pattern.SolutionPattern) error {
		p.Metrics.Record(success, time.Now().UTC())
		return nil
	})
}

// DeprecatePattern explicitly marks a pattern deprecated. The pattern stays
// on disk and resolvable; it only drops out of default listings.
func (s *store) DeprecatePattern(ctx context.Context, kind pattern.Kind, id, reason string) error {
	now := time.Now().UTC()
	err := s.mutateAny(ctx, kind, id, func(e *pattern.Envelope) error {
		e.Deprecate(reason, now)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("deprecated pattern",
		zap.String("pattern_id", id),
		zap.String("kind", string(kind)),
		zap.String("reason", reason),
	)
	return nil
}

// MarkAsSynced stamps patterns with the sync time and their content hash at
// that moment, so a later content change makes them sync-eligible again.
// Sync bookkeeping does not count as an update: UpdatedAt is left alone.
func (s *store) MarkAsSynced(ctx context.Context, kind pattern.Kind, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		var err error
		switch kind {
		case pattern.KindFix:
			err = markSynced[pattern.FixPattern](ctx, s, kind, id, now)
		case pattern.KindBlueprint:
			err = markSynced[pattern.Blueprint](ctx, s, kind, id, now)
		case pattern.KindSolution:
			err = markSynced[pattern.SolutionPattern](ctx, s, kind, id, now)
		default:
			return fmt.Errorf("%w: %q", pattern.ErrInvalidKind, kind)
		}
		if err != nil {
			return fmt.Errorf("failed to mark %s as synced: %w", id, err)
		}
	}
	return nil
}

// markSynced loads one pattern, records the sync stamp and the content hash
// as of this moment, and writes it back.
func markSynced[T any, P interface {
	*T
	pattern.Pattern
}](ctx context.Context, s *store, kind pattern.Kind, id string, now time.Time) error {
	_, span := s.tracer.Start(ctx, "store.mark_synced")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", id))

	path, err := resolve(s.dirFor(kind), id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	p, err := readJSON[T](path)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var pat P = p
	hash, err := identity.Hash(pat)
	if err != nil {
		span.RecordError(err)
		return err
	}

	meta := pat.Meta()
	meta.SyncedAt = &now
	meta.SyncedHash = hash

	if err := writeJSONAtomic(path, pat); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// PatternsForSync scans every kind for published patterns that were never
// pushed or whose content hash drifted from the hash recorded at the last
// push. Private patterns are never eligible.
func (s *store) PatternsForSync(ctx context.Context) (*SyncSet, error) {
	ctx, span := s.tracer.Start(ctx, "store.patterns_for_sync")
	defer span.End()

	set := &SyncSet{}

	fixes, err := scanKind[pattern.FixPattern](ctx, s, pattern.KindFix)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, p := range fixes {
		eligible, err := syncEligible(p)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if eligible {
			set.Fixes = append(set.Fixes, p)
		}
	}

	blueprints, err := scanKind[pattern.Blueprint](ctx, s, pattern.KindBlueprint)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, p := range blueprints {
		eligible, err := syncEligible(p)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if eligible {
			set.Blueprints = append(set.Blueprints, p)
		}
	}

	solutions, err := scanKind[pattern.SolutionPattern](ctx, s, pattern.KindSolution)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, p := range solutions {
		eligible, err := syncEligible(p)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if eligible {
			set.Solutions = append(set.Solutions, p)
		}
	}

	span.SetAttributes(attribute.Int("eligible", set.Total()))
	return set, nil
}

// syncEligible reports whether one pattern should go out on the next push.
func syncEligible(p pattern.Pattern) (bool, error) {
	meta := p.Meta()
	if meta.IsPrivate {
		return false, nil
	}
	if meta.SyncedAt == nil {
		return true, nil
	}
	hash, err := identity.Hash(p)
	if err != nil {
		return false, fmt.Errorf("failed to hash pattern %s: %w", meta.ID, err)
	}
	return hash != meta.SyncedHash, nil
}

// Stats aggregates usage counters across the whole store.
func (s *store) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "store.stats")
	defer span.End()

	stats := &Stats{}

	fixes, err := scanKind[pattern.FixPattern](ctx, s, pattern.KindFix)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	stats.Fixes = kindStats(asPatterns(fixes), s.config.DeprecationThreshold)

	blueprints, err := scanKind[pattern.Blueprint](ctx, s, pattern.KindBlueprint)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	stats.Blueprints = kindStats(asPatterns(blueprints), s.config.DeprecationThreshold)

	solutions, err := scanKind[pattern.SolutionPattern](ctx, s, pattern.KindSolution)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	stats.Solutions = kindStats(asPatterns(solutions), s.config.DeprecationThreshold)

	return stats, nil
}

// asPatterns widens a typed slice to the shared interface.
func asPatterns[T any, P interface {
	*T
	pattern.Pattern
}](typed []P) []pattern.Pattern {
	out := make([]pattern.Pattern, len(typed))
	for i, p := range typed {
		out[i] = p
	}
	return out
}

// kindStats folds one kind's scan into its summary.
func kindStats(patterns []pattern.Pattern, threshold time.Duration) KindStats {
	now := time.Now().UTC()

	var ks KindStats
	var rateSum float64
	for _, p := range patterns {
		meta := p.Meta()
		ks.Count++
		ks.TotalUses += meta.Metrics.Applications
		rateSum += meta.Metrics.SuccessRate
		if meta.IsDeprecated(now, threshold) {
			ks.Deprecated++
		}
		if meta.IsPrivate {
			ks.Private++
		}
		if meta.SyncedAt != nil {
			ks.Synced++
		}
	}
	if ks.Count > 0 {
		ks.AvgSuccessRate = rateSum / float64(ks.Count)
	}
	return ks
}

// mutate loads a typed pattern, applies fn, and writes it back atomically.
// UpdatedAt is refreshed on every mutation.
func mutate[T any, P interface {
	*T
	pattern.Pattern
}](ctx context.Context, s *store, kind pattern.Kind, id string, fn func(P) error) error {
	ctx, span := s.tracer.Start(ctx, "store.mutate")
	defer span.End()
	span.SetAttributes(
		attribute.String("pattern_id", id),
		attribute.String("kind", string(kind)),
	)

	dir := s.dirFor(kind)
	path, err := resolve(dir, id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	p, err := readJSON[T](path)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var pat P = p
	if err := fn(pat); err != nil {
		span.RecordError(err)
		return err
	}
	pat.Meta().UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(path, pat); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// mutateAny applies an envelope-only mutation regardless of kind.
func (s *store) mutateAny(ctx context.Context, kind pattern.Kind, id string, fn func(*pattern.Envelope) error) error {
	switch kind {
	case pattern.KindFix:
		return mutate(ctx, s, kind, id, func(p *pattern.FixPattern) error { return fn(&p.Envelope) })
	case pattern.KindBlueprint:
		return mutate(ctx, s, kind, id, func(p *pattern.Blueprint) error { return fn(&p.Envelope) })
	case pattern.KindSolution:
		return mutate(ctx, s, kind, id, func(p *pattern.SolutionPattern) error { return fn(&p.Envelope) })
	}
	return fmt.Errorf("%w: %q", pattern.ErrInvalidKind, kind)
}

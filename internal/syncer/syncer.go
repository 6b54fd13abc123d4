// Package syncer orchestrates pattern exchange with the community registry.
//
// Push gates every outgoing pattern twice: the anonymizer scrubs it, then an
// independent audit must pass before the pattern leaves the machine. A
// pattern failing the audit is reported and withheld, never sent.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/workflowlabs/patternbank/internal/anonymize"
	"github.com/workflowlabs/patternbank/internal/contributor"
	"github.com/workflowlabs/patternbank/internal/identity"
	"github.com/workflowlabs/patternbank/internal/pattern"
	"github.com/workflowlabs/patternbank/internal/registry"
	"github.com/workflowlabs/patternbank/internal/store"
)

const instrumentationName = "github.com/workflowlabs/patternbank/internal/syncer"

// pullPageSize is how many patterns one pull request fetches.
const pullPageSize = 50

// ErrSyncDisabled gates both directions behind the contributor's opt-in.
var ErrSyncDisabled = errors.New("sync is not enabled for this workspace")

// RegistryClient is the slice of the registry API the syncer needs.
type RegistryClient interface {
	Push(ctx context.Context, patterns []registry.PushPattern, contributorID string) (*registry.PushResponse, error)
	Pull(ctx context.Context, opts registry.PullOptions) (*registry.PullResponse, error)
}

// PushReport summarizes one push run. Skipped counts patterns the registry
// already had; Failed counts per-pattern registry rejections.
type PushReport struct {
	Pushed  int `json:"pushed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Withheld counts patterns that failed the anonymization audit and were
	// never sent.
	Withheld int `json:"withheld"`

	// WithheldIDs lists the audit failures so the user can inspect them.
	WithheldIDs []string `json:"withheldIds,omitempty"`
}

// PullReport summarizes one pull run.
type PullReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Syncer moves patterns between the local store and the registry.
type Syncer struct {
	store      store.Service
	manager    *contributor.Manager
	client     RegistryClient
	anonymizer *anonymize.Anonymizer
	validator  *anonymize.Validator
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a syncer.
func New(
	st store.Service,
	manager *contributor.Manager,
	client RegistryClient,
	anonymizer *anonymize.Anonymizer,
	validator *anonymize.Validator,
	logger *zap.Logger,
) (*Syncer, error) {
	if st == nil || manager == nil || client == nil || anonymizer == nil || validator == nil {
		return nil, errors.New("store, manager, client, anonymizer, and validator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:      st,
		manager:    manager,
		client:     client,
		anonymizer: anonymizer,
		validator:  validator,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Push uploads every sync-eligible pattern as one anonymized batch. Requires
// sync opt-in.
func (s *Syncer) Push(ctx context.Context) (*PushReport, error) {
	ctx, span := s.tracer.Start(ctx, "syncer.push")
	defer span.End()

	if !s.manager.SyncEnabled() {
		return nil, ErrSyncDisabled
	}

	set, err := s.store.PatternsForSync(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &PushReport{}
	var batch []registry.PushPattern
	sent := map[pattern.Kind][]string{}

	if err := collectKind(s, pattern.KindFix, set.Fixes, report, &batch, sent, func(p *pattern.FixPattern) (*pattern.FixPattern, error) {
		clone, _, err := s.anonymizer.AnonymizeFix(p)
		return clone, err
	}); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := collectKind(s, pattern.KindBlueprint, set.Blueprints, report, &batch, sent, func(p *pattern.Blueprint) (*pattern.Blueprint, error) {
		clone, _, err := s.anonymizer.AnonymizeBlueprint(p)
		return clone, err
	}); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := collectKind(s, pattern.KindSolution, set.Solutions, report, &batch, sent, func(p *pattern.SolutionPattern) (*pattern.SolutionPattern, error) {
		clone, _, err := s.anonymizer.AnonymizeSolution(p)
		return clone, err
	}); err != nil {
		span.RecordError(err)
		return report, err
	}

	if len(batch) == 0 {
		return report, nil
	}

	contributorID, err := s.manager.GetOrCreateID()
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("failed to resolve contributor id: %w", err)
	}

	resp, err := s.client.Push(ctx, batch, contributorID)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	report.Pushed = resp.Pushed
	report.Skipped = resp.Skipped
	report.Failed = len(resp.Errors)

	failed := map[string]bool{}
	for _, e := range resp.Errors {
		failed[e.ID] = true
		s.logger.Warn("registry rejected pattern",
			zap.String("pattern_id", e.ID),
			zap.String("message", e.Message),
		)
	}

	// Skipped patterns were deduplicated server-side, so the registry holds
	// them too: they get the synced stamp alongside the pushed ones.
	for kind, ids := range sent {
		accepted := ids[:0:0]
		for _, id := range ids {
			if !failed[id] {
				accepted = append(accepted, id)
			}
		}
		if err := s.store.MarkAsSynced(ctx, kind, accepted); err != nil {
			span.RecordError(err)
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("pushed", report.Pushed),
		attribute.Int("withheld", report.Withheld),
	)
	s.logger.Info("sync push complete",
		zap.Int("pushed", report.Pushed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("withheld", report.Withheld),
	)
	return report, nil
}

// collectKind anonymizes and audits one kind's eligible patterns, appending
// the clean ones to the outgoing batch.
func collectKind[T any, P interface {
	*T
	pattern.Pattern
}](s *Syncer, kind pattern.Kind, patterns []P, report *PushReport, batch *[]registry.PushPattern, sent map[pattern.Kind][]string, scrub func(P) (P, error)) error {
	for _, p := range patterns {
		meta := p.Meta()

		clone, err := scrub(p)
		if err != nil {
			return fmt.Errorf("failed to anonymize pattern %s: %w", meta.ID, err)
		}

		clean, issues, err := s.validator.ValidateAnonymization(clone)
		if err != nil {
			return fmt.Errorf("failed to audit pattern %s: %w", meta.ID, err)
		}
		if !clean {
			report.Withheld++
			report.WithheldIDs = append(report.WithheldIDs, meta.ID)
			s.logger.Warn("withholding pattern: anonymization audit failed",
				zap.String("pattern_id", meta.ID),
				zap.Int("issues", len(issues)),
			)
			continue
		}

		data, err := json.Marshal(clone)
		if err != nil {
			return fmt.Errorf("failed to serialize pattern %s: %w", meta.ID, err)
		}
		hash, err := identity.Hash(clone)
		if err != nil {
			return fmt.Errorf("failed to hash pattern %s: %w", meta.ID, err)
		}

		*batch = append(*batch, registry.PushPattern{
			ID:   meta.ID,
			Type: kind,
			Data: data,
			Hash: hash,
		})
		sent[kind] = append(sent[kind], meta.ID)
	}
	return nil
}

// Pull imports community patterns of every kind. Patterns already imported
// (matched by their registry id) are skipped; new ones are written as
// private, community-sourced local copies.
func (s *Syncer) Pull(ctx context.Context) (*PullReport, error) {
	ctx, span := s.tracer.Start(ctx, "syncer.pull")
	defer span.End()

	if !s.manager.SyncEnabled() {
		return nil, ErrSyncDisabled
	}

	report := &PullReport{}

	if err := pullKind(ctx, s, pattern.KindFix, report, s.store.SaveFix); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := pullKind(ctx, s, pattern.KindBlueprint, report, s.store.SaveBlueprint); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := pullKind(ctx, s, pattern.KindSolution, report, s.store.SaveSolution); err != nil {
		span.RecordError(err)
		return report, err
	}

	span.SetAttributes(attribute.Int("imported", report.Imported))
	s.logger.Info("sync pull complete",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// pullKind pages one kind out of the registry and imports new patterns.
func pullKind[T any, P interface {
	*T
	pattern.Pattern
}](ctx context.Context, s *Syncer, kind pattern.Kind, report *PullReport, save func(context.Context, P) error) error {
	known, err := s.knownOriginals(ctx, kind)
	if err != nil {
		return err
	}

	offset := 0
	for {
		resp, err := s.client.Pull(ctx, registry.PullOptions{
			Type:   kind,
			Limit:  pullPageSize,
			Offset: offset,
		})
		if err != nil {
			return err
		}

		for _, raw := range resp.Patterns {
			var p T
			if err := json.Unmarshal(raw, &p); err != nil {
				s.logger.Warn("skipping unparseable community pattern",
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
				report.Skipped++
				continue
			}

			var pat P = &p
			remoteID := pat.Meta().ID
			if known[remoteID] {
				report.Skipped++
				continue
			}

			localizeCommunity(pat.Meta(), remoteID)
			if err := save(ctx, pat); err != nil {
				return fmt.Errorf("failed to import pattern %s: %w", remoteID, err)
			}
			known[remoteID] = true
			report.Imported++
		}

		if !resp.Pagination.HasMore || len(resp.Patterns) == 0 {
			return nil
		}
		offset += len(resp.Patterns)
	}
}

// knownOriginals indexes already-imported registry ids for one kind, plus
// local ids so a pull can never collide with the user's own patterns.
func (s *Syncer) knownOriginals(ctx context.Context, kind pattern.Kind) (map[string]bool, error) {
	known := map[string]bool{}
	q := store.Query{IncludeDeprecated: true}

	addAll := func(metas []*pattern.Envelope) {
		for _, m := range metas {
			known[m.ID] = true
			if m.OriginalID != "" {
				known[m.OriginalID] = true
			}
		}
	}

	switch kind {
	case pattern.KindFix:
		patterns, err := s.store.ListFixes(ctx, q)
		if err != nil {
			return nil, err
		}
		metas := make([]*pattern.Envelope, len(patterns))
		for i, p := range patterns {
			metas[i] = p.Meta()
		}
		addAll(metas)
	case pattern.KindBlueprint:
		patterns, err := s.store.ListBlueprints(ctx, q)
		if err != nil {
			return nil, err
		}
		metas := make([]*pattern.Envelope, len(patterns))
		for i, p := range patterns {
			metas[i] = p.Meta()
		}
		addAll(metas)
	case pattern.KindSolution:
		patterns, err := s.store.ListSolutions(ctx, q)
		if err != nil {
			return nil, err
		}
		metas := make([]*pattern.Envelope, len(patterns))
		for i, p := range patterns {
			metas[i] = p.Meta()
		}
		addAll(metas)
	}
	return known, nil
}

// localizeCommunity rewrites a pulled pattern's envelope for local storage:
// a fresh local id, the registry id preserved in OriginalID, community
// source, and private visibility so the copy never round-trips back out.
func localizeCommunity(meta *pattern.Envelope, remoteID string) {
	now := time.Now().UTC()
	meta.ID = uuid.New().String()
	meta.OriginalID = remoteID
	meta.Source = pattern.SourceCommunity
	meta.IsPrivate = true
	meta.ContributorID = ""
	meta.SyncedAt = nil
	meta.SyncedHash = ""
	meta.CreatedAt = now
	meta.UpdatedAt = now
}

// Package store persists patterns as pretty-printed JSON files under the
// workspace's .workflow/patterns directory, one directory per kind.
//
// The store is a directory-scan query engine: listing and searching parse
// every file and filter in memory. That is acceptable at this scale and the
// behavior is kept behind the Service interface so an indexed store could
// replace it without changing callers.
//
// Writes are atomic (temp file in the target directory, then rename), so a
// concurrent reader never observes a half-written file. Cross-process
// read-modify-write races on the same id are explicitly out of scope;
// callers needing serialized metric updates coordinate externally.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/contributor"
	"github.com/workflowlabs/patternbank/internal/identity"
	"github.com/workflowlabs/patternbank/internal/pattern"
)

const instrumentationName = "github.com/workflowlabs/patternbank/internal/store"

// Store errors.
var (
	ErrPatternNotFound = errors.New("pattern not found")
	ErrNilPattern      = errors.New("pattern cannot be nil")
)

// Service is the pattern store API.
type Service interface {
	Initialize(ctx context.Context) error

	SaveFix(ctx context.Context, p *pattern.FixPattern) error
	SaveBlueprint(ctx context.Context, p *pattern.Blueprint) error
	SaveSolution(ctx context.Context, p *pattern.SolutionPattern) error

	GetFix(ctx context.Context, id string) (*pattern.FixPattern, error)
	GetBlueprint(ctx context.Context, id string) (*pattern.Blueprint, error)
	GetSolution(ctx context.Context, id string) (*pattern.SolutionPattern, error)

	Delete(ctx context.Context, kind pattern.Kind, id string) error

	ListFixes(ctx context.Context, q Query) ([]*pattern.FixPattern, error)
	ListBlueprints(ctx context.Context, q Query) ([]*pattern.Blueprint, error)
	ListSolutions(ctx context.Context, q Query) ([]*pattern.SolutionPattern, error)

	SearchFixes(ctx context.Context, keywords []string, q Query) ([]*pattern.FixPattern, error)
	SearchBlueprints(ctx context.Context, keywords []string, q Query) ([]*pattern.Blueprint, error)
	SearchSolutions(ctx context.Context, keywords []string, q Query) ([]*pattern.SolutionPattern, error)

	UpdateMetrics(ctx context.Context, kind pattern.Kind, id string, success bool) error
	UpdateFixMetrics(ctx context.Context, id string, success bool) error
	UpdateSolutionMetrics(ctx context.Context, id string, success bool) error

	DeprecatePattern(ctx context.Context, kind pattern.Kind, id, reason string) error
	MarkAsSynced(ctx context.Context, kind pattern.Kind, ids []string) error
	PatternsForSync(ctx context.Context) (*SyncSet, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Config configures the store.
type Config struct {
	// Root is the workspace root; patterns live under Root/.workflow/patterns.
	Root string

	// DeprecationThreshold is the age past which an untouched pattern is
	// reported deprecated (default 365 days).
	DeprecationThreshold time.Duration
}

// DefaultConfig returns sensible defaults for the given workspace root.
func DefaultConfig(root string) *Config {
	return &Config{
		Root:                 root,
		DeprecationThreshold: pattern.DefaultDeprecationThreshold,
	}
}

// store implements Service over the filesystem.
type store struct {
	config *Config
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	saveCounter   metric.Int64Counter
	deleteCounter metric.Int64Counter
}

// New creates a pattern store rooted at cfg.Root.
func New(cfg *Config, logger *zap.Logger) (Service, error) {
	if cfg == nil || cfg.Root == "" {
		return nil, errors.New("store root is required")
	}
	if cfg.DeprecationThreshold == 0 {
		cfg.DeprecationThreshold = pattern.DefaultDeprecationThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &store{
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *store) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"patternbank.store.saves_total",
		metric.WithDescription("Total number of pattern saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.deleteCounter, err = s.meter.Int64Counter(
		"patternbank.store.deletes_total",
		metric.WithDescription("Total number of pattern deletes"),
		metric.WithUnit("{delete}"),
	)
	if err != nil {
		s.logger.Warn("failed to create delete counter", zap.Error(err))
	}
}

// dirFor returns the directory for one pattern kind.
func (s *store) dirFor(kind pattern.Kind) string {
	return filepath.Join(s.config.Root, contributor.WorkspaceDir, "patterns", kind.Directory())
}

// Initialize idempotently creates the pattern directory tree. Safe to call
// from multiple processes concurrently.
func (s *store) Initialize(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "store.initialize")
	defer span.End()

	for _, kind := range pattern.Kinds() {
		if err := os.MkdirAll(s.dirFor(kind), 0755); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create %s directory: %w", kind, err)
		}
	}
	return nil
}

// SaveFix validates and persists a fix pattern.
func (s *store) SaveFix(ctx context.Context, p *pattern.FixPattern) error {
	if p == nil {
		return ErrNilPattern
	}
	return s.save(ctx, p)
}

// SaveBlueprint validates and persists a blueprint.
func (s *store) SaveBlueprint(ctx context.Context, p *pattern.Blueprint) error {
	if p == nil {
		return ErrNilPattern
	}
	return s.save(ctx, p)
}

// SaveSolution validates and persists a solution pattern.
func (s *store) SaveSolution(ctx context.Context, p *pattern.SolutionPattern) error {
	if p == nil {
		return ErrNilPattern
	}
	return s.save(ctx, p)
}

// save is the shared write path: validate, write the canonical file
// atomically, then drop any stale file left by a rename (filename
// migration). The pattern's id is its identity regardless of filename.
func (s *store) save(ctx context.Context, p pattern.Pattern) error {
	ctx, span := s.tracer.Start(ctx, "store.save")
	defer span.End()

	meta := p.Meta()
	span.SetAttributes(
		attribute.String("pattern_id", meta.ID),
		attribute.String("kind", string(p.Kind())),
	)

	if err := p.Validate(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("pattern validation failed: %w", err)
	}

	dir := s.dirFor(p.Kind())
	if err := os.MkdirAll(dir, 0755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create pattern directory: %w", err)
	}

	canonical, err := identity.FilePath(dir, meta.ID, meta.Name)
	if err != nil {
		span.RecordError(err)
		return err
	}

	existing, resolveErr := resolve(dir, meta.ID)
	if resolveErr != nil && !errors.Is(resolveErr, ErrPatternNotFound) {
		span.RecordError(resolveErr)
		return resolveErr
	}

	if err := writeJSONAtomic(canonical, p); err != nil {
		span.RecordError(err)
		return err
	}

	// The name changed since the last save; remove the stale file so the
	// id resolves to exactly one artifact.
	if existing != "" && existing != canonical {
		if err := os.Remove(existing); err != nil && !os.IsNotExist(err) {
			span.RecordError(err)
			return fmt.Errorf("failed to remove stale pattern file: %w", err)
		}
		s.logger.Info("migrated pattern filename",
			zap.String("pattern_id", meta.ID),
			zap.String("old", filepath.Base(existing)),
			zap.String("new", filepath.Base(canonical)),
		)
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(p.Kind())),
		))
	}

	s.logger.Debug("saved pattern",
		zap.String("pattern_id", meta.ID),
		zap.String("kind", string(p.Kind())),
		zap.String("file", filepath.Base(canonical)),
	)
	return nil
}

// GetFix retrieves a fix pattern by id.
func (s *store) GetFix(ctx context.Context, id string) (*pattern.FixPattern, error) {
	return getPattern[pattern.FixPattern](ctx, s, pattern.KindFix, id)
}

// GetBlueprint retrieves a blueprint by id.
func (s *store) GetBlueprint(ctx context.Context, id string) (*pattern.Blueprint, error) {
	return getPattern[pattern.Blueprint](ctx, s, pattern.KindBlueprint, id)
}

// GetSolution retrieves a solution pattern by id.
func (s *store) GetSolution(ctx context.Context, id string) (*pattern.SolutionPattern, error) {
	return getPattern[pattern.SolutionPattern](ctx, s, pattern.KindSolution, id)
}

// getPattern resolves an id to a file (legacy form first, then slug scan)
// and decodes it.
func getPattern[T any](ctx context.Context, s *store, kind pattern.Kind, id string) (*T, error) {
	_, span := s.tracer.Start(ctx, "store.get")
	defer span.End()

	span.SetAttributes(
		attribute.String("pattern_id", id),
		attribute.String("kind", string(kind)),
	)

	path, err := resolve(s.dirFor(kind), id)
	if err != nil {
		return nil, err
	}

	return readJSON[T](path)
}

// Delete removes the on-disk artifact for an id, whichever filename form it
// uses. Deletion is permanent.
func (s *store) Delete(ctx context.Context, kind pattern.Kind, id string) error {
	ctx, span := s.tracer.Start(ctx, "store.delete")
	defer span.End()

	span.SetAttributes(
		attribute.String("pattern_id", id),
		attribute.String("kind", string(kind)),
	)

	path, err := resolve(s.dirFor(kind), id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := os.Remove(path); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete pattern: %w", err)
	}

	if s.deleteCounter != nil {
		s.deleteCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(kind)),
		))
	}

	s.logger.Info("deleted pattern",
		zap.String("pattern_id", id),
		zap.String("kind", string(kind)),
	)
	return nil
}

// resolve maps an id to its file: the legacy "{id}.json" form first, then a
// scan for the "{slug}-{id}.json" form.
func resolve(dir, id string) (string, error) {
	legacy := filepath.Join(dir, id+".json")
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat pattern file: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrPatternNotFound, id)
		}
		return "", fmt.Errorf("failed to scan pattern directory: %w", err)
	}

	suffix := "-" + id + ".json"
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPatternNotFound, id)
}

// readJSON decodes one pattern file.
func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}

// writeJSONAtomic writes pretty-printed JSON via a temp file in the same
// directory followed by a rename, so readers never see a torn file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize pattern: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pattern-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write pattern file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace pattern file: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/pattern"
)

// Query filters a list or search. Zero value matches everything.
type Query struct {
	// Framework filters on compatibility (fixes, solutions) or stack
	// (blueprints). Case-insensitive; empty matches all.
	Framework string

	// Category filters fixes and solutions; ignored for blueprints.
	Category pattern.FixCategory

	// Tags requires every named tag to be present.
	Tags []string

	// IncludeDeprecated includes patterns past the deprecation threshold or
	// explicitly deprecated. Default is to hide them.
	IncludeDeprecated bool

	// Limit caps the number of results; 0 means unlimited.
	Limit int
}

// ListFixes returns fixes matching the query, most recently updated first.
func (s *store) ListFixes(ctx context.Context, q Query) ([]*pattern.FixPattern, error) {
	all, err := scanKind[pattern.FixPattern](ctx, s, pattern.KindFix)
	if err != nil {
		return nil, err
	}
	results := filter(all, s.config.DeprecationThreshold, q, func(p *pattern.FixPattern) (string, pattern.FixCategory) {
		return p.Compatibility.Framework, p.Category
	})
	return limitResults(results, q.Limit), nil
}

// ListBlueprints returns blueprints matching the query, most recently
// updated first.
func (s *store) ListBlueprints(ctx context.Context, q Query) ([]*pattern.Blueprint, error) {
	all, err := scanKind[pattern.Blueprint](ctx, s, pattern.KindBlueprint)
	if err != nil {
		return nil, err
	}
	q.Category = ""
	results := filter(all, s.config.DeprecationThreshold, q, func(p *pattern.Blueprint) (string, pattern.FixCategory) {
		return p.Stack.Framework, ""
	})
	return limitResults(results, q.Limit), nil
}

// ListSolutions returns solutions matching the query, most recently updated
// first.
func (s *store) ListSolutions(ctx context.Context, q Query) ([]*pattern.SolutionPattern, error) {
	all, err := scanKind[pattern.SolutionPattern](ctx, s, pattern.KindSolution)
	if err != nil {
		return nil, err
	}
	results := filter(all, s.config.DeprecationThreshold, q, func(p *pattern.SolutionPattern) (string, pattern.FixCategory) {
		return p.Compatibility.Framework, p.Category
	})
	return limitResults(results, q.Limit), nil
}

// SearchFixes ranks query-matching fixes by keyword relevance.
func (s *store) SearchFixes(ctx context.Context, keywords []string, q Query) ([]*pattern.FixPattern, error) {
	matches, err := s.ListFixes(ctx, Query{
		Framework:         q.Framework,
		Category:          q.Category,
		Tags:              q.Tags,
		IncludeDeprecated: q.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}
	ranked := rank(matches, keywords, func(p *pattern.FixPattern) []string {
		return append(searchText(&p.Envelope),
			p.Trigger.ErrorPattern, p.Trigger.ErrorMessage, p.Trigger.Context)
	})
	return limitResults(ranked, q.Limit), nil
}

// SearchBlueprints ranks query-matching blueprints by keyword relevance.
func (s *store) SearchBlueprints(ctx context.Context, keywords []string, q Query) ([]*pattern.Blueprint, error) {
	matches, err := s.ListBlueprints(ctx, Query{
		Framework:         q.Framework,
		Tags:              q.Tags,
		IncludeDeprecated: q.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}
	ranked := rank(matches, keywords, func(p *pattern.Blueprint) []string {
		return append(searchText(&p.Envelope),
			p.Stack.Framework, p.Stack.Language, p.Stack.Runtime)
	})
	return limitResults(ranked, q.Limit), nil
}

// SearchSolutions ranks query-matching solutions by keyword relevance.
func (s *store) SearchSolutions(ctx context.Context, keywords []string, q Query) ([]*pattern.SolutionPattern, error) {
	matches, err := s.ListSolutions(ctx, Query{
		Framework:         q.Framework,
		Category:          q.Category,
		Tags:              q.Tags,
		IncludeDeprecated: q.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}
	ranked := rank(matches, keywords, func(p *pattern.SolutionPattern) []string {
		return append(searchText(&p.Envelope), string(p.Category))
	})
	return limitResults(ranked, q.Limit), nil
}

// envelopePattern constrains the generic scan to pointer types exposing the
// shared envelope.
type envelopePattern[T any] interface {
	*T
	Meta() *pattern.Envelope
}

// scanKind decodes every pattern file in a kind's directory. Unreadable or
// corrupt files are skipped with a warning rather than failing the whole
// scan; one bad file must not hide the rest of the store.
func scanKind[T any, P envelopePattern[T]](ctx context.Context, s *store, kind pattern.Kind) ([]P, error) {
	_, span := s.tracer.Start(ctx, "store.scan")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)))

	dir := s.dirFor(kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	var patterns []P
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		p, err := readJSON[T](filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable pattern file",
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		patterns = append(patterns, p)
	}

	span.SetAttributes(attribute.Int("count", len(patterns)))
	return patterns, nil
}

// filter applies the query to a scanned set and sorts by UpdatedAt
// descending. traits extracts the framework and category of one pattern.
func filter[T any, P envelopePattern[T]](all []P, threshold time.Duration, q Query, traits func(P) (string, pattern.FixCategory)) []P {
	now := time.Now().UTC()

	var results []P
	for _, p := range all {
		meta := p.Meta()
		framework, category := traits(p)

		if !q.IncludeDeprecated && meta.IsDeprecated(now, threshold) {
			continue
		}
		if q.Framework != "" && !strings.EqualFold(q.Framework, framework) {
			continue
		}
		if q.Category != "" && q.Category != category {
			continue
		}
		if !hasAllTags(meta.Tags, q.Tags) {
			continue
		}
		results = append(results, p)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Meta().UpdatedAt.After(results[j].Meta().UpdatedAt)
	})
	return results
}

// rank orders patterns by keyword match count (descending), breaking ties by
// success rate so proven patterns surface first. Patterns matching no
// keyword are dropped. Empty keywords return the input unchanged.
func rank[T any, P envelopePattern[T]](matches []P, keywords []string, fields func(P) []string) []P {
	if len(keywords) == 0 {
		return matches
	}

	type scored struct {
		p     P
		count int
	}
	var ranked []scored
	for _, p := range matches {
		haystack := strings.ToLower(strings.Join(fields(p), " "))
		count := 0
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			count += strings.Count(haystack, strings.ToLower(kw))
		}
		if count > 0 {
			ranked = append(ranked, scored{p: p, count: count})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].p.Meta().Metrics.SuccessRate > ranked[j].p.Meta().Metrics.SuccessRate
	})

	results := make([]P, len(ranked))
	for i, sc := range ranked {
		results[i] = sc.p
	}
	return results
}

// searchText collects the envelope's searchable free text.
func searchText(e *pattern.Envelope) []string {
	fields := []string{e.Name, e.Description}
	fields = append(fields, e.Keywords...)
	for _, tag := range e.Tags {
		fields = append(fields, tag.Name)
	}
	return fields
}

// hasAllTags reports whether every wanted tag name is present.
func hasAllTags(tags []pattern.Tag, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, tag := range tags {
			if strings.EqualFold(tag.Name, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// limitResults truncates results to the query limit.
func limitResults[P any](results []P, limit int) []P {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

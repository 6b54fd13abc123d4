package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowlabs/patternbank/internal/pattern"
)

func newTestStore(t *testing.T) (Service, string) {
	t.Helper()
	root := t.TempDir()
	s, err := New(DefaultConfig(root), nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	return s, root
}

func testFix(name string) *pattern.FixPattern {
	return pattern.NewFix(
		name,
		pattern.CategoryRuntime,
		pattern.Trigger{ErrorPattern: `ECONNREFUSED`},
		pattern.Solution{
			Type: pattern.SolutionConfigUpdate,
			Steps: []pattern.Step{
				{Order: 1, Action: pattern.ActionModify, Target: ".env", Description: "bump the pool size"},
			},
		},
		pattern.SourceManual,
	)
}

func testBlueprint(name, framework string) *pattern.Blueprint {
	return pattern.NewBlueprint(
		name,
		pattern.Stack{Framework: framework, Language: "typescript"},
		pattern.Structure{},
		pattern.Setup{},
		pattern.SourceManual,
	)
}

func testSolution(name string) *pattern.SolutionPattern {
	return pattern.NewSolution(
		name,
		pattern.CategorySecurity,
		pattern.Implementation{
			Files: []pattern.ImplementationFile{{Path: "auth.ts", Content: "export {}"}},
		},
		pattern.SourceManual,
	)
}

func TestStore_Initialize(t *testing.T) {
	s, root := newTestStore(t)

	for _, dir := range []string{"fixes", "blueprints", "solutions"} {
		info, err := os.Stat(filepath.Join(root, ".workflow", "patterns", dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Idempotent.
	assert.NoError(t, s.Initialize(context.Background()))
}

func TestStore_SaveAndGet(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	p := testFix("Fix Memory Leak")
	require.NoError(t, s.SaveFix(ctx, p))

	t.Run("file name is slug plus id", func(t *testing.T) {
		path := filepath.Join(root, ".workflow", "patterns", "fixes", "fix-memory-leak-"+p.ID+".json")
		_, err := os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("round trips", func(t *testing.T) {
		got, err := s.GetFix(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "Fix Memory Leak", got.Name)
		assert.Equal(t, pattern.CategoryRuntime, got.Category)
		assert.True(t, got.IsPrivate)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.GetFix(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrPatternNotFound)
	})

	t.Run("invalid pattern rejected", func(t *testing.T) {
		bad := testFix("ab") // below minimum name length
		assert.ErrorIs(t, s.SaveFix(ctx, bad), pattern.ErrInvalidName)
	})

	t.Run("nil pattern rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.SaveFix(ctx, nil), ErrNilPattern)
	})
}

func TestStore_LegacyFilenameResolution(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	// A file written before slugged names existed: bare "{id}.json".
	p := testFix("Old Style Fix")
	data := mustMarshal(t, p)
	legacy := filepath.Join(root, ".workflow", "patterns", "fixes", p.ID+".json")
	require.NoError(t, os.WriteFile(legacy, data, 0644))

	got, err := s.GetFix(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	t.Run("save migrates to the slugged name", func(t *testing.T) {
		require.NoError(t, s.SaveFix(ctx, got))

		_, err := os.Stat(legacy)
		assert.True(t, os.IsNotExist(err), "legacy file should be removed")

		slugged := filepath.Join(root, ".workflow", "patterns", "fixes", "old-style-fix-"+p.ID+".json")
		_, err = os.Stat(slugged)
		assert.NoError(t, err)
	})
}

func TestStore_RenameMigratesFilename(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	p := testFix("Fix Memory Leak")
	require.NoError(t, s.SaveFix(ctx, p))

	p.Name = "Fix Memory Leak V2"
	require.NoError(t, s.SaveFix(ctx, p))

	dir := filepath.Join(root, ".workflow", "patterns", "fixes")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "rename must leave exactly one file")
	assert.Equal(t, "fix-memory-leak-v2-"+p.ID+".json", entries[0].Name())

	got, err := s.GetFix(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix Memory Leak V2", got.Name)
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	patterns := make([]*pattern.FixPattern, 5)
	for i := range patterns {
		patterns[i] = testFix(fmt.Sprintf("Concurrent Fix %d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(patterns))
	for i, p := range patterns {
		wg.Add(1)
		go func(i int, p *pattern.FixPattern) {
			defer wg.Done()
			errs[i] = s.SaveFix(ctx, p)
		}(i, p)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "save %d", i)
	}

	entries, err := os.ReadDir(filepath.Join(root, ".workflow", "patterns", "fixes"))
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	for _, p := range patterns {
		got, err := s.GetFix(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := testBlueprint("Express Starter", "express")
	require.NoError(t, s.SaveBlueprint(ctx, p))
	require.NoError(t, s.Delete(ctx, pattern.KindBlueprint, p.ID))

	_, err := s.GetBlueprint(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)

	assert.ErrorIs(t, s.Delete(ctx, pattern.KindBlueprint, p.ID), ErrPatternNotFound)
}

func TestStore_List(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	express := testBlueprint("Express Starter", "express")
	fastify := testBlueprint("Fastify Starter", "fastify")
	require.NoError(t, s.SaveBlueprint(ctx, express))
	require.NoError(t, s.SaveBlueprint(ctx, fastify))

	t.Run("framework filter is case-insensitive", func(t *testing.T) {
		got, err := s.ListBlueprints(ctx, Query{Framework: "Express"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, express.ID, got[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.ListBlueprints(ctx, Query{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("deprecated hidden by default", func(t *testing.T) {
		require.NoError(t, s.DeprecatePattern(ctx, pattern.KindBlueprint, fastify.ID, "superseded"))

		got, err := s.ListBlueprints(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, express.ID, got[0].ID)

		all, err := s.ListBlueprints(ctx, Query{IncludeDeprecated: true})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("tag filter", func(t *testing.T) {
		tagged := testFix("Tagged Fix")
		tagged.Tags = []pattern.Tag{{Name: "database"}}
		require.NoError(t, s.SaveFix(ctx, tagged))
		require.NoError(t, s.SaveFix(ctx, testFix("Untagged Fix")))

		got, err := s.ListFixes(ctx, Query{Tags: []string{"database"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, tagged.ID, got[0].ID)
	})
}

func TestStore_Search(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	timeout := testFix("Fix Connection Timeout")
	timeout.Description = "raise the client connection timeout"
	timeout.Keywords = []string{"timeout", "connection"}

	leak := testFix("Fix Memory Leak")
	leak.Keywords = []string{"memory"}

	require.NoError(t, s.SaveFix(ctx, timeout))
	require.NoError(t, s.SaveFix(ctx, leak))

	t.Run("ranks by match count", func(t *testing.T) {
		got, err := s.SearchFixes(ctx, []string{"timeout", "connection"}, Query{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, timeout.ID, got[0].ID)
	})

	t.Run("no keywords returns everything", func(t *testing.T) {
		got, err := s.SearchFixes(ctx, nil, Query{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("no match returns empty", func(t *testing.T) {
		got, err := s.SearchFixes(ctx, []string{"kubernetes"}, Query{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_UpdateMetrics(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := testFix("Fix Flaky Test")
	require.NoError(t, s.SaveFix(ctx, p))

	require.NoError(t, s.UpdateFixMetrics(ctx, p.ID, true))
	require.NoError(t, s.UpdateFixMetrics(ctx, p.ID, true))
	require.NoError(t, s.UpdateFixMetrics(ctx, p.ID, false))

	got, err := s.GetFix(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Metrics.Applications)
	assert.Equal(t, 2, got.Metrics.Successes)
	assert.Equal(t, 1, got.Metrics.Failures)
	assert.InDelta(t, 66.67, got.Metrics.SuccessRate, 0.001)
	assert.NotNil(t, got.Metrics.LastUsed)

	t.Run("unknown id", func(t *testing.T) {
		err := s.UpdateFixMetrics(ctx, "11111111-1111-4111-8111-111111111111", true)
		assert.ErrorIs(t, err, ErrPatternNotFound)
	})

	t.Run("kind dispatch", func(t *testing.T) {
		sol := testSolution("Wire Webhooks")
		require.NoError(t, s.SaveSolution(ctx, sol))
		require.NoError(t, s.UpdateMetrics(ctx, pattern.KindSolution, sol.ID, true))

		got, err := s.GetSolution(ctx, sol.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Metrics.Applications)
	})
}

func TestStore_SyncLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	private := testFix("Private Fix")
	published := testFix("Published Fix")
	published.Publish(time.Now())

	require.NoError(t, s.SaveFix(ctx, private))
	require.NoError(t, s.SaveFix(ctx, published))

	t.Run("only published patterns are eligible", func(t *testing.T) {
		set, err := s.PatternsForSync(ctx)
		require.NoError(t, err)
		require.Len(t, set.Fixes, 1)
		assert.Equal(t, published.ID, set.Fixes[0].ID)
		assert.Equal(t, 1, set.Total())
	})

	t.Run("marking synced removes eligibility", func(t *testing.T) {
		require.NoError(t, s.MarkAsSynced(ctx, pattern.KindFix, []string{published.ID}))

		set, err := s.PatternsForSync(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Fixes)

		got, err := s.GetFix(ctx, published.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.SyncedAt)
		assert.NotEmpty(t, got.SyncedHash)
	})

	t.Run("metric updates alone do not re-trigger sync", func(t *testing.T) {
		require.NoError(t, s.UpdateFixMetrics(ctx, published.ID, true))

		set, err := s.PatternsForSync(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Fixes)
	})

	t.Run("content change re-triggers sync", func(t *testing.T) {
		got, err := s.GetFix(ctx, published.ID)
		require.NoError(t, err)
		got.Description = "now with a connection pool"
		require.NoError(t, s.SaveFix(ctx, got))

		set, err := s.PatternsForSync(ctx)
		require.NoError(t, err)
		require.Len(t, set.Fixes, 1)
		assert.Equal(t, published.ID, set.Fixes[0].ID)
	})
}

func TestStore_Stats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	f1 := testFix("Stats Fix One")
	f2 := testFix("Stats Fix Two")
	f2.Publish(time.Now().UTC())
	require.NoError(t, s.SaveFix(ctx, f1))
	require.NoError(t, s.SaveFix(ctx, f2))
	require.NoError(t, s.UpdateFixMetrics(ctx, f1.ID, true))
	require.NoError(t, s.UpdateFixMetrics(ctx, f1.ID, true))
	require.NoError(t, s.SaveBlueprint(ctx, testBlueprint("Stats BP", "express")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fixes.Count)
	assert.Equal(t, 2, stats.Fixes.TotalUses)
	assert.InDelta(t, 50.0, stats.Fixes.AvgSuccessRate, 0.001) // 100 and 0
	assert.Equal(t, 1, stats.Fixes.Private, "only the unpublished fix counts as private")
	assert.Equal(t, 1, stats.Blueprints.Count)
	assert.Equal(t, 1, stats.Blueprints.Private)
	assert.Equal(t, 0, stats.Solutions.Count)
	assert.Equal(t, 3, stats.TotalPatterns())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

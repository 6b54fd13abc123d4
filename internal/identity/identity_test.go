package identity

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "Fix Memory Leak", "fix-memory-leak"},
		{"mixed case", "TypeScript Strict Mode", "typescript-strict-mode"},
		{"punctuation collapses", "fix: npm install --force!", "fix-npm-install-force"},
		{"leading and trailing separators", "--Hello World--", "hello-world"},
		{"numbers preserved", "Upgrade to Node 20", "upgrade-to-node-20"},
		{"consecutive separators collapse", "a   ___  b", "a-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slug, err := Slugify(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, slug)
		})
	}

	t.Run("truncates to max length", func(t *testing.T) {
		slug, err := Slugify(strings.Repeat("abc ", 40))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(slug), MaxSlugLength)
		assert.False(t, strings.HasSuffix(slug, "-"))
	})

	t.Run("empty slug is an error", func(t *testing.T) {
		_, err := Slugify("!!! ---")
		assert.ErrorIs(t, err, ErrEmptySlug)
	})
}

type hashFixture struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
	SyncedAt  *time.Time     `json:"syncedAt,omitempty"`
}

func TestHash(t *testing.T) {
	base := hashFixture{ID: "u-1", Name: "Fix Memory Leak", Category: "runtime"}

	t.Run("is deterministic", func(t *testing.T) {
		h1, err := Hash(base)
		require.NoError(t, err)
		h2, err := Hash(base)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, HashLength)
	})

	t.Run("ignores metadata fields", func(t *testing.T) {
		h1, err := Hash(base)
		require.NoError(t, err)

		now := time.Now()
		changed := base
		changed.CreatedAt = &now
		changed.UpdatedAt = &now
		changed.SyncedAt = &now
		changed.Metrics = map[string]any{"applications": 12, "successRate": 91.67}

		h2, err := Hash(changed)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("changes when content changes", func(t *testing.T) {
		h1, err := Hash(base)
		require.NoError(t, err)

		renamed := base
		renamed.Name = "Fix Memory Leak V2"
		h2, err := Hash(renamed)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

func TestFilePath(t *testing.T) {
	t.Run("canonical form includes slug", func(t *testing.T) {
		path, err := FilePath("/tmp/fixes", "abc-123", "Fix Memory Leak")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/tmp/fixes", "fix-memory-leak-abc-123.json"), path)
	})

	t.Run("legacy form without name", func(t *testing.T) {
		path, err := FilePath("/tmp/fixes", "abc-123")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/tmp/fixes", "abc-123.json"), path)
	})

	t.Run("invalid name propagates slug error", func(t *testing.T) {
		_, err := FilePath("/tmp/fixes", "abc-123", "???")
		assert.ErrorIs(t, err, ErrEmptySlug)
	})
}

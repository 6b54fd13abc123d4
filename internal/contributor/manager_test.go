package contributor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetOrCreateID(t *testing.T) {
	t.Run("creates id with wf prefix", func(t *testing.T) {
		m := NewManager(t.TempDir(), nil)

		id, err := m.GetOrCreateID()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "wf-"))
	})

	t.Run("repeated calls return the same id", func(t *testing.T) {
		m := NewManager(t.TempDir(), nil)

		first, err := m.GetOrCreateID()
		require.NoError(t, err)
		second, err := m.GetOrCreateID()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("separate managers share the workspace id", func(t *testing.T) {
		root := t.TempDir()

		a := NewManager(root, nil)
		b := NewManager(root, nil)

		idA, err := a.GetOrCreateID()
		require.NoError(t, err)
		idB, err := b.GetOrCreateID()
		require.NoError(t, err)
		assert.Equal(t, idA, idB)
	})

	t.Run("concurrent callers settle on one id", func(t *testing.T) {
		root := t.TempDir()

		var wg sync.WaitGroup
		ids := make([]string, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m := NewManager(root, nil)
				id, err := m.GetOrCreateID()
				assert.NoError(t, err)
				ids[i] = id
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("persists file with restrictive permissions", func(t *testing.T) {
		root := t.TempDir()
		m := NewManager(root, nil)

		_, err := m.GetOrCreateID()
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(root, WorkspaceDir, idFileName))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})
}

func TestManager_GetConfig(t *testing.T) {
	t.Run("missing record is a typed error", func(t *testing.T) {
		m := NewManager(t.TempDir(), nil)
		_, err := m.GetConfig()
		assert.ErrorIs(t, err, ErrNoConfig)
	})

	t.Run("returns persisted record", func(t *testing.T) {
		m := NewManager(t.TempDir(), nil)
		id, err := m.GetOrCreateID()
		require.NoError(t, err)

		cfg, err := m.GetConfig()
		require.NoError(t, err)
		assert.Equal(t, id, cfg.ID)
		assert.False(t, cfg.SyncOptIn)
		assert.False(t, cfg.TelemetryEnabled)
	})
}

func TestManager_OptInFlags(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	require.NoError(t, m.EnableSync())
	cfg, err := m.GetConfig()
	require.NoError(t, err)
	assert.True(t, cfg.SyncOptIn)
	assert.NotNil(t, cfg.SyncEnabledAt)
	assert.True(t, m.SyncEnabled())

	require.NoError(t, m.DisableSync())
	cfg, err = m.GetConfig()
	require.NoError(t, err)
	assert.False(t, cfg.SyncOptIn)
	assert.Nil(t, cfg.SyncEnabledAt)

	require.NoError(t, m.EnableTelemetry())
	assert.True(t, m.TelemetryEnabled())

	require.NoError(t, m.DisableTelemetry())
	assert.False(t, m.TelemetryEnabled())
}

func TestManager_ResetID(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	original, err := m.GetOrCreateID()
	require.NoError(t, err)

	replacement, err := m.ResetID()
	require.NoError(t, err)
	assert.NotEqual(t, original, replacement)
	assert.True(t, strings.HasPrefix(replacement, "wf-"))

	current, err := m.GetOrCreateID()
	require.NoError(t, err)
	assert.Equal(t, replacement, current)
}

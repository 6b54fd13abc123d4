// Package contributor manages the stable anonymous identity of a local
// installation.
//
// The identity is a "wf-" prefixed UUID persisted alongside opt-in flags for
// sync and telemetry. It attributes shared patterns to an installation
// without exposing who the user is. Failures here are always local I/O
// failures and are surfaced as plain errors so callers can degrade
// gracefully; nothing in this package is fatal to a primary operation.
package contributor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// WorkspaceDir is the dot-directory holding all patternbank state.
	WorkspaceDir = ".workflow"

	idFileName = ".contributor-id"
	idPrefix   = "wf-"
)

// ErrNoConfig indicates no contributor record exists yet.
var ErrNoConfig = errors.New("contributor config not found")

// Config is the single local contributor record.
type Config struct {
	ID               string     `json:"id"`
	CreatedAt        time.Time  `json:"createdAt"`
	SyncOptIn        bool       `json:"syncOptIn"`
	TelemetryEnabled bool       `json:"telemetryEnabled"`
	SyncEnabledAt    *time.Time `json:"syncEnabledAt,omitempty"`
}

// Manager reads and mutates the contributor record for one workspace.
type Manager struct {
	root   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewManager creates a manager rooted at the given workspace directory.
func NewManager(workspaceRoot string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{root: workspaceRoot, logger: logger}
}

// path returns the contributor file location.
func (m *Manager) path() string {
	return filepath.Join(m.root, WorkspaceDir, idFileName)
}

// GetOrCreateID returns the workspace's contributor id, creating and
// persisting one on first use.
//
// Creation is idempotent across concurrent callers: the record is created
// with O_EXCL, and a caller losing that race re-reads the winner's id.
func (m *Manager) GetOrCreateID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.read()
	if err == nil {
		return cfg.ID, nil
	}
	if !errors.Is(err, ErrNoConfig) {
		return "", err
	}

	cfg = &Config{
		ID:        idPrefix + uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}

	if err := m.createExclusive(cfg); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another process created the record first; adopt its id.
			existing, readErr := m.read()
			if readErr != nil {
				return "", readErr
			}
			return existing.ID, nil
		}
		return "", err
	}

	m.logger.Info("created contributor id", zap.String("id", cfg.ID))
	return cfg.ID, nil
}

// GetConfig returns the current contributor record.
func (m *Manager) GetConfig() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// EnableSync opts the workspace into pattern sharing.
func (m *Manager) EnableSync() error {
	return m.update(func(cfg *Config) {
		cfg.SyncOptIn = true
		now := time.Now().UTC()
		cfg.SyncEnabledAt = &now
	})
}

// DisableSync opts the workspace out of pattern sharing.
func (m *Manager) DisableSync() error {
	return m.update(func(cfg *Config) {
		cfg.SyncOptIn = false
		cfg.SyncEnabledAt = nil
	})
}

// EnableTelemetry opts the workspace into usage event recording.
func (m *Manager) EnableTelemetry() error {
	return m.update(func(cfg *Config) {
		cfg.TelemetryEnabled = true
	})
}

// DisableTelemetry opts the workspace out of usage event recording.
func (m *Manager) DisableTelemetry() error {
	return m.update(func(cfg *Config) {
		cfg.TelemetryEnabled = false
	})
}

// TelemetryEnabled reports the opt-in flag, defaulting to false when no
// record exists or the read fails.
func (m *Manager) TelemetryEnabled() bool {
	cfg, err := m.GetConfig()
	if err != nil {
		return false
	}
	return cfg.TelemetryEnabled
}

// SyncEnabled reports the sync opt-in flag, defaulting to false.
func (m *Manager) SyncEnabled() bool {
	cfg, err := m.GetConfig()
	if err != nil {
		return false
	}
	return cfg.SyncOptIn
}

// ResetID replaces the contributor id with a fresh one, breaking continuity
// with previously synced data. Call sites require explicit confirmation.
func (m *Manager) ResetID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.read()
	if err != nil {
		if !errors.Is(err, ErrNoConfig) {
			return "", err
		}
		cfg = &Config{}
	}

	old := cfg.ID
	cfg.ID = idPrefix + uuid.New().String()
	cfg.CreatedAt = time.Now().UTC()

	if err := m.write(cfg); err != nil {
		return "", err
	}

	m.logger.Info("reset contributor id",
		zap.String("old_id", old),
		zap.String("new_id", cfg.ID),
	)
	return cfg.ID, nil
}

// update applies fn to the current record (creating one if needed) and
// persists the result.
func (m *Manager) update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.read()
	if err != nil {
		if !errors.Is(err, ErrNoConfig) {
			return err
		}
		cfg = &Config{
			ID:        idPrefix + uuid.New().String(),
			CreatedAt: time.Now().UTC(),
		}
	}

	fn(cfg)
	return m.write(cfg)
}

// read loads the contributor record from disk.
func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("failed to read contributor config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse contributor config: %w", err)
	}
	return &cfg, nil
}

// createExclusive persists a new record only if none exists yet.
func (m *Manager) createExclusive(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path()), 0700); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize contributor config: %w", err)
	}

	f, err := os.OpenFile(m.path(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write contributor config: %w", err)
	}
	return nil
}

// write atomically replaces the record (temp file + rename) so a concurrent
// reader never observes a half-written file.
func (m *Manager) write(cfg *Config) error {
	path := m.path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize contributor config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), idFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write contributor config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set contributor config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace contributor config: %w", err)
	}
	return nil
}

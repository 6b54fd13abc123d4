// Package identity provides slug generation, content hashing, and on-disk
// path resolution for patterns.
//
// A pattern's UUID is its only stable identity. Slugs are filesystem-safe
// derivatives of the pattern name used exclusively for filenames, and the
// content hash is a short digest used for registry-side deduplication.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MaxSlugLength is the maximum length of a generated slug.
	MaxSlugLength = 50

	// HashLength is the number of hex characters in a content hash.
	HashLength = 8
)

// ErrEmptySlug indicates a name produced no usable slug characters.
var ErrEmptySlug = errors.New("name yields an empty slug")

// metadataFields are stripped before hashing. Usage history and sync
// bookkeeping must not change a pattern's content identity.
var metadataFields = []string{
	"createdAt",
	"updatedAt",
	"metrics",
	"syncedAt",
	"syncedHash",
	"contributorId",
	"conflictVersion",
	"originalId",
}

// Slugify converts a pattern name into a filesystem-safe slug.
//
// Rules applied:
//   - Converts to lowercase
//   - Collapses runs of non-alphanumeric characters to single hyphens
//   - Trims leading/trailing hyphens
//   - Truncates to MaxSlugLength
//
// Returns ErrEmptySlug when the name contains no alphanumerics at all;
// pattern names must yield a non-empty slug.
func Slugify(name string) (string, error) {
	lower := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lower))
	lastHyphen := true // suppress a leading hyphen
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteRune('-')
			lastHyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptySlug, name)
	}

	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}

	return slug, nil
}

// Hash computes the deterministic content hash of a pattern.
//
// The pattern is serialized to JSON, metadata fields (timestamps, metrics,
// sync bookkeeping) are dropped, and the remainder is re-serialized with
// stable key order before digesting. Two patterns differing only by usage
// history or bookkeeping hash identically.
func Hash(pattern any) (string, error) {
	raw, err := json.Marshal(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to serialize pattern: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("failed to canonicalize pattern: %w", err)
	}

	for _, f := range metadataFields {
		delete(fields, f)
	}

	// encoding/json sorts map keys, so this encoding is stable across
	// runs and platforms.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize canonical form: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:HashLength], nil
}

// FilePath returns the on-disk path for a pattern within dir.
//
// With a name, the canonical form "{slug}-{id}.json" is used. Without one,
// the legacy form "{id}.json" is returned. Both forms resolve to the same
// pattern on lookup.
func FilePath(dir, id string, name ...string) (string, error) {
	if len(name) > 0 && name[0] != "" {
		slug, err := Slugify(name[0])
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, slug+"-"+id+".json"), nil
	}
	return filepath.Join(dir, id+".json"), nil
}

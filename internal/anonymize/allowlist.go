package anonymize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// AllowlistFileName is the per-project allowlist file searched for in the
// workspace root.
const AllowlistFileName = ".patternbank-allow.toml"

// Allowlist errors.
var (
	ErrInvalidAllowlistTOML  = errors.New("invalid allowlist TOML")
	ErrInvalidAllowlistRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds content patterns that must not be scrubbed, e.g. example
// domains used in documentation.
type Allowlist struct {
	regexes []*regexp.Regexp
}

// NewAllowlist compiles the given content regex patterns.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	al := &Allowlist{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAllowlistRegex, p, err)
		}
		al.regexes = append(al.regexes, re)
	}
	return al, nil
}

// Matches reports whether the content is allowlisted.
func (al *Allowlist) Matches(content string) bool {
	for _, re := range al.regexes {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// LoadAllowlists loads and merges the project and user allowlist files using
// union logic. Missing files are silently skipped; invalid TOML or regex
// patterns are errors.
//
// projectRoot: directory containing .patternbank-allow.toml (empty to skip)
// userPath: full path to a user allowlist file (empty to skip)
func LoadAllowlists(projectRoot, userPath string) (*Allowlist, error) {
	patterns := []string{}

	if projectRoot != "" {
		loaded, err := loadTOML(filepath.Join(projectRoot, AllowlistFileName))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			patterns = append(patterns, loaded...)
		}
	}

	if userPath != "" {
		loaded, err := loadTOML(userPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			patterns = append(patterns, loaded...)
		}
	}

	return NewAllowlist(patterns)
}

// loadTOML reads the [allowlist] regexes from one file.
func loadTOML(path string) ([]string, error) {
	var config struct {
		Allowlist struct {
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err // os.IsNotExist can identify this
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlistTOML, path, err)
	}

	// Validate patterns fail-fast so a broken file is caught at load time.
	for _, p := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidAllowlistRegex, p, path, err)
		}
	}

	return config.Allowlist.Regexes, nil
}

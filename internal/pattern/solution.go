package pattern

import (
	"errors"
	"fmt"
)

// Solution pattern validation errors.
var (
	ErrEmptyImplementation   = errors.New("implementation requires at least one file, dependency, or env var")
	ErrInvalidImplementation = errors.New("invalid implementation entry")
)

// ImplementationFile is one file written by a solution recipe.
type ImplementationFile struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// EnvVar is an environment variable a solution depends on.
type EnvVar struct {
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

// Implementation bundles everything a solution recipe installs: files,
// dependencies, and environment variables.
type Implementation struct {
	Files        []ImplementationFile `json:"files,omitempty"`
	Dependencies []string             `json:"dependencies,omitempty"`
	EnvVars      []EnvVar             `json:"envVars,omitempty"`
}

// SolutionPattern is an end-to-end recipe. It mirrors FixPattern but carries
// an implementation bundle instead of a trigger and stepwise solution.
type SolutionPattern struct {
	Envelope

	Category       FixCategory    `json:"category"`
	Implementation Implementation `json:"implementation"`
	Compatibility  Compatibility  `json:"compatibility"`
}

// NewSolution creates a private solution pattern with a fresh identity.
func NewSolution(name string, category FixCategory, impl Implementation, source Source) *SolutionPattern {
	return &SolutionPattern{
		Envelope:       newEnvelope(name, source),
		Category:       category,
		Implementation: impl,
	}
}

// Kind returns KindSolution.
func (p *SolutionPattern) Kind() Kind { return KindSolution }

// Validate checks the solution pattern against its schema.
func (p *SolutionPattern) Validate() error {
	if err := p.Envelope.validate(); err != nil {
		return err
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, p.Category)
	}
	impl := p.Implementation
	if len(impl.Files) == 0 && len(impl.Dependencies) == 0 && len(impl.EnvVars) == 0 {
		return ErrEmptyImplementation
	}
	for i, f := range impl.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file %d requires a path", ErrInvalidImplementation, i)
		}
	}
	for i, ev := range impl.EnvVars {
		if ev.Name == "" {
			return fmt.Errorf("%w: env var %d requires a name", ErrInvalidImplementation, i)
		}
	}
	return nil
}

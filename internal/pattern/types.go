// Package pattern defines the pattern kinds stored by patternbank: recorded
// fixes, project blueprints, and end-to-end solution recipes.
//
// All three kinds share a common envelope (identity, tags, usage metrics,
// privacy and sync bookkeeping) and differ only in their payload. Kinds are a
// closed set; adding a kind means adding a variant and its validator, not
// branching on strings.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern validation.
var (
	ErrInvalidID           = errors.New("pattern ID must be a valid UUID")
	ErrInvalidName         = errors.New("pattern name must be 3-100 characters")
	ErrDescriptionTooLong  = errors.New("description exceeds 500 characters")
	ErrInvalidKind         = errors.New("unknown pattern kind")
	ErrInvalidCategory     = errors.New("unknown fix category")
	ErrInvalidSource       = errors.New("unknown pattern source")
	ErrInvalidTrigger      = errors.New("trigger requires a valid error pattern regex")
	ErrInvalidSolutionType = errors.New("unknown solution type")
	ErrInvalidStep         = errors.New("invalid solution step")
	ErrInvalidTag          = errors.New("tag name cannot be empty")
)

const (
	minNameLength        = 3
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// DefaultDeprecationThreshold is the age past which an untouched pattern is
// considered deprecated on read.
const DefaultDeprecationThreshold = 365 * 24 * time.Hour

// Kind identifies a pattern variant.
type Kind string

const (
	// KindFix is a recorded fix for a recurring error.
	KindFix Kind = "fix"

	// KindBlueprint is a project scaffold blueprint.
	KindBlueprint Kind = "blueprint"

	// KindSolution is an end-to-end solution recipe.
	KindSolution Kind = "solution"
)

// Kinds lists every pattern kind.
func Kinds() []Kind {
	return []Kind{KindFix, KindBlueprint, KindSolution}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFix, KindBlueprint, KindSolution:
		return true
	}
	return false
}

// Directory returns the on-disk directory name for this kind.
func (k Kind) Directory() string {
	switch k {
	case KindFix:
		return "fixes"
	case KindBlueprint:
		return "blueprints"
	case KindSolution:
		return "solutions"
	}
	return string(k)
}

// Source records how a pattern entered the store.
type Source string

const (
	SourceManual    Source = "manual"
	SourceAutoHeal  Source = "auto-heal"
	SourceVerifyFix Source = "verify-fix"
	SourceImported  Source = "imported"
	SourceCommunity Source = "community"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceAutoHeal, SourceVerifyFix, SourceImported, SourceCommunity:
		return true
	}
	return false
}

// Tag labels a pattern for filtering.
type Tag struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Envelope holds the fields shared by every pattern kind.
//
// ID is the only stable identity; it never changes after creation and is
// independent of the on-disk filename. IsPrivate defaults to true: a pattern
// must be explicitly published before any sync push may include it.
type Envelope struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []Tag    `json:"tags,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Metrics     Metrics  `json:"metrics"`
	Source      Source   `json:"source"`
	IsPrivate   bool     `json:"isPrivate"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	DeprecatedAt      *time.Time `json:"deprecatedAt,omitempty"`
	DeprecationReason string     `json:"deprecationReason,omitempty"`

	// Sync bookkeeping. These fields never participate in content hashing.
	SyncedAt        *time.Time `json:"syncedAt,omitempty"`
	SyncedHash      string     `json:"syncedHash,omitempty"`
	ContributorID   string     `json:"contributorId,omitempty"`
	ConflictVersion int        `json:"conflictVersion,omitempty"`
	OriginalID      string     `json:"originalId,omitempty"`
}

// newEnvelope creates an envelope with a fresh UUID and private visibility.
func newEnvelope(name string, source Source) Envelope {
	now := time.Now().UTC()
	return Envelope{
		ID:        uuid.New().String(),
		Name:      name,
		Metrics:   NewMetrics(),
		Source:    source,
		IsPrivate: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// validate checks the shared envelope fields.
func (e *Envelope) validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, e.ID)
	}
	if len(e.Name) < minNameLength || len(e.Name) > maxNameLength {
		return fmt.Errorf("%w: got %d", ErrInvalidName, len(e.Name))
	}
	if len(e.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: got %d", ErrDescriptionTooLong, len(e.Description))
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, e.Source)
	}
	for i, tag := range e.Tags {
		if tag.Name == "" {
			return fmt.Errorf("%w: tag %d", ErrInvalidTag, i)
		}
	}
	return e.Metrics.Validate()
}

// IsDeprecated reports whether the pattern is deprecated at the given time.
//
// A pattern is deprecated iff DeprecatedAt is set, or it has not been updated
// within threshold. The age check is computed on read and never persisted.
func (e *Envelope) IsDeprecated(now time.Time, threshold time.Duration) bool {
	if e.DeprecatedAt != nil {
		return true
	}
	return now.Sub(e.UpdatedAt) > threshold
}

// Deprecate stamps the pattern as explicitly deprecated.
func (e *Envelope) Deprecate(reason string, now time.Time) {
	t := now.UTC()
	e.DeprecatedAt = &t
	e.DeprecationReason = reason
	e.UpdatedAt = t
}

// Publish clears the private flag, making the pattern eligible for sync.
func (e *Envelope) Publish(now time.Time) {
	e.IsPrivate = false
	e.UpdatedAt = now.UTC()
}

// FixCategory classifies a fix or solution pattern.
type FixCategory string

const (
	CategoryLint       FixCategory = "lint"
	CategoryTypeError  FixCategory = "type-error"
	CategoryDependency FixCategory = "dependency"
	CategoryConfig     FixCategory = "config"
	CategoryRuntime    FixCategory = "runtime"
	CategoryBuild      FixCategory = "build"
	CategoryTest       FixCategory = "test"
	CategorySecurity   FixCategory = "security"
)

// Valid reports whether c is a known category.
func (c FixCategory) Valid() bool {
	switch c {
	case CategoryLint, CategoryTypeError, CategoryDependency, CategoryConfig,
		CategoryRuntime, CategoryBuild, CategoryTest, CategorySecurity:
		return true
	}
	return false
}

// Trigger describes the error condition a fix pattern applies to.
type Trigger struct {
	// ErrorPattern is a regex matched against the observed error output.
	ErrorPattern string `json:"errorPattern"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	FilePattern  string `json:"filePattern,omitempty"`
	Context      string `json:"context,omitempty"`
}

// Validate checks that the trigger regex is present and compiles.
func (t *Trigger) Validate() error {
	if t.ErrorPattern == "" {
		return ErrInvalidTrigger
	}
	if _, err := regexp.Compile(t.ErrorPattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return nil
}

// SolutionType classifies what a fix changes.
type SolutionType string

const (
	SolutionCodeChange       SolutionType = "code-change"
	SolutionDependencyUpdate SolutionType = "dependency-update"
	SolutionConfigUpdate     SolutionType = "config-update"
	SolutionCommand          SolutionType = "command"
)

// Valid reports whether t is a known solution type.
func (t SolutionType) Valid() bool {
	switch t {
	case SolutionCodeChange, SolutionDependencyUpdate, SolutionConfigUpdate, SolutionCommand:
		return true
	}
	return false
}

// StepAction is the operation a solution step performs.
type StepAction string

const (
	ActionCreate  StepAction = "create"
	ActionModify  StepAction = "modify"
	ActionDelete  StepAction = "delete"
	ActionRun     StepAction = "run"
	ActionInstall StepAction = "install"
)

// Valid reports whether a is a known step action.
func (a StepAction) Valid() bool {
	switch a {
	case ActionCreate, ActionModify, ActionDelete, ActionRun, ActionInstall:
		return true
	}
	return false
}

// Step is one ordered operation within a solution.
type Step struct {
	Order       int        `json:"order"`
	Action      StepAction `json:"action"`
	Target      string     `json:"target"`
	Description string     `json:"description"`
	Content     string     `json:"content,omitempty"`
	Diff        string     `json:"diff,omitempty"`
}

// Validate checks a single step.
func (s *Step) Validate() error {
	if s.Order < 1 {
		return fmt.Errorf("%w: order must be >= 1", ErrInvalidStep)
	}
	if !s.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidStep, s.Action)
	}
	if s.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidStep)
	}
	if len(s.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidStep, maxDescriptionLength)
	}
	return nil
}

// Solution is the ordered remedy applied by a fix pattern.
type Solution struct {
	Type  SolutionType `json:"type"`
	Steps []Step       `json:"steps"`
}

// Validate checks the solution type and every step.
func (s *Solution) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSolutionType, s.Type)
	}
	for i := range s.Steps {
		if err := s.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Compatibility declares what environments a pattern applies to.
type Compatibility struct {
	Framework    string   `json:"framework"`
	VersionRange string   `json:"versionRange,omitempty"`
	Runtime      string   `json:"runtime,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

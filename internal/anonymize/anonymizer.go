// Package anonymize scrubs personally identifying content from patterns
// before they may leave the machine.
//
// The scrub pipeline replaces filesystem paths, usernames, email addresses,
// IP addresses, credentialed URLs, and secret-shaped tokens with fixed
// placeholders. A separate audit (ContainsPII, ValidateAnonymization) checks
// the result independently of the pipeline and gates pushes: a pattern that
// still matches after scrubbing blocks the push rather than leaking data.
package anonymize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/pattern"
)

// Report describes what a scrub changed.
type Report struct {
	// AnonymizedFields lists the fields that had content replaced, in
	// stable order.
	AnonymizedFields []string
}

// Anonymizer applies the scrub pipeline to strings and whole patterns.
// The zero value is not usable; construct with New.
type Anonymizer struct {
	rules     []Rule
	allowlist *Allowlist
	logger    *zap.Logger
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithAllowlist skips scrubbing for content matching the allowlist.
func WithAllowlist(al *Allowlist) Option {
	return func(a *Anonymizer) { a.allowlist = al }
}

// WithLogger attaches a logger for scrub diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Anonymizer) { a.logger = logger }
}

// New creates an Anonymizer with the default rule set.
func New(opts ...Option) *Anonymizer {
	a := &Anonymizer{
		rules:  defaultRules,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnonymizeString runs the scrub pipeline over one string and returns the
// scrubbed text along with the IDs of the rules that fired.
func (a *Anonymizer) AnonymizeString(s string) (string, []string) {
	if s == "" {
		return s, nil
	}

	fired := make(map[string]bool)

	// Windows paths are normalized to forward slashes first so the path
	// rules see a single shape.
	out := strings.ReplaceAll(s, `\`, `/`)
	if out != s {
		fired["path-normalization"] = true
	}

	for _, rule := range a.rules {
		replaced := rule.Pattern.ReplaceAllStringFunc(out, func(match string) string {
			if a.allowed(match) {
				return match
			}
			fired[rule.ID] = true
			if strings.Contains(rule.Replacement, "$") {
				result := []byte{}
				for _, sub := range rule.Pattern.FindAllStringSubmatchIndex(match, 1) {
					result = rule.Pattern.ExpandString(result, rule.Replacement, match, sub)
				}
				return string(result)
			}
			return rule.Replacement
		})
		out = replaced
	}

	// Usernames embedded in home directory paths.
	out = homeDirPattern.ReplaceAllStringFunc(out, func(match string) string {
		if a.allowed(match) {
			return match
		}
		fired["home-username"] = true
		return homeDirPattern.ReplaceAllString(match, "${1}"+PlaceholderUser)
	})

	// Absolute paths are abbreviated to their last three segments. Relative
	// paths are left alone beyond slash normalization, and the boundary
	// group keeps URLs out of reach; it is put back in front of the
	// abbreviation.
	out = absolutePathPattern.ReplaceAllStringFunc(out, func(match string) string {
		sub := absolutePathPattern.FindStringSubmatch(match)
		boundary, path := sub[1], sub[2]
		if a.allowed(path) {
			return match
		}
		fired["absolute-path"] = true
		return boundary + abbreviatePath(path)
	})

	return out, sortedKeys(fired)
}

// abbreviatePath keeps the last three segments of an absolute path behind
// the path placeholder.
func abbreviatePath(path string) string {
	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) > 3 {
		segments = segments[len(segments)-3:]
	}
	return PlaceholderPath + "/" + strings.Join(segments, "/")
}

// allowed reports whether the match is covered by the allowlist.
func (a *Anonymizer) allowed(match string) bool {
	return a.allowlist != nil && a.allowlist.Matches(match)
}

// AnonymizeFix returns a scrubbed copy of a fix pattern. The input is never
// mutated; the contributor id is stripped entirely.
func (a *Anonymizer) AnonymizeFix(p *pattern.FixPattern) (*pattern.FixPattern, *Report, error) {
	clone := &pattern.FixPattern{}
	if err := deepCopy(p, clone); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	a.scrubEnvelope(&clone.Envelope, report)
	a.scrubField(&clone.Trigger.ErrorMessage, "trigger.errorMessage", report)
	a.scrubField(&clone.Trigger.FilePattern, "trigger.filePattern", report)
	a.scrubField(&clone.Trigger.Context, "trigger.context", report)
	for i := range clone.Solution.Steps {
		step := &clone.Solution.Steps[i]
		prefix := fmt.Sprintf("solution.steps[%d]", i)
		a.scrubField(&step.Target, prefix+".target", report)
		a.scrubField(&step.Description, prefix+".description", report)
		a.scrubField(&step.Content, prefix+".content", report)
		a.scrubField(&step.Diff, prefix+".diff", report)
	}

	a.logScrub("fix", clone.ID, report)
	return clone, report, nil
}

// AnonymizeBlueprint returns a scrubbed copy of a blueprint.
func (a *Anonymizer) AnonymizeBlueprint(p *pattern.Blueprint) (*pattern.Blueprint, *Report, error) {
	clone := &pattern.Blueprint{}
	if err := deepCopy(p, clone); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	a.scrubEnvelope(&clone.Envelope, report)
	for i := range clone.Structure.KeyFiles {
		kf := &clone.Structure.KeyFiles[i]
		prefix := fmt.Sprintf("structure.keyFiles[%d]", i)
		a.scrubField(&kf.Template, prefix+".template", report)
		a.scrubField(&kf.Description, prefix+".description", report)
	}
	for i := range clone.Setup.Steps {
		step := &clone.Setup.Steps[i]
		prefix := fmt.Sprintf("setup.steps[%d]", i)
		a.scrubField(&step.Command, prefix+".command", report)
		a.scrubField(&step.Description, prefix+".description", report)
	}
	for i := range clone.Setup.ConfigFiles {
		cf := &clone.Setup.ConfigFiles[i]
		a.scrubField(&cf.Content, fmt.Sprintf("setup.configFiles[%d].content", i), report)
	}

	a.logScrub("blueprint", clone.ID, report)
	return clone, report, nil
}

// AnonymizeSolution returns a scrubbed copy of a solution pattern.
func (a *Anonymizer) AnonymizeSolution(p *pattern.SolutionPattern) (*pattern.SolutionPattern, *Report, error) {
	clone := &pattern.SolutionPattern{}
	if err := deepCopy(p, clone); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	a.scrubEnvelope(&clone.Envelope, report)
	for i := range clone.Implementation.Files {
		f := &clone.Implementation.Files[i]
		prefix := fmt.Sprintf("implementation.files[%d]", i)
		a.scrubField(&f.Content, prefix+".content", report)
		a.scrubField(&f.Description, prefix+".description", report)
	}
	for i := range clone.Implementation.EnvVars {
		ev := &clone.Implementation.EnvVars[i]
		prefix := fmt.Sprintf("implementation.envVars[%d]", i)
		a.scrubField(&ev.Value, prefix+".value", report)
		a.scrubField(&ev.Description, prefix+".description", report)
	}

	a.logScrub("solution", clone.ID, report)
	return clone, report, nil
}

// scrubEnvelope handles the fields shared by every kind. The contributor id
// never travels inside a shared payload; the registry client attaches it
// transport-side instead.
func (a *Anonymizer) scrubEnvelope(e *pattern.Envelope, report *Report) {
	a.scrubField(&e.Description, "description", report)
	if e.ContributorID != "" {
		e.ContributorID = ""
		report.AnonymizedFields = append(report.AnonymizedFields, "contributorId")
	}
}

// scrubField scrubs one string in place and records the field name when
// anything changed.
func (a *Anonymizer) scrubField(s *string, field string, report *Report) {
	if *s == "" {
		return
	}
	scrubbed, fired := a.AnonymizeString(*s)
	if len(fired) > 0 {
		*s = scrubbed
		report.AnonymizedFields = append(report.AnonymizedFields, field)
	}
}

func (a *Anonymizer) logScrub(kind, id string, report *Report) {
	if len(report.AnonymizedFields) > 0 {
		a.logger.Debug("anonymized pattern",
			zap.String("kind", kind),
			zap.String("pattern_id", id),
			zap.Strings("fields", report.AnonymizedFields),
		)
	}
}

// deepCopy clones src into dst via a JSON round trip.
func deepCopy(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to clone pattern: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to clone pattern: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

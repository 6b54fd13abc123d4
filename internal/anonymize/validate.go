package anonymize

import (
	"encoding/json"
	"fmt"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Validation audits a pattern after scrubbing. It is deliberately
// independent of the scrub pipeline: the detection probes are separate
// regexes, and a gitleaks pass adds several hundred secret rules on top, so
// a pipeline bug cannot silently hide leaked data.

// Issue is one audit finding.
type Issue struct {
	// Field locates the finding; "(document)" when the probe ran over the
	// serialized pattern as a whole.
	Field string `json:"field"`

	// Rule is the probe or gitleaks rule that fired.
	Rule string `json:"rule"`

	// Description is human-readable context for the finding.
	Description string `json:"description,omitempty"`
}

// Validator audits patterns for residual PII.
type Validator struct {
	allowlist *Allowlist
	detector  *detect.Detector
}

// NewValidator constructs a validator with the built-in probes plus the
// gitleaks default rule set.
func NewValidator(allowlist *Allowlist) (*Validator, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret detector: %w", err)
	}
	return &Validator{allowlist: allowlist, detector: detector}, nil
}

// ContainsPII reports whether the text still matches any detection probe.
func (v *Validator) ContainsPII(text string) bool {
	for _, probe := range piiProbes {
		for _, match := range probe.Pattern.FindAllString(text, -1) {
			if v.allowlist != nil && v.allowlist.Matches(match) {
				continue
			}
			return true
		}
	}
	return false
}

// ValidateAnonymization audits a scrubbed pattern. It serializes the
// pattern and runs every probe plus the gitleaks detector over the full
// document. A pattern with issues must block the push.
func (v *Validator) ValidateAnonymization(p any) (bool, []Issue, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, nil, fmt.Errorf("failed to serialize pattern for audit: %w", err)
	}
	doc := string(data)

	var issues []Issue
	for _, probe := range piiProbes {
		for _, match := range probe.Pattern.FindAllString(doc, -1) {
			if v.allowlist != nil && v.allowlist.Matches(match) {
				continue
			}
			issues = append(issues, Issue{
				Field: "(document)",
				Rule:  probe.ID,
			})
			break // one issue per probe is enough to block
		}
	}

	for _, finding := range v.detector.DetectString(doc) {
		if v.allowlist != nil && v.allowlist.Matches(finding.Secret) {
			continue
		}
		issues = append(issues, Issue{
			Field:       "(document)",
			Rule:        "gitleaks:" + finding.RuleID,
			Description: finding.Description,
		})
	}

	return len(issues) == 0, issues, nil
}

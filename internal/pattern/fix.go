package pattern

import "fmt"

// FixPattern records a reusable remedy for a recurring error: what triggers
// it, the ordered steps that resolve it, and the environments it applies to.
type FixPattern struct {
	Envelope

	Category      FixCategory   `json:"category"`
	Trigger       Trigger       `json:"trigger"`
	Solution      Solution      `json:"solution"`
	Compatibility Compatibility `json:"compatibility"`
}

// NewFix creates a private fix pattern with a fresh identity.
func NewFix(name string, category FixCategory, trigger Trigger, solution Solution, source Source) *FixPattern {
	return &FixPattern{
		Envelope: newEnvelope(name, source),
		Category: category,
		Trigger:  trigger,
		Solution: solution,
	}
}

// Kind returns KindFix.
func (p *FixPattern) Kind() Kind { return KindFix }

// Validate checks the fix against its schema. Validation failures reject the
// pattern before any disk write.
func (p *FixPattern) Validate() error {
	if err := p.Envelope.validate(); err != nil {
		return err
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, p.Category)
	}
	if err := p.Trigger.Validate(); err != nil {
		return err
	}
	return p.Solution.Validate()
}

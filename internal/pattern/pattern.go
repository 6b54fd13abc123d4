package pattern

// Pattern is implemented by every pattern kind. It exposes the shared
// envelope without callers needing to branch on the concrete type.
type Pattern interface {
	Kind() Kind
	Validate() error
	Meta() *Envelope
}

// Meta returns the shared envelope.
func (p *FixPattern) Meta() *Envelope { return &p.Envelope }

// Meta returns the shared envelope.
func (p *Blueprint) Meta() *Envelope { return &p.Envelope }

// Meta returns the shared envelope.
func (p *SolutionPattern) Meta() *Envelope { return &p.Envelope }

var (
	_ Pattern = (*FixPattern)(nil)
	_ Pattern = (*Blueprint)(nil)
	_ Pattern = (*SolutionPattern)(nil)
)

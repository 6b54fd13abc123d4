package pattern

import (
	"errors"
	"fmt"
)

// Blueprint validation errors.
var (
	ErrInvalidStack     = errors.New("blueprint stack requires a framework and language")
	ErrInvalidSetupStep = errors.New("invalid setup step")
	ErrInvalidKeyFile   = errors.New("key file requires a path")
)

// Stack declares the technology choices a blueprint scaffolds.
type Stack struct {
	Framework      string   `json:"framework"`
	Language       string   `json:"language"`
	Runtime        string   `json:"runtime,omitempty"`
	PackageManager string   `json:"packageManager,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// KeyFile is a notable file in a blueprint's layout, optionally with a
// template body.
type KeyFile struct {
	Path        string `json:"path"`
	Template    string `json:"template,omitempty"`
	Description string `json:"description,omitempty"`
}

// Structure describes the directory layout a blueprint produces.
type Structure struct {
	Directories []string  `json:"directories,omitempty"`
	KeyFiles    []KeyFile `json:"keyFiles,omitempty"`
}

// SetupStep is one ordered command in a blueprint's setup sequence.
type SetupStep struct {
	Order       int    `json:"order"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// ConfigFile is a configuration file written during setup.
type ConfigFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Setup lists what must happen to bring a scaffolded project to life.
type Setup struct {
	Prerequisites []string     `json:"prerequisites,omitempty"`
	Steps         []SetupStep  `json:"steps,omitempty"`
	ConfigFiles   []ConfigFile `json:"configFiles,omitempty"`
}

// Blueprint is a reusable project scaffold: a stack, a directory structure,
// and the setup sequence to initialize it.
type Blueprint struct {
	Envelope

	Stack           Stack     `json:"stack"`
	Structure       Structure `json:"structure"`
	Setup           Setup     `json:"setup"`
	RelatedPatterns []string  `json:"relatedPatterns,omitempty"`
}

// NewBlueprint creates a private blueprint with a fresh identity.
func NewBlueprint(name string, stack Stack, structure Structure, setup Setup, source Source) *Blueprint {
	return &Blueprint{
		Envelope:  newEnvelope(name, source),
		Stack:     stack,
		Structure: structure,
		Setup:     setup,
	}
}

// Kind returns KindBlueprint.
func (p *Blueprint) Kind() Kind { return KindBlueprint }

// Validate checks the blueprint against its schema.
func (p *Blueprint) Validate() error {
	if err := p.Envelope.validate(); err != nil {
		return err
	}
	if p.Stack.Framework == "" || p.Stack.Language == "" {
		return ErrInvalidStack
	}
	for i, kf := range p.Structure.KeyFiles {
		if kf.Path == "" {
			return fmt.Errorf("%w: key file %d", ErrInvalidKeyFile, i)
		}
	}
	for i, step := range p.Setup.Steps {
		if step.Order < 1 {
			return fmt.Errorf("%w: step %d order must be >= 1", ErrInvalidSetupStep, i)
		}
		if step.Command == "" {
			return fmt.Errorf("%w: step %d command is required", ErrInvalidSetupStep, i)
		}
	}
	return nil
}

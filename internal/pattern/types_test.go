package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFix() *FixPattern {
	return NewFix(
		"Fix Memory Leak",
		CategoryRuntime,
		Trigger{ErrorPattern: `heap out of memory`},
		Solution{
			Type: SolutionCodeChange,
			Steps: []Step{
				{Order: 1, Action: ActionModify, Target: "src/server.ts", Description: "close the watcher"},
			},
		},
		SourceManual,
	)
}

func TestNewFix(t *testing.T) {
	p := validFix()

	assert.NotEmpty(t, p.ID)
	assert.True(t, p.IsPrivate, "new patterns must default to private")
	assert.Equal(t, KindFix, p.Kind())
	assert.False(t, p.CreatedAt.IsZero())
	require.NoError(t, p.Validate())
}

func TestFixPattern_Validate(t *testing.T) {
	t.Run("rejects short name", func(t *testing.T) {
		p := validFix()
		p.Name = "ab"
		assert.ErrorIs(t, p.Validate(), ErrInvalidName)
	})

	t.Run("rejects long description", func(t *testing.T) {
		p := validFix()
		p.Description = string(make([]byte, 501))
		assert.ErrorIs(t, p.Validate(), ErrDescriptionTooLong)
	})

	t.Run("rejects unknown category", func(t *testing.T) {
		p := validFix()
		p.Category = "styling"
		assert.ErrorIs(t, p.Validate(), ErrInvalidCategory)
	})

	t.Run("rejects missing trigger regex", func(t *testing.T) {
		p := validFix()
		p.Trigger.ErrorPattern = ""
		assert.ErrorIs(t, p.Validate(), ErrInvalidTrigger)
	})

	t.Run("rejects non-compiling trigger regex", func(t *testing.T) {
		p := validFix()
		p.Trigger.ErrorPattern = "[unclosed"
		assert.ErrorIs(t, p.Validate(), ErrInvalidTrigger)
	})

	t.Run("rejects step order below one", func(t *testing.T) {
		p := validFix()
		p.Solution.Steps[0].Order = 0
		assert.ErrorIs(t, p.Validate(), ErrInvalidStep)
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		p := validFix()
		p.Source = "scraped"
		assert.ErrorIs(t, p.Validate(), ErrInvalidSource)
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		p := validFix()
		p.ID = "not-a-uuid"
		assert.ErrorIs(t, p.Validate(), ErrInvalidID)
	})
}

func TestBlueprint_Validate(t *testing.T) {
	bp := NewBlueprint(
		"Next.js API Service",
		Stack{Framework: "nextjs", Language: "typescript"},
		Structure{Directories: []string{"src", "src/api"}},
		Setup{Steps: []SetupStep{{Order: 1, Command: "npm install"}}},
		SourceManual,
	)
	require.NoError(t, bp.Validate())

	t.Run("rejects missing stack", func(t *testing.T) {
		broken := *bp
		broken.Stack.Language = ""
		assert.ErrorIs(t, broken.Validate(), ErrInvalidStack)
	})

	t.Run("rejects setup step without command", func(t *testing.T) {
		broken := *bp
		broken.Setup = Setup{Steps: []SetupStep{{Order: 1}}}
		assert.ErrorIs(t, broken.Validate(), ErrInvalidSetupStep)
	})
}

func TestSolutionPattern_Validate(t *testing.T) {
	sp := NewSolution(
		"Add Rate Limiting Middleware",
		CategorySecurity,
		Implementation{
			Files:        []ImplementationFile{{Path: "middleware/ratelimit.ts", Content: "export default limiter"}},
			Dependencies: []string{"express-rate-limit"},
		},
		SourceVerifyFix,
	)
	require.NoError(t, sp.Validate())

	t.Run("rejects empty implementation", func(t *testing.T) {
		broken := *sp
		broken.Implementation = Implementation{}
		assert.ErrorIs(t, broken.Validate(), ErrEmptyImplementation)
	})
}

func TestEnvelope_IsDeprecated(t *testing.T) {
	now := time.Now()

	t.Run("age past threshold deprecates", func(t *testing.T) {
		p := validFix()
		p.UpdatedAt = now.Add(-400 * 24 * time.Hour)
		assert.True(t, p.IsDeprecated(now, DefaultDeprecationThreshold))
	})

	t.Run("recent pattern is not deprecated", func(t *testing.T) {
		p := validFix()
		p.UpdatedAt = now.Add(-17 * 24 * time.Hour)
		assert.False(t, p.IsDeprecated(now, DefaultDeprecationThreshold))
	})

	t.Run("explicit deprecation wins regardless of age", func(t *testing.T) {
		p := validFix()
		p.UpdatedAt = now
		p.Deprecate("superseded by v2", now)
		assert.True(t, p.IsDeprecated(now, DefaultDeprecationThreshold))
		assert.Equal(t, "superseded by v2", p.DeprecationReason)
	})
}

func TestEnvelope_Publish(t *testing.T) {
	p := validFix()
	require.True(t, p.IsPrivate)

	p.Publish(time.Now())
	assert.False(t, p.IsPrivate)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "fixes", KindFix.Directory())
	assert.Equal(t, "blueprints", KindBlueprint.Directory())
	assert.Equal(t, "solutions", KindSolution.Directory())
	assert.False(t, Kind("recipe").Valid())
	assert.Len(t, Kinds(), 3)
}

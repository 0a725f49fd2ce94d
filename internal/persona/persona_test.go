package persona

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
bot_name: Juno
owner_name: "@sunny_dev"
description: a warm, playful companion who chats like a close friend
flirting_allowed: true
tone_instructions:
  neutral: "Keep the reply even and friendly."
  casual: "Be relaxed, use contractions and light slang."
  excited: "Match the energy, be enthusiastic."
  sad: "Be gentle and supportive, no forced cheer."
  formal: "Be polite and composed, skip slang."
  flirty: "Be charming and playful while staying respectful."
  unknown: "Stay friendly and ask a light follow-up."
fallback_replies:
  casual:
    - "Sorry, my brain's having a moment! Try that again?"
    - "Hmm, I didn't quite catch that. What were you saying?"
  formal:
    - "I apologize, I'm having difficulty processing that right now."
sanitizer_filler: "Hmm, say that again?"
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "Juno", cfg.BotName)
	assert.True(t, cfg.FlirtingAllowed)
	assert.Equal(t, "Be gentle and supportive, no forced cheer.", cfg.Instruction("sad"))
}

func TestValidateMissingIdentity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing bot name", func(c *Config) { c.BotName = " " }, "bot_name"},
		{"missing owner", func(c *Config) { c.OwnerName = "" }, "owner_name"},
		{"missing description", func(c *Config) { c.Description = "" }, "description"},
		{"missing tone map", func(c *Config) { c.ToneInstruction = nil }, "tone_instructions"},
		{"missing flirty tone", func(c *Config) { delete(c.ToneInstruction, "flirty") }, "tone_instructions.flirty"},
		{"missing fallbacks", func(c *Config) { c.FallbackReplies.Formal = nil }, "fallback_replies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestInstructionFallsBackToNeutral(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, cfg.ToneInstruction["neutral"], cfg.Instruction("angry"))
}

func TestFallbackSelection(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, cfg.FallbackReplies.Formal[0], cfg.Fallback("formal", 0))
	assert.Equal(t, cfg.FallbackReplies.Casual[1], cfg.Fallback("casual", 1))
	// Rotation wraps and negative counters stay in range.
	assert.Equal(t, cfg.FallbackReplies.Casual[0], cfg.Fallback("excited", 2))
	assert.NotEmpty(t, cfg.Fallback("casual", -3))
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("bot_name: [unclosed"))
	require.Error(t, err)
}

func TestSanitizerFillerDefault(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	cfg.SanitizerFiller = ""
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.SanitizerFiller)
}

package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigurationError marks a malformed or incomplete persona configuration. The
// composer refuses to build an unbranded prompt, so this is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("persona: invalid configuration: %s %s", e.Field, e.Reason)
}

// Config describes the bot's identity and response styling. NameKeywords are
// the nicknames and name variations that count as addressing the bot in a
// group chat; the bot name itself always counts.
type Config struct {
	BotName         string            `yaml:"bot_name"`
	OwnerName       string            `yaml:"owner_name"`
	Description     string            `yaml:"description"`
	NameKeywords    []string          `yaml:"name_keywords"`
	FlirtingAllowed bool              `yaml:"flirting_allowed"`
	ToneInstruction map[string]string `yaml:"tone_instructions"`
	FallbackReplies FallbackReplies   `yaml:"fallback_replies"`
	SanitizerFiller string            `yaml:"sanitizer_filler"`
}

// FallbackReplies are the on-persona degraded replies used when the AI backend
// is unavailable. Formal tones get the formal set, everything else the casual set.
type FallbackReplies struct {
	Casual []string `yaml:"casual"`
	Formal []string `yaml:"formal"`
}

// requiredTones must each have an instruction fragment so the composer never
// falls through to an empty mapping.
var requiredTones = []string{"neutral", "casual", "excited", "sad", "formal", "flirty", "unknown"}

// Load reads a persona file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates persona YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("persona: failed to decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the identity fields the composer depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BotName) == "" {
		return &ConfigurationError{Field: "bot_name", Reason: "is required"}
	}
	if strings.TrimSpace(c.OwnerName) == "" {
		return &ConfigurationError{Field: "owner_name", Reason: "is required"}
	}
	if strings.TrimSpace(c.Description) == "" {
		return &ConfigurationError{Field: "description", Reason: "is required"}
	}
	if len(c.ToneInstruction) == 0 {
		return &ConfigurationError{Field: "tone_instructions", Reason: "is required"}
	}
	for _, tone := range requiredTones {
		if strings.TrimSpace(c.ToneInstruction[tone]) == "" {
			return &ConfigurationError{Field: "tone_instructions." + tone, Reason: "is missing"}
		}
	}
	if len(c.FallbackReplies.Casual) == 0 || len(c.FallbackReplies.Formal) == 0 {
		return &ConfigurationError{Field: "fallback_replies", Reason: "needs casual and formal sets"}
	}
	if strings.TrimSpace(c.SanitizerFiller) == "" {
		c.SanitizerFiller = "Hmm, say that again?"
	}
	return nil
}

// Instruction returns the tone-adapted instruction fragment, falling back to the
// neutral entry for tones outside the mapping.
func (c *Config) Instruction(tone string) string {
	if text, ok := c.ToneInstruction[tone]; ok {
		return text
	}
	return c.ToneInstruction["neutral"]
}

// Fallback picks a degraded reply appropriate for the tone. The index is
// caller-supplied so the service can rotate without persona holding state.
func (c *Config) Fallback(tone string, n int) string {
	set := c.FallbackReplies.Casual
	if tone == "formal" {
		set = c.FallbackReplies.Formal
	}
	if len(set) == 0 {
		return c.SanitizerFiller
	}
	if n < 0 {
		n = -n
	}
	return set[n%len(set)]
}

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectTone(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"no keywords", "the meeting is at three", ToneNeutral},
		{"empty", "", ToneNeutral},
		{"casual slang", "lol yeah that was wild tbh", ToneCasual},
		{"excited word", "that concert was awesome, amazing night", ToneExcited},
		{"excited punctuation", "we won!! we actually won!!", ToneExcited},
		{"shouting", "I PASSED THE EXAM", ToneExcited},
		{"sad words", "i'm feeling really sad and lonely today", ToneSad},
		{"trailing ellipsis alone is weak sad", "well... the meeting is at three", ToneSad},
		{"formal request", "could you please advise, i would appreciate your guidance", ToneFormal},
		{"flirty words", "you're so cute, wanna go on a date me thinks", ToneFlirty},
		{"flirty emoji", "good morning 😘", ToneFlirty},
		{"flirty outranks casual on tie-break", "haha you're gorgeous lol cute", ToneFlirty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTone(tt.text))
		})
	}
}

func TestDetectToneDeterministic(t *testing.T) {
	text := "haha omg you're amazing!! love it"
	first := DetectTone(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, DetectTone(text))
	}
}

func TestClassifyLanguageFallsBackToPrior(t *testing.T) {
	c := New("en")

	// Too short for reliable detection: prior turn language wins.
	res := c.Classify("ok", "hi")
	assert.Equal(t, "hi", res.Language)

	// No prior language either: configured default.
	res = c.Classify("ok", "")
	assert.Equal(t, "en", res.Language)

	res = c.Classify("ok", LanguageUnknown)
	assert.Equal(t, "en", res.Language)
}

func TestClassifyDetectsObviousLanguages(t *testing.T) {
	c := New("en")

	res := c.Classify("The weather has been really nice this whole week, do you want to go hiking with me on saturday morning?", "")
	assert.Equal(t, "en", res.Language)

	res = c.Classify("Это предложение написано на русском языке и оно достаточно длинное для определения", "en")
	assert.Equal(t, "ru", res.Language)
}

func TestClassifyNoToneKeywordsYieldsNeutral(t *testing.T) {
	c := New("en")
	res := c.Classify("the package arrives tomorrow", "fr")
	assert.Equal(t, ToneNeutral, res.Tone)
}

func TestHasFlirtSignal(t *testing.T) {
	assert.True(t, HasFlirtSignal("hey cutie, you're gorgeous"))
	assert.True(t, HasFlirtSignal("miss u babe"))
	assert.False(t, HasFlirtSignal("what's the capital of France?"))
	assert.False(t, HasFlirtSignal(""))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "hello   there\n\tfriend", "hello there friend"},
		{"caps bangs", "no way!!!!!", "no way!!"},
		{"caps questions", "why????", "why??"},
		{"caps ellipsis", "hmm......", "hmm..."},
		{"keeps short runs", "really?? wow!!", "really?? wow!!"},
		{"trims", "  hi  ", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

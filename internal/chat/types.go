package chat

import (
	"fmt"
	"strings"

	"gemini-media-chat/internal/gemini"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one displayed turn. Entries are never edited after
// they are appended.
type TranscriptEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// GenerationParams are the sampling controls bound to a Conversation.
type GenerationParams struct {
	Temperature     float64 `json:"temperature" toml:"temperature"`
	TopP            float64 `json:"top_p" toml:"top_p"`
	TopK            int     `json:"top_k" toml:"top_k"`
	MaxOutputTokens int     `json:"max_output_tokens" toml:"max_output_tokens"`
}

func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:     0.7,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 4096,
	}
}

func (p GenerationParams) Validate() error {
	switch {
	case p.Temperature < 0 || p.Temperature > 1:
		return fmt.Errorf("%w: temperature %.2f outside [0,1]", ErrConfig, p.Temperature)
	case p.TopP < 0 || p.TopP > 1:
		return fmt.Errorf("%w: top_p %.2f outside [0,1]", ErrConfig, p.TopP)
	case p.TopK < 1 || p.TopK > 100:
		return fmt.Errorf("%w: top_k %d outside [1,100]", ErrConfig, p.TopK)
	case p.MaxOutputTokens < 1 || p.MaxOutputTokens > 8192:
		return fmt.Errorf("%w: max_output_tokens %d outside [1,8192]", ErrConfig, p.MaxOutputTokens)
	}
	return nil
}

func (p GenerationParams) wire() gemini.GenerationConfig {
	return gemini.GenerationConfig{
		Temperature:     p.Temperature,
		TopP:            p.TopP,
		TopK:            p.TopK,
		MaxOutputTokens: p.MaxOutputTokens,
	}
}

type HarmCategory string

const (
	CategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	CategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	CategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	CategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

var categoryLabels = map[HarmCategory]string{
	CategoryHarassment:       "Harassment",
	CategoryHateSpeech:       "Hate Speech",
	CategorySexuallyExplicit: "Sexually Explicit",
	CategoryDangerousContent: "Dangerous Content",
}

// Categories returns the configurable harm categories in display order.
func Categories() []HarmCategory {
	return []HarmCategory{
		CategoryHarassment,
		CategoryHateSpeech,
		CategorySexuallyExplicit,
		CategoryDangerousContent,
	}
}

// Label is the human-readable category name. Unknown categories are derived
// from the enum value, e.g. HARM_CATEGORY_CIVIC_INTEGRITY -> Civic Integrity.
func (c HarmCategory) Label() string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return titleWords(strings.TrimPrefix(string(c), "HARM_CATEGORY_"))
}

type Threshold string

const (
	BlockNone           Threshold = "BLOCK_NONE"
	BlockOnlyHigh       Threshold = "BLOCK_ONLY_HIGH"
	BlockMediumAndAbove Threshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockLowAndAbove    Threshold = "BLOCK_LOW_AND_ABOVE"
)

func Thresholds() []Threshold {
	return []Threshold{BlockNone, BlockOnlyHigh, BlockMediumAndAbove, BlockLowAndAbove}
}

func (t Threshold) valid() bool {
	for _, v := range Thresholds() {
		if v == t {
			return true
		}
	}
	return false
}

// SafetyThresholds maps each harm category to its blocking threshold.
type SafetyThresholds map[HarmCategory]Threshold

func DefaultSafetyThresholds() SafetyThresholds {
	out := make(SafetyThresholds, 4)
	for _, c := range Categories() {
		out[c] = BlockMediumAndAbove
	}
	return out
}

// normalized validates s and fills categories it leaves out with the default.
func (s SafetyThresholds) normalized() (SafetyThresholds, error) {
	out := DefaultSafetyThresholds()
	for c, t := range s {
		if _, ok := categoryLabels[c]; !ok {
			return nil, fmt.Errorf("%w: unknown harm category %q", ErrConfig, c)
		}
		if !t.valid() {
			return nil, fmt.Errorf("%w: unknown threshold %q for %s", ErrConfig, t, c)
		}
		out[c] = t
	}
	return out, nil
}

func (s SafetyThresholds) Validate() error {
	_, err := s.normalized()
	return err
}

func (s SafetyThresholds) Equal(other SafetyThresholds) bool {
	if len(s) != len(other) {
		return false
	}
	for c, t := range s {
		if other[c] != t {
			return false
		}
	}
	return true
}

func (s SafetyThresholds) clone() SafetyThresholds {
	out := make(SafetyThresholds, len(s))
	for c, t := range s {
		out[c] = t
	}
	return out
}

func (s SafetyThresholds) wire() []gemini.SafetySetting {
	out := make([]gemini.SafetySetting, 0, len(s))
	for _, c := range Categories() {
		if t, ok := s[c]; ok {
			out = append(out, gemini.SafetySetting{Category: string(c), Threshold: string(t)})
		}
	}
	return out
}

func titleWords(value string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(value), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

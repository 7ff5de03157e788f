package prompts

import (
	"strings"

	"gemini-media-chat/internal/media"
)

// Preset is a canned quick-analysis prompt.
type Preset struct {
	Key    string `toml:"key" json:"key"`
	Name   string `toml:"name" json:"name"`
	Prompt string `toml:"prompt" json:"prompt"`
}

// Catalog holds the presets offered for each media kind, in display order.
type Catalog map[media.Kind][]Preset

func Default() Catalog {
	return Catalog{
		media.KindImage: {
			{Key: "describe", Name: "Describe", Prompt: "Describe this image in detail."},
			{Key: "objects", Name: "Identify Objects", Prompt: "List and describe the main objects in this image."},
			{Key: "colors", Name: "Analyze Colors", Prompt: "Analyze the color palette and mood of this image."},
			{Key: "text", Name: "Detect Text", Prompt: "Identify and transcribe any text visible in this image."},
			{Key: "caption", Name: "Suggest Caption", Prompt: "Suggest a creative caption for this image."},
		},
		media.KindVideo: {
			{Key: "describe", Name: "Describe", Prompt: "Describe what happens in this scene."},
			{Key: "objects", Name: "Identify Objects", Prompt: "List and describe the main objects and people in this scene."},
			{Key: "summary", Name: "Summarize", Prompt: "Summarize this moment of the video in one or two sentences."},
			{Key: "text", Name: "Detect Text", Prompt: "Identify and transcribe any text visible in this scene."},
		},
		media.KindAudio: {
			{Key: "transcribe", Name: "Transcribe", Prompt: "Transcribe the speech in this audio."},
			{Key: "summary", Name: "Summarize", Prompt: "Summarize the content of this audio."},
			{Key: "sounds", Name: "Identify Sounds", Prompt: "Identify the speakers, music and other sounds in this audio."},
			{Key: "mood", Name: "Analyze Mood", Prompt: "Describe the tone and mood of this audio."},
		},
	}
}

func (c Catalog) For(kind media.Kind) []Preset {
	out := make([]Preset, len(c[kind]))
	copy(out, c[kind])
	return out
}

// Lookup matches a preset by key or display name, case-insensitively.
func (c Catalog) Lookup(kind media.Kind, keyOrName string) (Preset, bool) {
	keyOrName = strings.TrimSpace(keyOrName)
	for _, p := range c[kind] {
		if strings.EqualFold(p.Key, keyOrName) || strings.EqualFold(p.Name, keyOrName) {
			return p, true
		}
	}
	return Preset{}, false
}

// Merge returns c with every kind present in overlay replaced by the
// overlay's presets. Presets without a prompt are skipped.
func (c Catalog) Merge(overlay Catalog) Catalog {
	out := make(Catalog, len(c))
	for kind, presets := range c {
		out[kind] = append([]Preset(nil), presets...)
	}
	for kind, presets := range overlay {
		kept := make([]Preset, 0, len(presets))
		for _, p := range presets {
			if strings.TrimSpace(p.Prompt) == "" {
				continue
			}
			if p.Key == "" {
				p.Key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p.Name), " ", "_"))
			}
			if p.Name == "" {
				p.Name = p.Key
			}
			kept = append(kept, p)
		}
		if len(kept) > 0 {
			out[kind] = kept
		}
	}
	return out
}

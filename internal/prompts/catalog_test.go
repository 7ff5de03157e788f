package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-media-chat/internal/media"
)

func TestDefaultImagePresets(t *testing.T) {
	c := Default()
	names := make([]string, 0)
	for _, p := range c.For(media.KindImage) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Describe", "Identify Objects", "Analyze Colors", "Detect Text", "Suggest Caption"}, names)
	assert.NotEmpty(t, c.For(media.KindVideo))
	assert.NotEmpty(t, c.For(media.KindAudio))
}

func TestLookup(t *testing.T) {
	c := Default()

	p, ok := c.Lookup(media.KindImage, "detect text")
	require.True(t, ok)
	assert.Equal(t, "Identify and transcribe any text visible in this image.", p.Prompt)

	p, ok = c.Lookup(media.KindAudio, "TRANSCRIBE")
	require.True(t, ok)
	assert.Equal(t, "transcribe", p.Key)

	_, ok = c.Lookup(media.KindImage, "transcribe")
	assert.False(t, ok)
}

func TestForReturnsCopy(t *testing.T) {
	c := Default()
	presets := c.For(media.KindImage)
	presets[0].Prompt = "changed"

	assert.Equal(t, "Describe this image in detail.", c.For(media.KindImage)[0].Prompt)
}

func TestMerge(t *testing.T) {
	merged := Default().Merge(Catalog{
		media.KindAudio: {
			{Name: "Count Speakers", Prompt: "How many people speak?"},
			{Name: "Empty"},
		},
	})

	audio := merged.For(media.KindAudio)
	require.Len(t, audio, 1)
	assert.Equal(t, "count_speakers", audio[0].Key)
	assert.Len(t, merged.For(media.KindImage), 5)
}

package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitByBytes(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitByBytes("short", 10))

	parts := splitByBytes(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), "aaaaa"}, parts)

	// Multi-byte runes are never split.
	parts = splitByBytes("ééééé", 3)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 3)
		assert.Equal(t, "é", p)
	}
}

func TestTruncateByBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateByBytes("abc", 5))
	assert.Equal(t, "ab", truncateByBytes("abc", 2))
	assert.Equal(t, "é", truncateByBytes("éé", 3))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/ogg", contentType(" audio/ogg; codecs=opus"))
	assert.Equal(t, "", contentType("application/octet-stream"))
	assert.Equal(t, "image/jpeg", contentType("IMAGE/JPEG"))
}

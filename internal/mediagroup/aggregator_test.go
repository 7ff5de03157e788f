package mediagroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlbumFlushesInMessageOrder(t *testing.T) {
	flushed := make(chan Group, 1)
	a := New(Options{Debounce: 20 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	a.Add(Item{ChatID: 1, UserID: 7, GroupID: "g", MessageID: 12, FileID: "c"})
	a.Add(Item{ChatID: 1, UserID: 7, GroupID: "g", MessageID: 10, FileID: "a", Caption: "what are these?"})
	a.Add(Item{ChatID: 1, UserID: 7, GroupID: "g", MessageID: 11, FileID: "b"})

	select {
	case g := <-flushed:
		assert.Equal(t, []string{"a", "b", "c"}, g.FileIDs)
		assert.Equal(t, "what are these?", g.Caption)
		assert.Equal(t, int64(7), g.UserID)
	case <-time.After(time.Second):
		t.Fatal("album was not flushed")
	}
	assert.Equal(t, 0, a.Pending())
}

func TestSeparateAlbumsPerChat(t *testing.T) {
	flushed := make(chan Group, 2)
	a := New(Options{Debounce: 50 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	a.Add(Item{ChatID: 1, GroupID: "g", FileID: "a"})
	a.Add(Item{ChatID: 2, GroupID: "g", FileID: "b"})
	a.Add(Item{ChatID: 2, FileID: "ignored"})
	require.Equal(t, 2, a.Pending())

	require.Eventually(t, func() bool { return len(flushed) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, a.Pending())
}

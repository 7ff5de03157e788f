// Package mediagroup collects the messages of a Telegram album and emits them
// as one ordered batch once the album stops growing.
package mediagroup

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultDebounce = 1200 * time.Millisecond

type Item struct {
	ChatID    int64
	UserID    int64
	GroupID   string
	MessageID int
	Caption   string
	FileID    string
}

// Group is a flushed album. FileIDs follow message order.
type Group struct {
	ChatID  int64
	UserID  int64
	Caption string
	FileIDs []string
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Group)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Group)
	pending  map[string]*album
}

type album struct {
	chatID  int64
	userID  int64
	caption string
	items   []Item
	timer   *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		pending:  make(map[string]*album),
	}
}

// Add buffers item and restarts its album's debounce timer. Items without a
// group or file are ignored.
func (a *Aggregator) Add(item Item) {
	if item.GroupID == "" || item.FileID == "" {
		return
	}
	key := albumKey(item.ChatID, item.GroupID)

	a.mu.Lock()
	defer a.mu.Unlock()

	al, ok := a.pending[key]
	if !ok {
		al = &album{chatID: item.ChatID, userID: item.UserID}
		a.pending[key] = al
	}
	al.items = append(al.items, item)
	if item.Caption != "" {
		al.caption = item.Caption
	}

	if al.timer != nil {
		al.timer.Stop()
	}
	al.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
}

// Pending reports how many albums are waiting for their timer.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	al, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(al.group())
	}
}

func (al *album) group() Group {
	items := append([]Item(nil), al.items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].MessageID < items[j].MessageID })

	fileIDs := make([]string, 0, len(items))
	for _, it := range items {
		fileIDs = append(fileIDs, it.FileID)
	}
	return Group{
		ChatID:  al.chatID,
		UserID:  al.userID,
		Caption: al.caption,
		FileIDs: fileIDs,
	}
}

func albumKey(chatID int64, groupID string) string {
	return fmt.Sprintf("%d:%s", chatID, groupID)
}

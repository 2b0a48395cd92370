// Package notify holds the single transient notification shown to the user.
package notify

import (
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/models"
)

// Recorder keeps a durable history of shown notifications.
type Recorder interface {
	CreateNotification(kind models.NotificationKind, message string) (*models.StoredNotification, error)
}

// Event is delivered to subscribers. Cleared is set when the notification
// with the given ID has expired.
type Event struct {
	Notification models.Notification
	Cleared      bool
}

type Board struct {
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	seq     uint64
	current *models.Notification
	subs    map[chan Event]struct{}
}

func NewBoard(recorder Recorder) *Board {
	return &Board{
		recorder: recorder,
		now:      time.Now,
		subs:     make(map[chan Event]struct{}),
	}
}

// Show replaces the current notification and clears it after ttl. A timer
// belonging to an earlier notification never clears a later one.
func (b *Board) Show(kind models.NotificationKind, message string, ttl time.Duration) models.Notification {
	b.mu.Lock()
	b.seq++
	now := b.now()
	n := models.Notification{
		ID:        b.seq,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	b.current = &n
	b.publishLocked(Event{Notification: n})
	b.mu.Unlock()

	time.AfterFunc(ttl, func() { b.clear(n.ID) })

	if b.recorder != nil {
		if _, err := b.recorder.CreateNotification(kind, message); err != nil {
			log.Warn().Err(err).Msg("Failed to record notification")
		}
	}
	log.Info().Str("kind", string(kind)).Str("message", message).Msg("Notification shown")
	return n
}

// Current returns the active notification, if any has not yet expired.
func (b *Board) Current() (models.Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || !b.now().Before(b.current.ExpiresAt) {
		return models.Notification{}, false
	}
	return *b.current, true
}

// Subscribe returns a channel of show/clear events and a function that
// releases it. Slow subscribers miss events rather than block the board.
func (b *Board) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Board) clear(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || b.current.ID != id {
		return
	}
	n := *b.current
	b.current = nil
	b.publishLocked(Event{Notification: n, Cleared: true})
}

func (b *Board) publishLocked(ev Event) {
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Uint64("id", ev.Notification.ID).Msg("Dropping notification event for slow subscriber")
		}
	}
}

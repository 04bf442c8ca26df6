package relay

import (
	"sync"
	"time"
)

type typingKey struct {
	conversationID string
	userID         string
}

// Typing holds typing indicators that expire after ttl without a refresh.
type Typing struct {
	mu     sync.Mutex
	timers map[typingKey]*time.Timer
	ttl    time.Duration
}

func NewTyping(ttl time.Duration) *Typing {
	return &Typing{timers: make(map[typingKey]*time.Timer), ttl: ttl}
}

// Start marks the user as typing and (re)arms expiry. It reports whether the
// user was not already typing.
func (t *Typing) Start(conversationID, userID string, expired func()) bool {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[key]; ok {
		existing.Stop()
		t.timers[key] = t.arm(key, expired)
		return false
	}
	t.timers[key] = t.arm(key, expired)
	return true
}

func (t *Typing) arm(key typingKey, expired func()) *time.Timer {
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		current, ok := t.timers[key]
		if !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()
		expired()
	})
	return timer
}

// Stop clears the indicator and reports whether it was set.
func (t *Typing) Stop(conversationID, userID string) bool {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// ClearUser stops every indicator of userID and returns their conversations.
func (t *Typing) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var convs []string
	for key, timer := range t.timers {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(t.timers, key)
		convs = append(convs, key.conversationID)
	}
	return convs
}

// Stop all timers.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}

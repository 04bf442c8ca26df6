package relay

import (
	"sort"
	"sync"
	"time"
)

// Presence tracks open connections per user. A user goes offline only after
// the last connection has been gone for the grace window.
type Presence struct {
	mu      sync.Mutex
	conns   map[string]map[string]struct{}
	pending map[string]*time.Timer
	grace   time.Duration
}

func NewPresence(grace time.Duration) *Presence {
	return &Presence{
		conns:   make(map[string]map[string]struct{}),
		pending: make(map[string]*time.Timer),
		grace:   grace,
	}
}

// Connect records a connection and reports whether the user came online.
// Reconnecting inside the grace window does not count as coming online.
func (p *Presence) Connect(userID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timer, ok := p.pending[userID]; ok {
		timer.Stop()
		delete(p.pending, userID)
		p.add(userID, connID)
		return false
	}
	first := len(p.conns[userID]) == 0
	p.add(userID, connID)
	return first
}

func (p *Presence) add(userID, connID string) {
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	set[connID] = struct{}{}
}

// Disconnect removes a connection and reports whether it was the user's last.
// In that case offline runs after the grace window unless the user reconnects
// first.
func (p *Presence) Disconnect(userID, connID string, offline func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}
	delete(p.conns, userID)

	if p.grace <= 0 {
		go offline()
		return true
	}
	var timer *time.Timer
	timer = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		current, ok := p.pending[userID]
		if !ok || current != timer || len(p.conns[userID]) > 0 {
			p.mu.Unlock()
			return
		}
		delete(p.pending, userID)
		p.mu.Unlock()
		offline()
	})
	p.pending[userID] = timer
	return true
}

// IsOnline reports whether the user has an open connection or is inside the
// grace window.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, pending := p.pending[userID]
	return len(p.conns[userID]) > 0 || pending
}

// Online lists users with at least one open connection.
func (p *Presence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.conns))
	for id := range p.conns {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Stop cancels pending offline timers.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.pending {
		t.Stop()
		delete(p.pending, id)
	}
}

// Package gate serializes generations per user and suppresses messages
// sent while a user's previous message was being answered.
package gate

import (
	"context"
	"log"
	"sync"
	"time"
)

// Window is one user's processing interval. End is zero while the window
// is open.
type Window struct {
	Processing bool
	Start      time.Time
	End        time.Time
}

type Gate struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time
}

func New() *Gate {
	return &Gate{windows: make(map[string]*Window), now: time.Now}
}

// Start opens a new window for userID. It returns false, changing nothing,
// when the user already has a generation running.
func (g *Gate) Start(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[userID]
	if ok && w.Processing {
		log.Printf("[Gate] user=%s already processing, rejecting", userID)
		return false
	}
	if !ok {
		w = &Window{}
		g.windows[userID] = w
	}
	w.Processing = true
	w.Start = g.now()
	w.End = time.Time{}
	log.Printf("[Gate] user=%s processing started", userID)
	return true
}

// Finish closes the user's open window.
func (g *Gate) Finish(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[userID]
	if !ok || !w.Processing {
		log.Printf("[Gate] WARN finish for user=%s who is not processing", userID)
		return
	}
	w.Processing = false
	w.End = g.now()
	log.Printf("[Gate] user=%s processing finished cost=%s", userID, w.End.Sub(w.Start))
}

// ShouldIgnore reports whether a message sent at sentAt is stale: sent
// during the running window, or inside the most recent closed window
// (both ends included).
func (g *Gate) ShouldIgnore(userID string, sentAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[userID]
	if !ok {
		return false
	}
	if w.Processing {
		if !sentAt.Before(w.Start) {
			log.Printf("[Gate] ignore user=%s: sent during current window", userID)
			return true
		}
		return false
	}
	if w.End.IsZero() {
		return false
	}
	if !sentAt.Before(w.Start) && !sentAt.After(w.End) {
		log.Printf("[Gate] ignore user=%s: sent during previous window", userID)
		return true
	}
	return false
}

func (g *Gate) IsProcessing(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[userID]
	return ok && w.Processing
}

func (g *Gate) ProcessingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.windows {
		if w.Processing {
			n++
		}
	}
	return n
}

// CleanupStale releases windows that have been open longer than timeout,
// e.g. left behind by a generation that crashed before Finish.
func (g *Gate) CleanupStale(timeout time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for userID, w := range g.windows {
		if w.Processing && now.Sub(w.Start) > timeout {
			w.Processing = false
			w.End = now
			n++
			log.Printf("[Gate] WARN released stale window user=%s age=%s", userID, now.Sub(w.Start))
		}
	}
	if n > 0 {
		log.Printf("[Gate] released %d stale windows", n)
	}
	return n
}

// ClearAll drops every window and returns how many were processing.
func (g *Gate) ClearAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.windows {
		if w.Processing {
			n++
		}
	}
	g.windows = make(map[string]*Window)
	log.Printf("[Gate] cleared all windows processing=%d", n)
	return n
}

type UserStatus struct {
	UserID   string        `json:"user_id"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

type Report struct {
	ProcessingCount int          `json:"processing_count"`
	Users           []UserStatus `json:"users"`
	Timestamp       time.Time    `json:"timestamp"`
}

func (g *Gate) Status() Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	r := Report{Timestamp: now, Users: []UserStatus{}}
	for userID, w := range g.windows {
		if !w.Processing {
			continue
		}
		r.Users = append(r.Users, UserStatus{UserID: userID, Start: w.Start, Duration: now.Sub(w.Start)})
	}
	r.ProcessingCount = len(r.Users)
	return r
}

// RunJanitor calls CleanupStale every interval until ctx is done.
func (g *Gate) RunJanitor(ctx context.Context, every, timeout time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.CleanupStale(timeout)
		}
	}
}

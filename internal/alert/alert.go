// Package alert delivers operational alerts to the admin list, with a
// cool-down so a flapping job does not flood the chat.
package alert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Defaults for the de-duplication window.
const (
	DefaultCooldown = 30 * time.Minute
	maxEntries      = 100
	entryMaxAge     = 24 * time.Hour
	keyErrLen       = 80
)

// SendFunc delivers one direct message to a user on the chat platform.
type SendFunc func(ctx context.Context, userID int64, text string) error

// Notifier sends critical, warning and recovery notices to admins.
type Notifier struct {
	send     SendFunc
	adminIDs []int64
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // dedup key -> last sent
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Send     SendFunc
	AdminIDs []int64
	Cooldown time.Duration    // defaults to DefaultCooldown
	Now      func() time.Time // defaults to time.Now; injectable for tests
}

// NewNotifier creates a Notifier.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if opts.Send == nil {
		return nil, fmt.Errorf("alert: send func is required")
	}
	if len(opts.AdminIDs) == 0 {
		return nil, fmt.Errorf("alert: at least one admin id is required")
	}
	n := &Notifier{
		send:     opts.Send,
		adminIDs: opts.AdminIDs,
		cooldown: opts.Cooldown,
		now:      opts.Now,
		seen:     make(map[string]time.Time),
	}
	if n.cooldown <= 0 {
		n.cooldown = DefaultCooldown
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n, nil
}

// Critical reports a failure of component. Repeats of the same
// component/error pair inside the cool-down are suppressed.
func (n *Notifier) Critical(ctx context.Context, component string, err error) {
	n.deliver(ctx, component, err, fmt.Sprintf("🔴 %s failed: %v", component, err))
}

// Warning reports a degraded but non-fatal condition.
func (n *Notifier) Warning(ctx context.Context, component, detail string) {
	n.deliver(ctx, component, fmt.Errorf("%s", detail), fmt.Sprintf("🟡 %s: %s", component, detail))
}

// Recovery reports that a previously failing component succeeded again.
// Recoveries are never suppressed.
func (n *Notifier) Recovery(ctx context.Context, component string) {
	n.broadcast(ctx, fmt.Sprintf("🟢 %s recovered", component))
	// Forget the failure keys so the next incident alerts immediately.
	n.mu.Lock()
	for k := range n.seen {
		if len(k) >= len(component) && k[:len(component)] == component {
			delete(n.seen, k)
		}
	}
	n.mu.Unlock()
}

func (n *Notifier) deliver(ctx context.Context, component string, err error, text string) {
	key := dedupKey(component, err)
	now := n.now()

	n.mu.Lock()
	if last, ok := n.seen[key]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return
	}
	n.evictLocked(now)
	n.seen[key] = now
	n.mu.Unlock()

	n.broadcast(ctx, text)
}

func (n *Notifier) broadcast(ctx context.Context, text string) {
	for _, id := range n.adminIDs {
		if err := n.send(ctx, id, text); err != nil {
			log.Printf("alert: send to admin %d: %v", id, err)
		}
	}
}

// evictLocked drops aged entries and, if the map is still full, the
// oldest one. Caller holds mu.
func (n *Notifier) evictLocked(now time.Time) {
	for k, at := range n.seen {
		if now.Sub(at) > entryMaxAge {
			delete(n.seen, k)
		}
	}
	for len(n.seen) >= maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range n.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(n.seen, oldestKey)
	}
}

// dedupKey identifies an alert by component plus the head of the error
// text, so the same failure reworded with a changing suffix (ids,
// timestamps) still collapses.
func dedupKey(component string, err error) string {
	msg := err.Error()
	if len(msg) > keyErrLen {
		msg = msg[:keyErrLen]
	}
	return component + "|" + msg
}

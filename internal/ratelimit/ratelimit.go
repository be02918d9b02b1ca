// Package ratelimit admits or rejects inbound events per user using
// sliding windows, with a full-block cool-down once either profile
// trips.
package ratelimit

import (
	"hash/fnv"
	"log"
	"sync"
	"time"
)

// EventKind selects the limit profile an event is counted under.
type EventKind int

const (
	// MessageEvent is a free-text message (tight profile).
	MessageEvent EventKind = iota
	// ActionEvent is a structured button action (loose profile).
	ActionEvent
)

// Default limit profiles and cool-downs.
const (
	DefaultMessageLimit  = 5
	DefaultMessageWindow = 10 * time.Second
	DefaultActionLimit   = 50
	DefaultActionWindow  = time.Minute
	DefaultBlockDuration = time.Minute
)

const shardCount = 32

// window is the per-user admission record.
type window struct {
	messages     []time.Time
	actions      []time.Time
	blockedUntil time.Time
}

type shard struct {
	mu    sync.Mutex
	users map[int64]*window
}

// Limiter is the keyed sliding-window rate limiter.
type Limiter struct {
	messageLimit  int
	messageWindow time.Duration
	actionLimit   int
	actionWindow  time.Duration
	blockDuration time.Duration
	now           func() time.Time
	shards        [shardCount]shard
}

// LimiterOpts holds parameters for creating a Limiter. Zero values take
// the package defaults.
type LimiterOpts struct {
	MessageLimit  int
	MessageWindow time.Duration
	ActionLimit   int
	ActionWindow  time.Duration
	BlockDuration time.Duration
	Now           func() time.Time // defaults to time.Now; injectable for tests
}

// NewLimiter creates a Limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	l := &Limiter{
		messageLimit:  opts.MessageLimit,
		messageWindow: opts.MessageWindow,
		actionLimit:   opts.ActionLimit,
		actionWindow:  opts.ActionWindow,
		blockDuration: opts.BlockDuration,
		now:           opts.Now,
	}
	if l.messageLimit <= 0 {
		l.messageLimit = DefaultMessageLimit
	}
	if l.messageWindow <= 0 {
		l.messageWindow = DefaultMessageWindow
	}
	if l.actionLimit <= 0 {
		l.actionLimit = DefaultActionLimit
	}
	if l.actionWindow <= 0 {
		l.actionWindow = DefaultActionWindow
	}
	if l.blockDuration <= 0 {
		l.blockDuration = DefaultBlockDuration
	}
	if l.now == nil {
		l.now = time.Now
	}
	for i := range l.shards {
		l.shards[i].users = make(map[int64]*window)
	}
	return l
}

func (l *Limiter) shardFor(userID int64) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return &l.shards[h.Sum32()&(shardCount-1)]
}

// prune drops timestamps older than the window.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Admit counts one event against the user's profile for kind and
// reports whether it may proceed. Tripping either profile blocks the
// user from all admission for the block duration; once the block
// elapses the record is evicted, so the next window starts clean.
func (l *Limiter) Admit(userID int64, kind EventKind) bool {
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	w, ok := sh.users[userID]
	if ok && !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return false
		}
		// Block elapsed: evict, don't just unblock.
		delete(sh.users, userID)
		w = nil
		ok = false
	}
	if !ok {
		w = &window{}
		sh.users[userID] = w
	}

	var (
		ts     *[]time.Time
		limit  int
		period time.Duration
	)
	switch kind {
	case ActionEvent:
		ts, limit, period = &w.actions, l.actionLimit, l.actionWindow
	default:
		ts, limit, period = &w.messages, l.messageLimit, l.messageWindow
	}

	*ts = prune(*ts, now, period)
	if len(*ts) >= limit {
		w.blockedUntil = now.Add(l.blockDuration)
		log.Printf("ratelimit: user %d blocked for %v (kind=%d)", userID, l.blockDuration, kind)
		return false
	}
	*ts = append(*ts, now)
	return true
}

// Blocked reports whether the user is currently in a block cool-down.
func (l *Limiter) Blocked(userID int64) bool {
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.users[userID]
	return ok && !w.blockedUntil.IsZero() && l.now().Before(w.blockedUntil)
}

// Sweep purges stale windows and expired blocks. Run on a timer
// independent of request traffic to bound memory.
func (l *Limiter) Sweep() {
	now := l.now()
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for id, w := range sh.users {
			if !w.blockedUntil.IsZero() {
				if !now.Before(w.blockedUntil) {
					delete(sh.users, id)
				}
				continue
			}
			w.messages = prune(w.messages, now, l.messageWindow)
			w.actions = prune(w.actions, now, l.actionWindow)
			if len(w.messages) == 0 && len(w.actions) == 0 {
				delete(sh.users, id)
			}
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of users with live admission records.
func (l *Limiter) Len() int {
	total := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		total += len(sh.users)
		sh.mu.Unlock()
	}
	return total
}

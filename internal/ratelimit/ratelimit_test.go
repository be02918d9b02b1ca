package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(LimiterOpts{Now: clock.Now})
	return l, clock
}

func TestAdmit_MessageBurstTripsBlock(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < DefaultMessageLimit; i++ {
		if !l.Admit(7, MessageEvent) {
			t.Fatalf("message %d rejected inside limit", i+1)
		}
	}
	if l.Admit(7, MessageEvent) {
		t.Fatal("message over limit admitted")
	}
	if !l.Blocked(7) {
		t.Fatal("user not blocked after tripping limit")
	}
}

func TestAdmit_BlockCoversBothKinds(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i <= DefaultMessageLimit; i++ {
		l.Admit(7, MessageEvent)
	}
	if l.Admit(7, ActionEvent) {
		t.Fatal("action admitted while message block active")
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(t)

	for i := 0; i < DefaultMessageLimit; i++ {
		l.Admit(7, MessageEvent)
	}
	clock.Advance(DefaultMessageWindow + time.Second)
	if !l.Admit(7, MessageEvent) {
		t.Fatal("message rejected after window slid past earlier entries")
	}
}

func TestAdmit_FreshWindowAfterBlockElapses(t *testing.T) {
	l, clock := newTestLimiter(t)

	for i := 0; i <= DefaultMessageLimit; i++ {
		l.Admit(7, MessageEvent)
	}
	if l.Admit(7, MessageEvent) {
		t.Fatal("admitted during block")
	}

	clock.Advance(DefaultBlockDuration + time.Second)
	if l.Blocked(7) {
		t.Fatal("still blocked after block duration elapsed")
	}
	// The record was evicted, so a full fresh burst is available.
	for i := 0; i < DefaultMessageLimit; i++ {
		if !l.Admit(7, MessageEvent) {
			t.Fatalf("message %d rejected in fresh window after block", i+1)
		}
	}
}

func TestAdmit_ActionProfileIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < DefaultActionLimit; i++ {
		if !l.Admit(7, ActionEvent) {
			t.Fatalf("action %d rejected inside limit", i+1)
		}
	}
	if l.Admit(7, ActionEvent) {
		t.Fatal("action over limit admitted")
	}
}

func TestAdmit_UsersIsolated(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i <= DefaultMessageLimit; i++ {
		l.Admit(1, MessageEvent)
	}
	if !l.Admit(2, MessageEvent) {
		t.Fatal("unrelated user affected by another user's block")
	}
}

func TestSweep_EvictsStaleAndExpired(t *testing.T) {
	l, clock := newTestLimiter(t)

	l.Admit(1, MessageEvent)
	for i := 0; i <= DefaultMessageLimit; i++ {
		l.Admit(2, MessageEvent)
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	clock.Advance(DefaultBlockDuration + time.Second)
	l.Sweep()
	if got := l.Len(); got != 0 {
		t.Fatalf("Len() after sweep = %d, want 0", got)
	}
}

func TestAdmit_Concurrent(t *testing.T) {
	l := NewLimiter(LimiterOpts{})

	var wg sync.WaitGroup
	for u := int64(0); u < 16; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Admit(userID, ActionEvent)
			}
		}(u)
	}
	wg.Wait()

	if got := l.Len(); got != 16 {
		t.Fatalf("Len() = %d, want 16", got)
	}
}

// Package session tracks short-lived per-user state: the role picked at
// /start, the active provider selection, the two-phase capture scratch
// (SIP, then error code), and the support-mode flag.
//
// Role lives for the whole interaction and survives ClearEphemeral. The
// selection and capture fields carry independent TTLs; a read past the
// TTL reports the value as absent and evicts it.
package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// Role is the session-level identity a user picked at /start.
type Role string

const (
	RoleUnset    Role = ""
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleConsole  Role = "console"
)

// ErrInvalidArgument is returned for empty or malformed set arguments.
var ErrInvalidArgument = errors.New("session: invalid argument")

// Default TTLs for the expiring fields.
const (
	DefaultSelectionTTL = 30 * time.Minute
	DefaultCaptureTTL   = 10 * time.Minute
)

// shardCount spreads users across independent locks so distinct users
// never contend. Power of two.
const shardCount = 32

// Selection is the user's active provider choice.
type Selection struct {
	Name string
	Code string
}

// expiring pairs a value with its capture instant. All TTL checks and
// evictions go through read() so no call site compares timestamps by
// hand.
type expiring[T any] struct {
	value      T
	capturedAt time.Time
}

// read returns the value if it is still within ttl of now. The second
// return is false for expired values; the caller evicts.
func (e *expiring[T]) read(now time.Time, ttl time.Duration) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	if now.Sub(e.capturedAt) > ttl {
		return zero, false
	}
	return e.value, true
}

// state is everything tracked for one user.
type state struct {
	role        Role
	selection   *expiring[Selection]
	sip         *expiring[string]
	errorCode   *expiring[string]
	supportMode bool
}

// empty reports whether the state carries nothing worth keeping.
func (s *state) empty() bool {
	return s.role == RoleUnset && s.selection == nil && s.sip == nil &&
		s.errorCode == nil && !s.supportMode
}

type shard struct {
	mu    sync.Mutex
	users map[int64]*state
}

// Store is the keyed ephemeral session table.
type Store struct {
	selectionTTL time.Duration
	captureTTL   time.Duration
	now          func() time.Time
	shards       [shardCount]shard
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	SelectionTTL time.Duration    // defaults to DefaultSelectionTTL
	CaptureTTL   time.Duration    // defaults to DefaultCaptureTTL
	Now          func() time.Time // defaults to time.Now; injectable for tests
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) *Store {
	st := &Store{
		selectionTTL: opts.SelectionTTL,
		captureTTL:   opts.CaptureTTL,
		now:          opts.Now,
	}
	if st.selectionTTL <= 0 {
		st.selectionTTL = DefaultSelectionTTL
	}
	if st.captureTTL <= 0 {
		st.captureTTL = DefaultCaptureTTL
	}
	if st.now == nil {
		st.now = time.Now
	}
	for i := range st.shards {
		st.shards[i].users = make(map[int64]*state)
	}
	return st
}

func (s *Store) shardFor(userID int64) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return &s.shards[h.Sum32()&(shardCount-1)]
}

// locked runs fn with the user's shard locked, creating the state entry
// if needed.
func (s *Store) locked(userID int64, fn func(st *state)) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.users[userID]
	if !ok {
		st = &state{}
		sh.users[userID] = st
	}
	fn(st)
	if st.empty() {
		delete(sh.users, userID)
	}
}

// SetRole records the user's role. Role survives ClearEphemeral.
func (s *Store) SetRole(userID int64, role Role) error {
	switch role {
	case RoleOperator, RoleAdmin, RoleConsole:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	s.locked(userID, func(st *state) {
		st.role = role
	})
	return nil
}

// Role returns the user's role, or RoleUnset if never set.
func (s *Store) Role(userID int64) Role {
	var role Role
	s.locked(userID, func(st *state) {
		role = st.role
	})
	return role
}

// SetActiveSelection records the user's provider choice. Both strings
// are required.
func (s *Store) SetActiveSelection(userID int64, name, code string) error {
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" {
		return fmt.Errorf("%w: selection name is empty", ErrInvalidArgument)
	}
	if code == "" {
		return fmt.Errorf("%w: selection code is empty", ErrInvalidArgument)
	}
	s.locked(userID, func(st *state) {
		st.selection = &expiring[Selection]{
			value:      Selection{Name: name, Code: code},
			capturedAt: s.now(),
		}
	})
	return nil
}

// ActiveSelection returns the current selection. Absent both when never
// set and when the TTL elapsed; an expired entry is evicted.
func (s *Store) ActiveSelection(userID int64) (Selection, bool) {
	var (
		sel Selection
		ok  bool
	)
	s.locked(userID, func(st *state) {
		sel, ok = st.selection.read(s.now(), s.selectionTTL)
		if !ok {
			st.selection = nil
		}
	})
	return sel, ok
}

// ClearSelection drops the active selection.
func (s *Store) ClearSelection(userID int64) {
	s.locked(userID, func(st *state) {
		st.selection = nil
	})
}

// SetSip records the first phase of the capture scratch.
func (s *Store) SetSip(userID int64, sip string) error {
	sip = strings.TrimSpace(sip)
	if sip == "" {
		return fmt.Errorf("%w: sip is empty", ErrInvalidArgument)
	}
	s.locked(userID, func(st *state) {
		st.sip = &expiring[string]{value: sip, capturedAt: s.now()}
	})
	return nil
}

// Sip returns the captured SIP, evicting it when expired.
func (s *Store) Sip(userID int64) (string, bool) {
	var (
		sip string
		ok  bool
	)
	s.locked(userID, func(st *state) {
		sip, ok = st.sip.read(s.now(), s.captureTTL)
		if !ok {
			st.sip = nil
		}
	})
	return sip, ok
}

// SetErrorCode records the second phase of the capture scratch.
func (s *Store) SetErrorCode(userID int64, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: error code is empty", ErrInvalidArgument)
	}
	s.locked(userID, func(st *state) {
		st.errorCode = &expiring[string]{value: code, capturedAt: s.now()}
	})
	return nil
}

// ErrorCode returns the captured error code, evicting it when expired.
func (s *Store) ErrorCode(userID int64) (string, bool) {
	var (
		code string
		ok   bool
	)
	s.locked(userID, func(st *state) {
		code, ok = st.errorCode.read(s.now(), s.captureTTL)
		if !ok {
			st.errorCode = nil
		}
	})
	return code, ok
}

// HasCapture reports whether any capture scratch is live. The router's
// digit guard keys off this.
func (s *Store) HasCapture(userID int64) bool {
	var has bool
	s.locked(userID, func(st *state) {
		now := s.now()
		if _, ok := st.sip.read(now, s.captureTTL); ok {
			has = true
		} else {
			st.sip = nil
		}
		if _, ok := st.errorCode.read(now, s.captureTTL); ok {
			has = true
		} else {
			st.errorCode = nil
		}
	})
	return has
}

// ClearCapture drops both capture scratch values.
func (s *Store) ClearCapture(userID int64) {
	s.locked(userID, func(st *state) {
		st.sip = nil
		st.errorCode = nil
	})
}

// SetSupportMode toggles support-question capture for the next message.
func (s *Store) SetSupportMode(userID int64, enabled bool) {
	s.locked(userID, func(st *state) {
		st.supportMode = enabled
	})
}

// SupportMode reports whether support-question capture is active.
func (s *Store) SupportMode(userID int64) bool {
	var on bool
	s.locked(userID, func(st *state) {
		on = st.supportMode
	})
	return on
}

// ClearEphemeral removes the selection, capture scratch, and support
// flag but preserves the role: role is a session-level identity chosen
// once, the rest is per-task scratch.
func (s *Store) ClearEphemeral(userID int64) {
	s.locked(userID, func(st *state) {
		st.selection = nil
		st.sip = nil
		st.errorCode = nil
		st.supportMode = false
	})
}

// Len returns the number of users with live state.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.users)
		sh.mu.Unlock()
	}
	return total
}

package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/telemost/switchboard/internal/flow"
	"github.com/telemost/switchboard/internal/ratelimit"
	"github.com/telemost/switchboard/internal/session"
)

// ActionRule routes action ids by prefix. Rules are matched in order;
// an empty prefix matches everything and must come last.
type ActionRule struct {
	Prefix string
	Handle func(ctx context.Context, ev Event) error
}

// lockStripes serializes events per user without cross-user blocking.
const lockStripes = 32

// Router runs each inbound event through the tier chain: rate-limit
// admission, commands, button actions, the active flow, then free text.
type Router struct {
	handlers *Handlers
	sessions *session.Store
	flows    *flow.Engine
	limiter  *ratelimit.Limiter
	adapter  Adapter
	out      io.Writer

	rulesMu sync.RWMutex
	rules   []ActionRule

	locks [lockStripes]sync.Mutex
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Handlers *Handlers
	Sessions *session.Store
	Flows    *flow.Engine
	Limiter  *ratelimit.Limiter
	Adapter  Adapter
	Out      io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router with the handlers' rule table installed.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Handlers == nil {
		return nil, fmt.Errorf("gateway: router: handlers are required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("gateway: router: session store is required")
	}
	if opts.Flows == nil {
		return nil, fmt.Errorf("gateway: router: flow engine is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("gateway: router: rate limiter is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("gateway: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	r := &Router{
		handlers: opts.Handlers,
		sessions: opts.Sessions,
		flows:    opts.Flows,
		limiter:  opts.Limiter,
		adapter:  opts.Adapter,
		out:      out,
	}
	r.ReloadRules(opts.Handlers.Rules())
	return r, nil
}

// ReloadRules swaps the action routing table. A catch-all rule is
// appended if the table lacks one, so no action id falls through.
func (r *Router) ReloadRules(rules []ActionRule) {
	hasCatchAll := false
	for _, rule := range rules {
		if rule.Prefix == "" {
			hasCatchAll = true
		}
	}
	if !hasCatchAll {
		rules = append(rules, ActionRule{Prefix: "", Handle: r.handlers.actionUnknown})
	}
	r.rulesMu.Lock()
	r.rules = rules
	r.rulesMu.Unlock()
}

// shardQueueLen bounds each worker's backlog; a full queue applies
// backpressure to the pump for that shard only.
const shardQueueLen = 16

// Pump consumes the adapter's inbound channel until it closes or the
// context is cancelled. Events fan out to a fixed pool of workers
// sharded by user key: one user's slow handler never delays another
// user, and a single user's events stay in arrival order.
func (r *Router) Pump(ctx context.Context) error {
	events, err := r.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("gateway: router: listen: %w", err)
	}

	var wg sync.WaitGroup
	var shards [lockStripes]chan Event
	for i := range shards {
		shards[i] = make(chan Event, shardQueueLen)
		wg.Add(1)
		go func(queue <-chan Event) {
			defer wg.Done()
			for ev := range queue {
				r.Handle(ctx, ev)
			}
		}(shards[i])
	}
	drain := func() {
		for _, queue := range shards {
			close(queue)
		}
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				drain()
				return nil
			}
			shards[uint64(ev.UserID)%lockStripes] <- ev
		}
	}
}

// Handle runs one event through the tiers. Events from the same user
// are serialized; distinct users proceed in parallel.
func (r *Router) Handle(ctx context.Context, ev Event) {
	lock := &r.locks[uint64(ev.UserID)%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("gateway: router: panic handling event from %d: %v", ev.UserID, rec)
			r.sendFailure(ctx, ev)
		}
	}()

	if !r.admit(ctx, ev) {
		return
	}

	// /start is the only surface open to unregistered users.
	if !(ev.Kind == CommandEvent && ev.Command == "start") && !r.handlers.hasAccess(ev.UserID) {
		fmt.Fprintf(r.out, "gateway: router: drop event from unregistered user %d\n", ev.UserID)
		return
	}

	var err error
	switch ev.Kind {
	case CommandEvent:
		fmt.Fprintf(r.out, "gateway: router: user %d → command /%s\n", ev.UserID, ev.Command)
		err = r.handlers.HandleCommand(ctx, ev)
	case ActionEvent:
		fmt.Fprintf(r.out, "gateway: router: user %d → action %s\n", ev.UserID, ev.Action)
		err = r.dispatchAction(ctx, ev)
	default:
		err = r.dispatchText(ctx, ev)
	}
	if err != nil {
		log.Printf("gateway: router: handle event from %d: %v", ev.UserID, err)
		r.sendFailure(ctx, ev)
	}
}

// admit charges the event against the user's rate limit. The warning is
// sent once, at the moment the block trips.
func (r *Router) admit(ctx context.Context, ev Event) bool {
	kind := ratelimit.MessageEvent
	if ev.Kind == ActionEvent {
		kind = ratelimit.ActionEvent
	}
	wasBlocked := r.limiter.Blocked(ev.UserID)
	if r.limiter.Admit(ev.UserID, kind) {
		return true
	}
	if !wasBlocked {
		if err := r.handlers.reply(ctx, ev, "Too many requests. Take a minute.", nil); err != nil {
			log.Printf("gateway: router: send block notice to %d: %v", ev.UserID, err)
		}
	}
	return false
}

func (r *Router) dispatchAction(ctx context.Context, ev Event) error {
	r.rulesMu.RLock()
	rules := r.rules
	r.rulesMu.RUnlock()
	for _, rule := range rules {
		if rule.Prefix == "" || len(ev.Action) >= len(rule.Prefix) && ev.Action[:len(rule.Prefix)] == rule.Prefix {
			return rule.Handle(ctx, ev)
		}
	}
	return nil
}

// dispatchText feeds an active flow first; otherwise the free-text
// tier takes it.
func (r *Router) dispatchText(ctx context.Context, ev Event) error {
	if _, active := r.flows.Active(ev.UserID); active {
		fmt.Fprintf(r.out, "gateway: router: user %d → flow input\n", ev.UserID)
		res, err := r.flows.Advance(ev.UserID, ev.Text)
		if err != nil {
			return err
		}
		if res.Reply != "" {
			return r.handlers.reply(ctx, ev, res.Reply, nil)
		}
		return nil
	}
	fmt.Fprintf(r.out, "gateway: router: user %d → text\n", ev.UserID)
	return r.handlers.HandleText(ctx, ev)
}

func (r *Router) sendFailure(ctx context.Context, ev Event) {
	if err := r.handlers.reply(ctx, ev, "Something went wrong. Try again.", nil); err != nil {
		log.Printf("gateway: router: send failure notice to %d: %v", ev.UserID, err)
	}
}

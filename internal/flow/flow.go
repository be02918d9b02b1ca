// Package flow runs the multi-step operator dialogues: each flow walks
// a user through a fixed sequence of inputs, validates every step, and
// hands the collected fields to a Persister when the last step passes.
package flow

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Kind identifies a dialogue.
type Kind string

const (
	AddOperator    Kind = "add-operator"
	RemoveOperator Kind = "remove-operator"
	AddProvider    Kind = "add-provider"
	RemoveProvider Kind = "remove-provider"
	Broadcast      Kind = "broadcast"
)

// step identifies the input a flow instance is waiting for.
type step int

const (
	stepOperatorID step = iota
	stepProviderName
	stepProviderCode
	stepProviderType
	stepProviderGroup
	stepRemoveCode
	stepBroadcastText
	stepBroadcastConfirm
)

const maxProviderNameLen = 64

var codePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
var digitRun = regexp.MustCompile(`\d+`)

// Persister receives the collected fields of a completed flow.
type Persister interface {
	AddOperator(userID, addedBy int64) (bool, error)
	RemoveOperator(userID int64) (bool, error)
	AddProvider(name, code, providerType string, groupID, addedBy int64) error
	RemoveProvider(code string) (bool, error)
	Broadcast(senderID int64, text string) (sent, failed int, err error)
}

// Result is what the engine tells the caller to do after an Advance.
type Result struct {
	Done  bool   // the flow finished and left the engine
	Reply string // message to show the user
}

// instance is one user's in-progress dialogue.
type instance struct {
	kind   Kind
	step   step
	userID int64 // collected operator id
	name   string
	code   string
	ptype  string
	text   string
}

// Engine tracks at most one active flow per user.
type Engine struct {
	persister Persister

	mu    sync.Mutex
	flows map[int64]*instance
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Persister Persister
}

// NewEngine creates a flow Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Persister == nil {
		return nil, errors.New("flow: persister is required")
	}
	return &Engine{
		persister: opts.Persister,
		flows:     make(map[int64]*instance),
	}, nil
}

// Start begins a flow for the user and returns the first prompt. Any
// flow already in progress for the user is superseded.
func (e *Engine) Start(userID int64, kind Kind) (string, error) {
	inst := &instance{kind: kind}
	switch kind {
	case AddOperator, RemoveOperator:
		inst.step = stepOperatorID
	case AddProvider:
		inst.step = stepProviderName
	case RemoveProvider:
		inst.step = stepRemoveCode
	case Broadcast:
		inst.step = stepBroadcastText
	default:
		return "", fmt.Errorf("flow: unknown kind %q", kind)
	}

	e.mu.Lock()
	if old, ok := e.flows[userID]; ok {
		log.Printf("flow: user %d superseding %s with %s", userID, old.kind, kind)
	}
	e.flows[userID] = inst
	e.mu.Unlock()

	return prompt(inst.step), nil
}

// Active reports the kind of the user's in-progress flow, if any.
func (e *Engine) Active(userID int64) (Kind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.flows[userID]
	if !ok {
		return "", false
	}
	return inst.kind, true
}

// Cancel drops the user's in-progress flow.
func (e *Engine) Cancel(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.flows[userID]; !ok {
		return false
	}
	delete(e.flows, userID)
	return true
}

// Advance feeds one user input to the active flow. Invalid input keeps
// the flow on the same step, with fields collected so far retained, and
// the Reply explains what to fix. Completing the last step persists the
// collected fields and removes the flow.
func (e *Engine) Advance(userID int64, input string) (Result, error) {
	e.mu.Lock()
	inst, ok := e.flows[userID]
	e.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("flow: user %d has no active flow", userID)
	}

	res, terminal, err := e.apply(userID, inst, strings.TrimSpace(input))
	if terminal || err != nil {
		e.mu.Lock()
		delete(e.flows, userID)
		e.mu.Unlock()
	}
	return res, err
}

// apply runs one step transition. terminal means the instance must be
// dropped, whether it succeeded or the persister failed.
func (e *Engine) apply(callerID int64, inst *instance, input string) (Result, bool, error) {
	switch inst.step {
	case stepOperatorID:
		id, bad := parseUserID(input)
		if bad != "" {
			return Result{Reply: bad + "\n" + prompt(inst.step)}, false, nil
		}
		inst.userID = id
		if inst.kind == AddOperator {
			created, err := e.persister.AddOperator(id, callerID)
			if err != nil {
				return Result{}, true, fmt.Errorf("flow: add operator %d: %w", id, err)
			}
			if !created {
				return Result{Done: true, Reply: fmt.Sprintf("Operator %d is already registered.", id)}, true, nil
			}
			return Result{Done: true, Reply: fmt.Sprintf("Operator %d added.", id)}, true, nil
		}
		removed, err := e.persister.RemoveOperator(id)
		if err != nil {
			return Result{}, true, fmt.Errorf("flow: remove operator %d: %w", id, err)
		}
		if !removed {
			return Result{Done: true, Reply: fmt.Sprintf("Operator %d was not found.", id)}, true, nil
		}
		return Result{Done: true, Reply: fmt.Sprintf("Operator %d removed.", id)}, true, nil

	case stepProviderName:
		if input == "" {
			return Result{Reply: "Name cannot be empty.\n" + prompt(inst.step)}, false, nil
		}
		if len(input) > maxProviderNameLen {
			return Result{Reply: fmt.Sprintf("Name is too long (max %d characters).\n%s", maxProviderNameLen, prompt(inst.step))}, false, nil
		}
		inst.name = input
		inst.step = stepProviderCode
		return Result{Reply: prompt(inst.step)}, false, nil

	case stepProviderCode:
		code := strings.ToLower(input)
		if !codePattern.MatchString(code) {
			return Result{Reply: "Code may contain only lowercase letters, digits, '-' and '_'.\n" + prompt(inst.step)}, false, nil
		}
		inst.code = code
		inst.step = stepProviderType
		return Result{Reply: prompt(inst.step)}, false, nil

	case stepProviderType:
		ptype := strings.ToLower(input)
		if ptype != "white" && ptype != "black" {
			return Result{Reply: "Type must be white or black.\n" + prompt(inst.step)}, false, nil
		}
		inst.ptype = ptype
		inst.step = stepProviderGroup
		return Result{Reply: prompt(inst.step)}, false, nil

	case stepProviderGroup:
		groupID, err := strconv.ParseInt(input, 10, 64)
		if err != nil || groupID >= 0 {
			return Result{Reply: "Group ID must be a negative number.\n" + prompt(inst.step)}, false, nil
		}
		if err := e.persister.AddProvider(inst.name, inst.code, inst.ptype, groupID, callerID); err != nil {
			return Result{}, true, fmt.Errorf("flow: add provider %s: %w", inst.code, err)
		}
		return Result{Done: true, Reply: fmt.Sprintf("Provider %s (%s) added.", inst.name, inst.code)}, true, nil

	case stepRemoveCode:
		code := strings.ToLower(input)
		if !codePattern.MatchString(code) {
			return Result{Reply: "Code may contain only lowercase letters, digits, '-' and '_'.\n" + prompt(inst.step)}, false, nil
		}
		removed, err := e.persister.RemoveProvider(code)
		if err != nil {
			return Result{}, true, fmt.Errorf("flow: remove provider %s: %w", code, err)
		}
		if !removed {
			return Result{Done: true, Reply: fmt.Sprintf("Provider %s was not found.", code)}, true, nil
		}
		return Result{Done: true, Reply: fmt.Sprintf("Provider %s removed.", code)}, true, nil

	case stepBroadcastText:
		if input == "" {
			return Result{Reply: "Broadcast text cannot be empty.\n" + prompt(inst.step)}, false, nil
		}
		inst.text = input
		inst.step = stepBroadcastConfirm
		return Result{Reply: fmt.Sprintf("About to send to all operators:\n\n%s\n\n%s", inst.text, prompt(inst.step))}, false, nil

	case stepBroadcastConfirm:
		switch strings.ToLower(input) {
		case "yes", "y", "confirm":
			sent, failed, err := e.persister.Broadcast(callerID, inst.text)
			if err != nil {
				return Result{}, true, fmt.Errorf("flow: broadcast: %w", err)
			}
			reply := fmt.Sprintf("Broadcast sent to %d operators.", sent)
			if failed > 0 {
				reply = fmt.Sprintf("Broadcast sent to %d operators, %d failed.", sent, failed)
			}
			return Result{Done: true, Reply: reply}, true, nil
		case "no", "n", "cancel":
			return Result{Done: true, Reply: "Broadcast cancelled."}, true, nil
		default:
			return Result{Reply: prompt(inst.step)}, false, nil
		}
	}
	return Result{}, true, fmt.Errorf("flow: unknown step %d", inst.step)
}

// parseUserID pulls the first digit run out of a message, so pasting a
// profile line like "id: 12345" works, and range-checks it. A non-empty
// second return is the complaint to show the user.
func parseUserID(input string) (int64, string) {
	run := digitRun.FindString(input)
	if run == "" {
		return 0, "Send a numeric user ID."
	}
	id, err := strconv.ParseInt(run, 10, 64)
	if err != nil || id <= 0 {
		return 0, "User ID is out of range."
	}
	return id, ""
}

func prompt(s step) string {
	switch s {
	case stepOperatorID:
		return "Send the user ID."
	case stepProviderName:
		return "Send the provider name."
	case stepProviderCode:
		return "Send the provider code (lowercase letters, digits, '-' and '_')."
	case stepProviderType:
		return "Send the provider type: white or black."
	case stepProviderGroup:
		return "Send the provider group ID (a negative number)."
	case stepRemoveCode:
		return "Send the code of the provider to remove."
	case stepBroadcastText:
		return "Send the broadcast text."
	case stepBroadcastConfirm:
		return "Reply yes to send or no to cancel."
	}
	return ""
}

// Package hooks implements the command lifecycle pipeline: every command passes the queuing,
// queued, sending and sent phases, and registered hooks may rewrite or suppress it on the way.
package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/gcode"
)

type Phase string

const (
	PhaseQueuing Phase = "queuing"
	PhaseQueued  Phase = "queued"
	PhaseSending Phase = "sending"
	PhaseSent    Phase = "sent"
)

var Phases = []Phase{PhaseQueuing, PhaseQueued, PhaseSending, PhaseSent}

// Command is what flows through the pipeline.
type Command struct {
	Text string
	// Type is the optional de-duplication tag.
	Type string
	// ID is the command identifier as given by gcode.CommandID.
	ID string
}

// NewCommand creates a Command deriving its ID from text.
func NewCommand(text, cmdType string) Command {
	return Command{Text: text, Type: cmdType, ID: gcode.CommandID(text)}
}

type outcomeKind int

const (
	outcomeUnchanged outcomeKind = iota
	outcomeReplace
	outcomeReplaceWithType
	outcomeSuppress
)

// Outcome is what a hook decided for a command.
type Outcome struct {
	kind    outcomeKind
	text    string
	cmdType string
}

// Unchanged lets the command through untouched.
func Unchanged() Outcome {
	return Outcome{kind: outcomeUnchanged}
}

// Replace swaps the command text, keeping its type.
func Replace(text string) Outcome {
	return Outcome{kind: outcomeReplace, text: text}
}

// ReplaceWithType swaps both command text and type.
func ReplaceWithType(text, cmdType string) Outcome {
	return Outcome{kind: outcomeReplaceWithType, text: text, cmdType: cmdType}
}

// Suppress vetoes the command: it is not transmitted.
func Suppress() Outcome {
	return Outcome{kind: outcomeSuppress}
}

func (o Outcome) IsSuppress() bool {
	return o.kind == outcomeSuppress
}

// Apply returns the command resulting from the outcome, with its ID re-derived when the text
// changed. ok is false when the command is suppressed.
func (o Outcome) Apply(cmd Command) (Command, bool) {
	switch o.kind {
	case outcomeUnchanged:
		return cmd, true
	case outcomeReplace:
		return NewCommand(o.text, cmd.Type), true
	case outcomeReplaceWithType:
		return NewCommand(o.text, o.cmdType), true
	case outcomeSuppress:
		return cmd, false
	default:
		panic(fmt.Sprintf("bug: unknown outcome kind %d", o.kind))
	}
}

func (o Outcome) String() string {
	switch o.kind {
	case outcomeReplace:
		return fmt.Sprintf("replace(%q)", o.text)
	case outcomeReplaceWithType:
		return fmt.Sprintf("replace(%q, %q)", o.text, o.cmdType)
	case outcomeSuppress:
		return "suppress"
	default:
		return "unchanged"
	}
}

// Hook observes and may alter commands at every phase.
type Hook interface {
	Apply(ctx context.Context, phase Phase, cmd Command) (Outcome, error)
}

// HookFunc adapts a function to a Hook.
type HookFunc func(ctx context.Context, phase Phase, cmd Command) (Outcome, error)

func (f HookFunc) Apply(ctx context.Context, phase Phase, cmd Command) (Outcome, error) {
	return f(ctx, phase, cmd)
}

type namedHook struct {
	name string
	hook Hook
}

// Registry is the ordered list of hooks, run in registration order.
type Registry struct {
	mu    sync.RWMutex
	hooks []namedHook
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a hook. Names must be unique.
func (r *Registry) Register(name string, hook Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hooks {
		if h.name == name {
			return fmt.Errorf("hooks: %s: already registered", name)
		}
	}
	r.hooks = append(r.hooks, namedHook{name: name, hook: hook})
	return nil
}

// Names returns the registered hook names in run order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.hooks))
	for i, h := range r.hooks {
		names[i] = h.name
	}
	return names
}

// Run passes cmd through every hook for the phase. A hook that fails or panics is logged and
// skipped. ok is false as soon as a hook suppresses the command.
func (r *Registry) Run(ctx context.Context, phase Phase, cmd Command) (Command, bool) {
	if r == nil {
		return cmd, true
	}
	r.mu.RLock()
	hooks := append([]namedHook(nil), r.hooks...)
	r.mu.RUnlock()

	for _, h := range hooks {
		outcome, err := safeApply(ctx, h.hook, phase, cmd)
		if err != nil {
			logger := log.MustLogger(ctx)
			logger.Error("Hook failed", "hook", h.name, "phase", phase, "command", cmd.Text, "err", err)
			continue
		}
		var ok bool
		if cmd, ok = outcome.Apply(cmd); !ok {
			return cmd, false
		}
	}
	return cmd, true
}

func safeApply(ctx context.Context, hook Hook, phase Phase, cmd Command) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.MustLogger(ctx).Debug("Hook panic", "recovered", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Apply(ctx, phase, cmd)
}

package hooks

import (
	"context"
	"fmt"
	"os"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Script results.
const (
	ScriptUnchanged = "unchanged"
	ScriptReplace   = "replace"
	ScriptSuppress  = "suppress"
)

type scriptApplyFn func(phase, command, commandType, commandID string) (action, newCommand, newType string)

// ScriptHook runs a Go script interpreted by yaegi. The script must be in package hook and define:
//
//	func Apply(phase, command, commandType, commandID string) (action, newCommand, newType string)
//
// where action is "unchanged", "replace" or "suppress". For "replace", an empty newType keeps the
// command type.
type ScriptHook struct {
	path  string
	apply scriptApplyFn
}

// LoadScript interprets the script at path, with the standard library available to it.
func LoadScript(ctx context.Context, path string) (*ScriptHook, error) {
	interpreter := interp.New(interp.Options{})
	if err := interpreter.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("hooks: script %s: %w", path, err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hooks: script: %w", err)
	}
	if _, err := interpreter.EvalWithContext(ctx, string(src)); err != nil {
		return nil, fmt.Errorf("hooks: script %s: %w", path, err)
	}
	v, err := interpreter.EvalWithContext(ctx, "hook.Apply")
	if err != nil {
		return nil, fmt.Errorf("hooks: script %s: missing hook.Apply: %w", path, err)
	}
	apply, ok := v.Interface().(func(string, string, string, string) (string, string, string))
	if !ok {
		return nil, fmt.Errorf("hooks: script %s: hook.Apply has signature %s", path, v.Type())
	}
	return &ScriptHook{path: path, apply: apply}, nil
}

func (h *ScriptHook) Apply(ctx context.Context, phase Phase, cmd Command) (Outcome, error) {
	action, newCommand, newType := h.apply(string(phase), cmd.Text, cmd.Type, cmd.ID)
	switch action {
	case ScriptUnchanged, "":
		return Unchanged(), nil
	case ScriptReplace:
		if newType == "" {
			return Replace(newCommand), nil
		}
		return ReplaceWithType(newCommand, newType), nil
	case ScriptSuppress:
		return Suppress(), nil
	default:
		return Unchanged(), fmt.Errorf("%s: unknown action %q", h.path, action)
	}
}

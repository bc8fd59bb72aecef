package manager

import (
	"github.com/google/uuid"

	"github.com/patchlang/jvmpatch/pkg/script"
)

// WitnessAction ties a set of "trigger groups" (spec.md §4.7, §9, GLOSSARY
// "Witness") to one script: the action watches for every class named in at
// least one class per remaining group to load, and once every group has
// been satisfied it fires exactly once, either adding Script to the
// manager's active list or removing it.
//
// TriggerGroups is a list of groups; each group is a list of class names
// in internal form (matching the class-internal-name the host runtime's
// load callback supplies), any one of which satisfies that group. The
// action fires when the last group is satisfied.
type WitnessAction struct {
	ID            uuid.UUID
	Script        *script.Script
	Add           bool // true: activate Script when triggered; false: deactivate it
	TriggerGroups [][]string

	triggered bool
}

// NewWitnessAction builds a WitnessAction. triggerGroups is copied so the
// manager's bookkeeping can't be mutated out from under it by the caller.
func NewWitnessAction(s *script.Script, add bool, triggerGroups [][]string) *WitnessAction {
	groups := make([][]string, len(triggerGroups))
	for i, g := range triggerGroups {
		groups[i] = append([]string(nil), g...)
	}
	return &WitnessAction{ID: uuid.New(), Script: s, Add: add, TriggerGroups: groups}
}

// Triggered reports whether this action has already fired. A given
// action triggers at most once (spec.md §4.7).
func (a *WitnessAction) Triggered() bool {
	return a.triggered
}

// observe removes any remaining group containing className. It reports
// whether this call is the one that emptied the last group -- the
// manager acts on that signal exactly once per action.
func (a *WitnessAction) observe(className string) bool {
	if a.triggered {
		return false
	}
	remaining := a.TriggerGroups[:0]
	for _, group := range a.TriggerGroups {
		if containsName(group, className) {
			continue
		}
		remaining = append(remaining, group)
	}
	a.TriggerGroups = remaining
	if len(a.TriggerGroups) > 0 {
		return false
	}
	a.triggered = true
	return true
}

func containsName(group []string, name string) bool {
	for _, n := range group {
		if n == name {
			return true
		}
	}
	return false
}

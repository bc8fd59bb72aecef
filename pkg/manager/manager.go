// Package manager implements the script manager spec.md §4.7 describes:
// an ordered list of scripts applied in insertion order to each loaded
// class, witness-driven (de)activation, and the TransformFailure
// containment policy from spec.md §7 ("any exception thrown by a script
// is caught... and treated as 'script did not transform this class'").
package manager

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/descriptor"
	"github.com/patchlang/jvmpatch/pkg/script"
)

type activeScript struct {
	id uuid.UUID
	s  *script.Script
}

// Manager owns the active script list and the registered witness
// actions, and runs the per-class transform pipeline spec.md §4.7
// describes. A Manager is safe for concurrent use: a host runtime may
// call Transform from several class-loading threads at once while
// another goroutine calls AddScript/RemoveScript. spec.md §9 resolves the
// resulting race ("the manager mutates the active scripts in response to
// witness events during the very iteration that walks those scripts")
// with a snapshot-per-transform policy: Transform takes the active list
// under lock, runs witness processing against it, then releases the lock
// and walks a private copy -- so a concurrent AddScript/RemoveScript is
// effective starting with the next class, never the one already mid-walk.
// The zero value is not usable; build one with New.
type Manager struct {
	mu        sync.Mutex
	scripts   []*activeScript
	witnesses []*WitnessAction
	filter    Filter
	logger    *zap.Logger
	mapper    classloader.ResourceMapper
}

// New builds an empty Manager. logger may be nil, in which case script
// failures are swallowed silently rather than requiring a collaborator;
// mapper may be nil to use classloader.Identity.
func New(logger *zap.Logger, mapper classloader.ResourceMapper) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mapper == nil {
		mapper = classloader.Identity
	}
	return &Manager{filter: AlwaysTransform, logger: logger, mapper: mapper}
}

// SetFilter installs f as the external filter (spec.md §6). Passing nil
// restores AlwaysTransform.
func (m *Manager) SetFilter(f Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil {
		f = AlwaysTransform
	}
	m.filter = f
}

// AddScript appends s to the end of the active script list and returns a
// handle a later RemoveScript call can use.
func (m *Manager) AddScript(s *script.Script) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.scripts = append(m.scripts, &activeScript{id: id, s: s})
	return id
}

// RemoveScript removes the script previously returned by AddScript, if it
// is still active.
func (m *Manager) RemoveScript(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeByIDLocked(id)
}

func (m *Manager) removeByIDLocked(id uuid.UUID) {
	for i, as := range m.scripts {
		if as.id == id {
			m.scripts = append(m.scripts[:i], m.scripts[i+1:]...)
			return
		}
	}
}

// RegisterWitness adds w to the set of witness actions the manager
// evaluates on every class-transformation event.
func (m *Manager) RegisterWitness(w *WitnessAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.witnesses = append(m.witnesses, w)
}

// Transform implements the host-runtime class-load callback from
// spec.md §6: given the defining loader, a class's internal name, and its
// bytes, it returns either new bytes or nil ("no script transformed this
// class"). A null/empty internalName (anonymous or lambda host classes)
// is ignored, per §6.
func (m *Manager) Transform(loader classloader.Loader, internalName string, classBytes []byte) ([]byte, error) {
	if internalName == "" {
		return nil, nil
	}

	m.mu.Lock()
	m.processWitnessesLocked(internalName)
	if !m.anyMayAffectLocked(internalName) {
		m.mu.Unlock()
		return nil, nil
	}
	filter := m.filter
	snapshot := make([]*activeScript, len(m.scripts))
	copy(snapshot, m.scripts)
	m.mu.Unlock()

	if !filter(loader, internalName, classBytes) {
		return nil, nil
	}

	cf, err := classfile.Parse(bytes.NewReader(classBytes))
	if err != nil {
		return nil, fmt.Errorf("manager: parsing %s: %w", internalName, err)
	}

	transformed := false
	for _, as := range snapshot {
		out, err := m.applyOne(as, loader, cf)
		if err != nil {
			m.logger.Error("script transform failed",
				zap.String("script", as.s.Name),
				zap.String("class", internalName),
				zap.Error(err))
			continue
		}
		if out != nil {
			cf = out
			transformed = true
		}
	}

	if !transformed {
		return nil, nil
	}
	newBytes, err := classfile.Write(cf)
	if err != nil {
		return nil, fmt.Errorf("manager: writing %s: %w", internalName, err)
	}
	return newBytes, nil
}

// applyOne runs a single script's Patch, converting a panic (spec.md §7:
// "any exception thrown by a script is caught") into an error so it joins
// the same TransformFailure handling as a returned error.
func (m *Manager) applyOne(as *activeScript, loader classloader.Loader, cf *classfile.ClassFile) (out *classfile.ClassFile, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return script.Patch(as.s, loader, m.mapper, cf)
}

// processWitnessesLocked evaluates every not-yet-triggered witness action
// against className, firing (activating or deactivating its script) any
// whose last remaining trigger group this class satisfies. Called with
// m.mu held, and before the snapshot is taken, so a witness firing on
// this very class is effective for this class -- only externally-driven
// AddScript/RemoveScript calls are deferred to the next one.
func (m *Manager) processWitnessesLocked(className string) {
	for _, w := range m.witnesses {
		if !w.observe(className) {
			continue
		}
		if w.Add {
			m.scripts = append(m.scripts, &activeScript{id: uuid.New(), s: w.Script})
		} else {
			m.removeByScriptLocked(w.Script)
		}
	}
}

func (m *Manager) removeByScriptLocked(s *script.Script) {
	for i, as := range m.scripts {
		if as.s == s {
			m.scripts = append(m.scripts[:i], m.scripts[i+1:]...)
			return
		}
	}
}

// anyMayAffectLocked is a fast pre-parse check: if no active script's
// AffectedClasses could possibly include this class, skip parsing the
// bytes entirely (spec.md §4.2, §4.7 -- AffectedClass exists precisely to
// "short-circuit the manager's per-class filtering").
func (m *Manager) anyMayAffectLocked(internalName string) bool {
	if len(m.scripts) == 0 {
		return false
	}
	dotted := descriptor.InternalToDotted(internalName)
	for _, as := range m.scripts {
		for _, c := range as.s.AffectedClasses() {
			if c == dotted {
				return true
			}
		}
	}
	return false
}

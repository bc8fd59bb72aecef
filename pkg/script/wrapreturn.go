package script

import (
	"strings"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/logistics"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// NewWrapReturnValuesScript validates and builds a WrapReturnValues
// script (spec.md §4.5.3). cast and insert are mutually exclusive.
func NewWrapReturnValuesScript(name string, matcher target.MethodTarget, h *hook.Hook, reqs []StackRequest, transplant, insert, cast bool) (*Script, error) {
	if h == nil {
		return nil, &InvalidConfigurationError{Reason: "WrapReturnValues requires a hook"}
	}
	if transplant && insert {
		return nil, &InvalidConfigurationError{Reason: "Transplant and Insert are mutually exclusive"}
	}
	if cast && insert {
		return nil, &InvalidConfigurationError{Reason: "cast and Insert are mutually exclusive"}
	}
	return &Script{
		Kind:          KindWrapReturnValues,
		Name:          name,
		Matcher:       matcher,
		Hook:          h,
		StackRequests: reqs,
		Transplant:    transplant,
		Insert:        insert,
		Cast:          cast,
	}, nil
}

func patchWrapReturnValues(s *Script, cf *classfile.ClassFile, loader classloader.Loader) (*classfile.ClassFile, error) {
	if !classMatches(s.Matcher, cf) {
		return nil, nil
	}
	changed := false
	owner, _ := cf.ClassName()

	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.Code == nil || !s.Matcher.Matches(owner, m.Name, m.Descriptor) {
			continue
		}
		did, err := rewriteWrapReturnValues(s, cf, m, loader)
		if err != nil {
			return nil, err
		}
		changed = changed || did
	}
	if !changed {
		return nil, nil
	}
	return cf, nil
}

func rewriteWrapReturnValues(s *Script, cf *classfile.ClassFile, m *classfile.MethodInfo, loader classloader.Loader) (bool, error) {
	lg, err := logistics.Compute(m.AccessFlags, m.Descriptor)
	if err != nil {
		return false, err
	}
	instrs, err := bytecode.Instructions(m.Code.Code)
	if err != nil {
		return false, err
	}

	hookReturnsVoid := s.Hook.Return == "V"
	valueRequested := Has(s.StackRequests, ReturnValue)

	site, err := resolveHookSite(s, s.Hook, cf, loader)
	if err != nil {
		return false, err
	}

	var retClass string
	var hasRetClass bool
	if s.Cast {
		retClass, hasRetClass = internalClassOf(lg.ReturnType)
	}

	code := m.Code.Code
	b := bytecode.NewBuilder()
	cursor := 0
	touched := false
	breakpoints := []bytecode.Breakpoint{{OldOffset: 0, NewOffset: 0}}

	for _, in := range instrs {
		if !bytecode.IsReturn(in.Opcode) {
			continue
		}
		touched = true
		b.Append(code[cursor:in.Offset])

		if lg.ReturnSize > 0 {
			if !hookReturnsVoid && !valueRequested {
				if pop := bytecode.PopOpcode(lg.ReturnSize); pop != 0 {
					b.Op(pop)
				}
			} else if hookReturnsVoid && valueRequested {
				if dup := bytecode.DupOpcode(lg.ReturnSize); dup != 0 {
					b.Op(dup)
				}
			}
		}

		if err := emitNonReturnStackRequests(b, s.StackRequests, lg); err != nil {
			return false, err
		}
		if err := emitInvoke(b, cf, site, lg.NextSlot); err != nil {
			return false, err
		}

		if s.Cast && hasRetClass {
			pb := classfile.NewPoolBuilder(cf)
			idx := pb.Class(retClass)
			b.OpU2(bytecode.OpCheckcast, idx)
		}

		breakpoints = append(breakpoints, bytecode.Breakpoint{OldOffset: in.Offset, NewOffset: b.Len()})
		b.Op(in.Opcode)
		cursor = in.Offset + in.Length
	}
	if !touched {
		return false, nil
	}
	b.Append(code[cursor:])

	newCode := b.Bytes()
	if err := bytecode.RelocateBranches(code, newCode, instrs, breakpoints); err != nil {
		return false, err
	}

	var frames []classfile.Frame
	if classfile.NeedsStackMapFrames(cf.MajorVersion) {
		frames = relocateFrames(m.Code.StackMapFrames, breakpoints)
	}

	// Conservative upper bound: the widest sequence pushes the return
	// value plus up to 8 stack-request slots (2-slot worst case each).
	rewriteMethodCode(cf, m, newCode, lg.ReturnSize+16, 0, frames)
	return true, nil
}

func internalClassOf(desc string) (string, bool) {
	if desc == "" {
		return "", false
	}
	if desc[0] == '[' {
		return desc, true
	}
	if desc[0] == 'L' && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1], true
	}
	return "", false
}

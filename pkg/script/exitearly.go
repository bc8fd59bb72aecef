package script

import (
	"fmt"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/logistics"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// NewExitEarlyScript validates and builds an ExitEarly script (spec.md
// §4.5.2). valueHook is required when the matched methods return
// non-void, unless insertCallOnly holds; it must be nil when they
// return void. decisionHook may be nil (unconditional early exit).
// RETURN_VALUE is not a permitted stack request here.
func NewExitEarlyScript(name string, matcher target.MethodTarget, decisionHook, valueHook *hook.Hook, insertCallOnly bool, reqs []StackRequest, transplant, insert bool) (*Script, error) {
	if Has(reqs, ReturnValue) {
		return nil, &InvalidConfigurationError{Reason: "ExitEarly does not permit a RETURN_VALUE stack request"}
	}
	if transplant && insert {
		return nil, &InvalidConfigurationError{Reason: "Transplant and Insert are mutually exclusive"}
	}
	if matcher.HasSignature() {
		if *matcher.Return == "void" && valueHook != nil {
			return nil, &InvalidConfigurationError{Reason: "a value hook may not be supplied when the matched method returns void"}
		}
		if *matcher.Return != "void" && valueHook == nil && !insertCallOnly {
			return nil, &InvalidConfigurationError{Reason: "a value hook is required when the matched method returns non-void, unless insertCallOnly is set"}
		}
	}
	return &Script{
		Kind:           KindExitEarly,
		Name:           name,
		Matcher:        matcher,
		DecisionHook:   decisionHook,
		ValueHook:      valueHook,
		InsertCallOnly: insertCallOnly,
		StackRequests:  reqs,
		Transplant:     transplant,
		Insert:         insert,
	}, nil
}

func patchExitEarly(s *Script, cf *classfile.ClassFile, loader classloader.Loader) (*classfile.ClassFile, error) {
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
		if err := rewriteExitEarlyMethod(s, cf, m, loader); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return nil, nil
	}
	return cf, nil
}

func rewriteExitEarlyMethod(s *Script, cf *classfile.ClassFile, m *classfile.MethodInfo, loader classloader.Loader) error {
	lg, err := logistics.Compute(m.AccessFlags, m.Descriptor)
	if err != nil {
		return err
	}

	b := bytecode.NewBuilder()
	extraLocals := 0

	if s.DecisionHook != nil {
		site, err := resolveHookSite(s, s.DecisionHook, cf, loader)
		if err != nil {
			return err
		}
		if err := emitNonReturnStackRequests(b, s.StackRequests, lg); err != nil {
			return err
		}
		if err := emitInvoke(b, cf, site, lg.NextSlot+extraLocals); err != nil {
			return err
		}

		if s.InsertCallOnly {
			// decision hook returns void: fall through unconditionally to
			// the original body, steps 3-4 skipped entirely.
			shift := b.Len()
			b.Append(m.Code.Code)
			rewriteMethodCode(cf, m, b.Bytes(), 2, extraLocals, shiftedOriginalFrames(cf, m, shift))
			return nil
		}

		// decision returns boolean: false branches past the early exit to
		// the original body.
		ifeqPos := b.Len()
		branchPos := ifeqPos + 1
		b.OpU2(bytecode.OpIfeq, 0)
		if err := emitEarlyExit(b, s, cf, lg, loader, extraLocals); err != nil {
			return err
		}
		offset := b.Len() - ifeqPos
		if offset < -32768 || offset > 32767 {
			return fmt.Errorf("script: ExitEarly decision branch offset %d out of signed 16-bit range", offset)
		}
		b.PatchU2(branchPos, uint16(int16(offset)))
		mergeOffset := b.Len()
		b.Append(m.Code.Code)

		var frames []classfile.Frame
		if classfile.NeedsStackMapFrames(cf.MajorVersion) {
			locals, err := entryLocals(cf, m, lg)
			if err != nil {
				return err
			}
			relocated := shiftedOriginalFrames(cf, m, mergeOffset)
			// the ifeq's branch target is a fresh jump target the
			// original method never had a frame for: its state is the
			// method's entry state, nothing having been pushed yet. If the
			// original method already had a frame at offset 0 (a backward
			// branch targeting its very first instruction), it relocates to
			// this same merge offset and already describes this state, so
			// skip the synthesized duplicate rather than emit two frames at
			// one offset.
			if len(relocated) > 0 && relocated[0].Offset == mergeOffset {
				frames = relocated
			} else {
				frames = append([]classfile.Frame{{Offset: mergeOffset, Locals: locals}}, relocated...)
			}
		}
		rewriteMethodCode(cf, m, b.Bytes(), 2, extraLocals, frames)
		return nil
	}

	// No decision hook: unconditional early exit. The original body is
	// discarded outright, so no frame relocation applies.
	if err := emitEarlyExit(b, s, cf, lg, loader, extraLocals); err != nil {
		return err
	}
	rewriteMethodCode(cf, m, b.Bytes(), 2, extraLocals, nil)
	return nil
}

// shiftedOriginalFrames relocates m's pre-existing frames by the constant
// shift a prepended sequence of bytes introduces, or nil when the class
// needs no frames or carries none to begin with.
func shiftedOriginalFrames(cf *classfile.ClassFile, m *classfile.MethodInfo, shift int) []classfile.Frame {
	if !classfile.NeedsStackMapFrames(cf.MajorVersion) {
		return nil
	}
	breakpoints := []bytecode.Breakpoint{{OldOffset: 0, NewOffset: shift}}
	return relocateFrames(m.Code.StackMapFrames, breakpoints)
}

func emitEarlyExit(b *bytecode.Builder, s *Script, cf *classfile.ClassFile, lg logistics.Logistics, loader classloader.Loader, extraLocals int) error {
	if lg.ReturnType == "V" {
		b.Op(bytecode.OpReturn)
		return nil
	}
	site, err := resolveHookSite(s, s.ValueHook, cf, loader)
	if err != nil {
		return err
	}
	if err := emitNonReturnStackRequests(b, s.StackRequests, lg); err != nil {
		return err
	}
	if err := emitInvoke(b, cf, site, lg.NextSlot+extraLocals); err != nil {
		return err
	}
	b.Op(lg.ReturnOp)
	return nil
}

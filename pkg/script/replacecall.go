package script

import (
	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/logistics"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// NewReplaceMethodCallScript validates and builds a ReplaceMethodCall
// script (spec.md §4.5.5). RETURN_VALUE is not a permitted extra: there
// is no tentative return value yet at a call site being replaced.
func NewReplaceMethodCallScript(name string, matcher target.MethodTarget, innerOwner, innerName, innerDescriptor string, wrapperHook *hook.Hook, reqs []StackRequest, transplant, insert bool) (*Script, error) {
	if wrapperHook == nil {
		return nil, &InvalidConfigurationError{Reason: "ReplaceMethodCall requires a wrapper hook"}
	}
	if innerOwner == "" || innerName == "" || innerDescriptor == "" {
		return nil, &InvalidConfigurationError{Reason: "ReplaceMethodCall requires a fully specified inner call site"}
	}
	if Has(reqs, ReturnValue) {
		return nil, &InvalidConfigurationError{Reason: "RETURN_VALUE is not a permitted extra for ReplaceMethodCall"}
	}
	if transplant && insert {
		return nil, &InvalidConfigurationError{Reason: "Transplant and Insert are mutually exclusive"}
	}
	return &Script{
		Kind:            KindReplaceMethodCall,
		Name:            name,
		Matcher:         matcher,
		InnerOwner:      innerOwner,
		InnerName:       innerName,
		InnerDescriptor: innerDescriptor,
		Hook:            wrapperHook,
		StackRequests:   reqs,
		Transplant:      transplant,
		Insert:          insert,
	}, nil
}

func patchReplaceMethodCall(s *Script, cf *classfile.ClassFile, loader classloader.Loader) (*classfile.ClassFile, error) {
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
		did, err := rewriteReplaceMethodCall(s, cf, m, loader)
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

func rewriteReplaceMethodCall(s *Script, cf *classfile.ClassFile, m *classfile.MethodInfo, loader classloader.Loader) (bool, error) {
	lg, err := logistics.Compute(m.AccessFlags, m.Descriptor)
	if err != nil {
		return false, err
	}

	instrs, err := bytecode.Instructions(m.Code.Code)
	if err != nil {
		return false, err
	}
	matches, err := bytecode.FindInvokes(m.Code.Code, func(cpIndex uint16) (string, string, string, bool) {
		return resolveByIndex(cf.ConstantPool, cpIndex)
	}, s.InnerOwner, s.InnerName, s.InnerDescriptor)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}

	site, err := resolveHookSite(s, s.Hook, cf, loader)
	if err != nil {
		return false, err
	}

	code := m.Code.Code
	b := bytecode.NewBuilder()
	cursor := 0
	breakpoints := []bytecode.Breakpoint{{OldOffset: 0, NewOffset: 0}}
	for _, in := range matches {
		// copy everything up to (not including) the call being replaced:
		// the inner call's own receiver/arguments were already pushed by
		// the preceding, untouched instructions.
		b.Append(code[cursor:in.Offset])

		if err := emitNonReturnStackRequests(b, s.StackRequests, lg); err != nil {
			return false, err
		}
		if err := emitInvoke(b, cf, site, lg.NextSlot); err != nil {
			return false, err
		}
		cursor = in.Offset + in.Length
		breakpoints = append(breakpoints, bytecode.Breakpoint{OldOffset: cursor, NewOffset: b.Len()})
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

	rewriteMethodCode(cf, m, newCode, 16, 0, frames)
	return true, nil
}

package script

import (
	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/descriptor"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/logistics"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// NewWrapMethodCallScript validates and builds a WrapMethodCall script
// (spec.md §4.5.4): it matches calls to (innerOwner, innerName,
// innerDescriptor) inside each method the outer matcher selects, and
// invokes wrapperHook immediately after each one.
func NewWrapMethodCallScript(name string, matcher target.MethodTarget, innerOwner, innerName, innerDescriptor string, wrapperHook *hook.Hook, reqs []StackRequest, transplant, insert bool) (*Script, error) {
	if wrapperHook == nil {
		return nil, &InvalidConfigurationError{Reason: "WrapMethodCall requires a wrapper hook"}
	}
	if innerOwner == "" || innerName == "" || innerDescriptor == "" {
		return nil, &InvalidConfigurationError{Reason: "WrapMethodCall requires a fully specified inner call site"}
	}
	if transplant && insert {
		return nil, &InvalidConfigurationError{Reason: "Transplant and Insert are mutually exclusive"}
	}
	return &Script{
		Kind:            KindWrapMethodCall,
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

func patchWrapMethodCall(s *Script, cf *classfile.ClassFile, loader classloader.Loader) (*classfile.ClassFile, error) {
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
		did, err := rewriteWrapMethodCall(s, cf, m, loader)
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

func rewriteWrapMethodCall(s *Script, cf *classfile.ClassFile, m *classfile.MethodInfo, loader classloader.Loader) (bool, error) {
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

	innerMethod, err := descriptor.Decompose(s.InnerDescriptor)
	if err != nil {
		return false, err
	}
	innerReturnsVoid := innerMethod.Return == "V"
	wrapperReturnsVoid := s.Hook.Return == "V"
	leaveReturnValueIntact := wrapperReturnsVoid && !innerReturnsVoid
	innerReturnSize := bytecode.SlotSize(innerMethod.Return)

	site, err := resolveHookSite(s, s.Hook, cf, loader)
	if err != nil {
		return false, err
	}

	code := m.Code.Code
	b := bytecode.NewBuilder()
	cursor := 0
	breakpoints := []bytecode.Breakpoint{{OldOffset: 0, NewOffset: 0}}
	for _, in := range matches {
		end := in.Offset + in.Length
		b.Append(code[cursor:end]) // keep the original call itself intact

		if leaveReturnValueIntact && Has(s.StackRequests, ReturnValue) {
			if dup := bytecode.DupOpcode(innerReturnSize); dup != 0 {
				b.Op(dup)
			}
		}
		if err := emitNonReturnStackRequests(b, s.StackRequests, lg); err != nil {
			return false, err
		}
		if err := emitInvoke(b, cf, site, lg.NextSlot); err != nil {
			return false, err
		}
		breakpoints = append(breakpoints, bytecode.Breakpoint{OldOffset: end, NewOffset: b.Len()})
		cursor = end
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

	rewriteMethodCode(cf, m, newCode, innerReturnSize+16, 0, frames)
	return true, nil
}

func resolveByIndex(pool []classfile.ConstantPoolEntry, cpIndex uint16) (owner, name, desc string, ok bool) {
	if int(cpIndex) >= len(pool) || pool[cpIndex] == nil {
		return "", "", "", false
	}
	switch pool[cpIndex].(type) {
	case *classfile.ConstantInterfaceMethodref:
		info, err := classfile.ResolveInterfaceMethodref(pool, cpIndex)
		if err != nil {
			return "", "", "", false
		}
		return info.ClassName, info.MethodName, info.Descriptor, true
	case *classfile.ConstantMethodref:
		info, err := classfile.ResolveMethodref(pool, cpIndex)
		if err != nil {
			return "", "", "", false
		}
		return info.ClassName, info.MethodName, info.Descriptor, true
	default:
		return "", "", "", false
	}
}

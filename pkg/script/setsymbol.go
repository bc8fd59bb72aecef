package script

import (
	"fmt"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/descriptor"
	"github.com/patchlang/jvmpatch/pkg/symbolstack"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// NewSetSymbolDuringMethodCallScript validates and builds a
// SetSymbolDuringMethodCall script (spec.md §4.5.6): symbol is pushed on
// the calling goroutine's symbol stack for the duration of each matched
// call to (innerOwner, innerName, innerDescriptor), popped on every exit
// path including exceptional ones.
func NewSetSymbolDuringMethodCallScript(name string, matcher target.MethodTarget, innerOwner, innerName, innerDescriptor, symbol string) (*Script, error) {
	if innerOwner == "" || innerName == "" || innerDescriptor == "" {
		return nil, &InvalidConfigurationError{Reason: "SetSymbolDuringMethodCall requires a fully specified inner call site"}
	}
	if symbol == "" {
		return nil, &InvalidConfigurationError{Reason: "SetSymbolDuringMethodCall requires a non-empty symbol"}
	}
	return &Script{
		Kind:            KindSetSymbolDuringMethodCall,
		Name:            name,
		Matcher:         matcher,
		InnerOwner:      innerOwner,
		InnerName:       innerName,
		InnerDescriptor: innerDescriptor,
		Symbol:          symbol,
	}, nil
}

func patchSetSymbolDuringMethodCall(s *Script, cf *classfile.ClassFile, loader classloader.Loader) (*classfile.ClassFile, error) {
	if !classMatches(s.Matcher, cf) {
		return nil, nil
	}
	changed := false
	owner, _ := cf.ClassName()
	wrappers := make(map[string]wrapperSite) // keyed by invoke opcode: one synthetic wrapper per distinct call shape
	var synthesized []classfile.MethodInfo   // appended to cf.Methods only once, after this loop: appending mid-loop
	// would reallocate cf.Methods out from under the per-index *MethodInfo
	// this loop hands to the rewriter for in-place editing.

	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.Code == nil || !s.Matcher.Matches(owner, m.Name, m.Descriptor) {
			continue
		}
		did, err := rewriteSetSymbolDuringMethodCall(s, cf, m, wrappers, &synthesized)
		if err != nil {
			return nil, err
		}
		changed = changed || did
	}
	if !changed {
		return nil, nil
	}
	cf.Methods = append(cf.Methods, synthesized...)
	return cf, nil
}

// wrapperSite records a synthesized wrapper method already emitted into
// the class for a given (opcode, owner, name, descriptor) inner call
// shape, so repeat call sites reuse it instead of duplicating it.
type wrapperSite struct {
	name       string
	descriptor string
}

func rewriteSetSymbolDuringMethodCall(s *Script, cf *classfile.ClassFile, m *classfile.MethodInfo, wrappers map[string]wrapperSite, synthesized *[]classfile.MethodInfo) (bool, error) {
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

	code := m.Code.Code
	b := bytecode.NewBuilder()
	cursor := 0
	breakpoints := []bytecode.Breakpoint{{OldOffset: 0, NewOffset: 0}}
	for _, in := range matches {
		key := fmt.Sprintf("%d", in.Opcode)
		site, ok := wrappers[key]
		if !ok {
			var method classfile.MethodInfo
			site, method, err = synthesizeSetSymbolWrapper(cf, s, in.Opcode, len(wrappers))
			if err != nil {
				return false, err
			}
			wrappers[key] = site
			*synthesized = append(*synthesized, method)
		}

		b.Append(code[cursor:in.Offset]) // args already pushed by preceding instructions

		pb := classfile.NewPoolBuilder(cf)
		idx := pb.Methodref(mustClassName(cf), site.name, site.descriptor)
		b.OpU2(bytecode.OpInvokestatic, idx)

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

	rewriteMethodCode(cf, m, newCode, 0, 0, frames)
	return true, nil
}

func mustClassName(cf *classfile.ClassFile) string {
	name, _ := cf.ClassName()
	return name
}

// synthesizeSetSymbolWrapper builds a new ACC_STATIC|ACC_PRIVATE|ACC_SYNTHETIC
// method implementing the try/push/call/pop/catch/pop/rethrow body
// spec.md §4.5.6 describes, returning its name/descriptor and the method
// itself (the caller appends it to cf.Methods).
func synthesizeSetSymbolWrapper(cf *classfile.ClassFile, s *Script, opcode byte, ordinal int) (wrapperSite, classfile.MethodInfo, error) {
	inner, err := descriptor.Decompose(s.InnerDescriptor)
	if err != nil {
		return wrapperSite{}, classfile.MethodInfo{}, err
	}
	instance := opcode != bytecode.OpInvokestatic

	var paramTypes []string // wrapper's own parameter descriptors, in order
	if instance {
		paramTypes = append(paramTypes, "L"+s.InnerOwner+";")
	}
	paramTypes = append(paramTypes, inner.Params...)

	wrapperDescriptor := descriptor.Compose(descriptor.Method{Return: inner.Return, Params: paramTypes})
	wrapperName := fmt.Sprintf("patchSetSymbol$%d", ordinal)

	pb := classfile.NewPoolBuilder(cf)

	// Local slot layout: the wrapper's own parameters, left to right.
	locals := make([]int, len(paramTypes))
	localTypes := make([]string, len(paramTypes))
	slot := 0
	for i, p := range paramTypes {
		locals[i] = slot
		localTypes[i] = p
		slot += bytecode.SlotSize(p)
	}
	totalParamSlots := slot

	b := bytecode.NewBuilder()

	// try: push symbol.
	emitLdcString(b, pb, s.Symbol)
	b.OpU2(bytecode.OpInvokestatic, pb.Methodref(symbolstack.RuntimeClass, symbolstack.PushMethodName, symbolstack.PushMethodDescriptor))

	// re-push arguments in order, invoke the original inner call.
	for i, p := range paramTypes {
		emitLoad(b, bytecode.LoadOpcode(leadingTag(p)), locals[i])
	}
	emitOriginalInnerInvoke(b, pb, opcode, s, totalParamSlots)

	// pop() does not consume the stack slot(s) the inner call's return
	// value (if any) occupies: it is a zero-argument call, so it executes
	// underneath whatever is already on the operand stack.
	tryEnd := b.Len()
	b.OpU2(bytecode.OpInvokestatic, pb.Methodref(symbolstack.RuntimeClass, symbolstack.PopMethodName, symbolstack.PopMethodDescriptor))
	b.Op(bytecode.ReturnOpcode(inner.Return))

	handlerPC := b.Len()
	// catch any Throwable: pop(), then rethrow (Throwable is already on
	// the stack; pop() again executes beneath it).
	b.OpU2(bytecode.OpInvokestatic, pb.Methodref(symbolstack.RuntimeClass, symbolstack.PopMethodName, symbolstack.PopMethodDescriptor))
	b.Op(bytecode.OpAthrow)

	handler := classfile.ExceptionHandler{
		StartPC:   0,
		EndPC:     uint16(tryEnd),
		HandlerPC: uint16(handlerPC),
		CatchType: 0, // any
	}

	returnSize := bytecode.SlotSize(inner.Return)
	maxStack := totalParamSlots
	if returnSize > maxStack {
		maxStack = returnSize
	}
	maxStack += 2 // headroom for the symbol-string push and the Throwable slot

	method := classfile.MethodInfo{
		AccessFlags: classfile.AccStatic | classfile.AccPrivate | classfile.AccSynthetic,
		Name:        wrapperName,
		Descriptor:  wrapperDescriptor,
		Code: &classfile.CodeAttribute{
			MaxStack:          uint16(maxStack),
			MaxLocals:         uint16(totalParamSlots),
			Code:              b.Bytes(),
			ExceptionHandlers: []classfile.ExceptionHandler{handler},
		},
	}

	if classfile.NeedsStackMapFrames(cf.MajorVersion) {
		frame := classfile.Frame{
			Offset: handlerPC,
			Locals: verificationSlots(localTypes),
			Stack:  []classfile.VerificationSlot{{Type: classfile.VerifyObject, ClassName: "java/lang/Throwable"}},
		}
		method.Code.StackMapFrames = []classfile.Frame{frame}
	}

	return wrapperSite{name: wrapperName, descriptor: wrapperDescriptor}, method, nil
}

// emitOriginalInnerInvoke appends the invoke instruction to the inner call
// site itself, matching the original call's opcode kind.
func emitOriginalInnerInvoke(b *bytecode.Builder, pb *classfile.PoolBuilder, opcode byte, s *Script, argSlots int) uint16 {
	switch opcode {
	case bytecode.OpInvokeinterface:
		idx := interfaceMethodref(pb, s.InnerOwner, s.InnerName, s.InnerDescriptor)
		b.Op(bytecode.OpInvokeinterface).U2(idx).U1(byte(argSlots)).U1(0)
		return idx
	default:
		idx := pb.Methodref(s.InnerOwner, s.InnerName, s.InnerDescriptor)
		b.OpU2(opcode, idx)
		return idx
	}
}

// interfaceMethodref is PoolBuilder.Methodref's CONSTANT_InterfaceMethodref
// counterpart; pkg/classfile only de-duplicates the plain Methodref form,
// so interface call sites add their own entry directly.
func interfaceMethodref(pb *classfile.PoolBuilder, owner, name, desc string) uint16 {
	classIdx := pb.Class(owner)
	natIdx := pb.NameAndType(name, desc)
	return pb.RawAdd(&classfile.ConstantInterfaceMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

func emitLdcString(b *bytecode.Builder, pb *classfile.PoolBuilder, value string) {
	idx := pb.String(value)
	if idx <= 255 {
		b.OpU1(bytecode.OpLdc, byte(idx))
		return
	}
	b.OpU2(bytecode.OpLdcW, idx)
}

func emitLoad(b *bytecode.Builder, opcode byte, slot int) {
	if slot <= 255 {
		b.OpU1(opcode, byte(slot))
		return
	}
	b.Op(bytecode.OpWide).OpU2(opcode, uint16(slot))
}

func leadingTag(fieldDesc string) byte {
	if len(fieldDesc) == 0 {
		return 'I'
	}
	if fieldDesc[0] == '[' {
		return 'L'
	}
	return fieldDesc[0]
}

func verificationSlots(types []string) []classfile.VerificationSlot {
	out := make([]classfile.VerificationSlot, 0, len(types))
	for _, t := range types {
		out = append(out, verificationSlot(t))
	}
	return out
}

func verificationSlot(fieldDesc string) classfile.VerificationSlot {
	switch leadingTag(fieldDesc) {
	case 'J':
		return classfile.VerificationSlot{Type: classfile.VerifyLong}
	case 'F':
		return classfile.VerificationSlot{Type: classfile.VerifyFloat}
	case 'D':
		return classfile.VerificationSlot{Type: classfile.VerifyDouble}
	case 'L':
		if name, ok := internalClassOf(fieldDesc); ok {
			return classfile.VerificationSlot{Type: classfile.VerifyObject, ClassName: name}
		}
		return classfile.VerificationSlot{Type: classfile.VerifyObject, ClassName: "java/lang/Object"}
	default:
		return classfile.VerificationSlot{Type: classfile.VerifyInteger}
	}
}

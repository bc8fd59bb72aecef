package script

import (
	"fmt"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/logistics"
)

// hookSite is the resolved form of a hook reference: either an
// invokable (owner, descriptor) pair reached via INVOKESTATIC (Call or
// Transplant mode), or a raw instruction sequence to paste inline
// (Insert mode).
type hookSite struct {
	owner      string // internal name; empty when insertBody is set
	name       string
	descriptor string
	insertBody []byte // non-nil in Insert mode
}

// resolveHookSite turns a Script's hook configuration into a hookSite,
// transplanting the hook method into cf first if Transplant was
// requested (spec.md §4.4).
func resolveHookSite(s *Script, h *hook.Hook, cf *classfile.ClassFile, loader classloader.Loader) (hookSite, error) {
	if s.Insert {
		body, err := hook.InsertBody(*h, loader)
		if err != nil {
			return hookSite{}, err
		}
		return hookSite{insertBody: body}, nil
	}
	if s.Transplant {
		if err := hook.EnsureTransplanted(*h, cf, loader); err != nil {
			return hookSite{}, err
		}
		owner, err := cf.ClassName()
		if err != nil {
			return hookSite{}, err
		}
		return hookSite{owner: owner, name: h.Name, descriptor: h.Descriptor()}, nil
	}
	return hookSite{owner: h.Owner, name: h.Name, descriptor: h.Descriptor()}, nil
}

// emitInvoke appends an INVOKESTATIC to the resolved hook, or the hook's
// inlined body in Insert mode.
func emitInvoke(b *bytecode.Builder, cf *classfile.ClassFile, site hookSite, localOffset int) error {
	if site.insertBody != nil {
		remapped, err := bytecode.RemapLocalSlots(site.insertBody, localOffset)
		if err != nil {
			return err
		}
		b.Append(remapped)
		return nil
	}
	pb := classfile.NewPoolBuilder(cf)
	idx := pb.Methodref(site.owner, site.name, site.descriptor)
	b.OpU2(bytecode.OpInvokestatic, idx)
	return nil
}

// emitStackRequest pushes the value a single (non-RETURN_VALUE) stack
// request asks for.
func emitStackRequest(b *bytecode.Builder, req StackRequest, lg logistics.Logistics) error {
	if req == This {
		if lg.IsStatic {
			b.Op(bytecode.OpAconstNull)
			return nil
		}
		b.Op(lg.ReceiverLoadOpcode())
		return nil
	}
	idx := req.ParamIndex()
	if idx < 0 || idx >= len(lg.Params) {
		return &InvalidConfigurationError{Reason: fmt.Sprintf("PARAM%d requested but method has %d parameters", idx+1, len(lg.Params))}
	}
	p := lg.Params[idx]
	if p.Slot <= 255 {
		b.OpU1(p.LoadOp, byte(p.Slot))
	} else {
		b.Op(bytecode.OpWide).OpU2(p.LoadOp, uint16(p.Slot))
	}
	return nil
}

// emitNonReturnStackRequests pushes every request in reqs except
// ReturnValue (which callers push separately, since whether and how it
// is already on the stack is rewrite-specific), in canonical order.
func emitNonReturnStackRequests(b *bytecode.Builder, reqs []StackRequest, lg logistics.Logistics) error {
	for _, r := range CanonicalOrder(reqs) {
		if r == ReturnValue {
			continue
		}
		if err := emitStackRequest(b, r, lg); err != nil {
			return err
		}
	}
	return nil
}

// rewriteMethodCode replaces m's Code.Code with newCode, widens
// MaxStack/MaxLocals as needed, and installs frames as the method's
// StackMapTable (ignored when the class's major version is below 50).
// Callers that spliced bytes in without introducing any new branch
// target pass the method's pre-existing frames translated through
// relocateFrames; callers that cannot characterize the edit precisely
// pass nil, which drops any pre-existing frames rather than leave them
// describing the wrong offsets.
func rewriteMethodCode(cf *classfile.ClassFile, m *classfile.MethodInfo, newCode []byte, extraStack, extraLocals int, frames []classfile.Frame) {
	m.Code.Code = newCode
	m.Code.MaxStack += uint16(extraStack)
	m.Code.MaxLocals += uint16(extraLocals)
	if classfile.NeedsStackMapFrames(cf.MajorVersion) {
		m.Code.StackMapFrames = frames
	}
}

// relocateFrames translates each frame's Offset, and any VerifyUninit
// slot's embedded NEW offset, across a splice described by breakpoints
// (see bytecode.MapOffset). Splices insert bytes or replace an instruction
// in place, never reorder instructions, so frames stay in ascending Offset
// order.
func relocateFrames(frames []classfile.Frame, breakpoints []bytecode.Breakpoint) []classfile.Frame {
	if len(frames) == 0 {
		return nil
	}
	out := make([]classfile.Frame, len(frames))
	for i, f := range frames {
		out[i] = classfile.Frame{
			Offset: bytecode.MapOffset(breakpoints, f.Offset),
			Locals: relocateSlots(f.Locals, breakpoints),
			Stack:  relocateSlots(f.Stack, breakpoints),
		}
	}
	return out
}

func relocateSlots(slots []classfile.VerificationSlot, breakpoints []bytecode.Breakpoint) []classfile.VerificationSlot {
	if slots == nil {
		return nil
	}
	out := make([]classfile.VerificationSlot, len(slots))
	copy(out, slots)
	for i, s := range out {
		if s.Type == classfile.VerifyUninit {
			out[i].Offset = bytecode.MapOffset(breakpoints, s.Offset)
		}
	}
	return out
}

// entryLocals computes the locals a method's (implicit) frame 0 carries:
// the receiver, if any, followed by its formal parameters in order. A
// rewriter that branches to a fresh target whose reachable state is
// exactly the method's entry state (e.g. ExitEarly's branch into the
// untouched original body) uses this to synthesize that target's frame.
func entryLocals(cf *classfile.ClassFile, m *classfile.MethodInfo, lg logistics.Logistics) ([]classfile.VerificationSlot, error) {
	var locals []classfile.VerificationSlot
	if !lg.IsStatic {
		if m.Name == "<init>" {
			locals = append(locals, classfile.VerificationSlot{Type: classfile.VerifyUninitThis})
		} else {
			owner, err := cf.ClassName()
			if err != nil {
				return nil, err
			}
			locals = append(locals, classfile.VerificationSlot{Type: classfile.VerifyObject, ClassName: owner})
		}
	}
	for _, p := range lg.Params {
		locals = append(locals, verificationSlot(p.Type))
	}
	return locals, nil
}

// Package hook implements the transplant/insert/call dispatch support
// described in spec.md §4.4: locating a user-supplied helper method's
// defining class file and either calling it in place, copying it whole
// into the target class ("transplant"), or splicing its body directly
// at a call site ("insert").
package hook

import (
	"fmt"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
)

// UnresolvableHookError reports that a hook's defining class file, or the
// method itself, could not be read when Transplant or Insert was
// requested.
type UnresolvableHookError struct {
	Hook   Hook
	Reason string
}

func (e *UnresolvableHookError) Error() string {
	return fmt.Sprintf("hook: cannot resolve %s.%s%s: %s", e.Hook.Owner, e.Hook.Name, e.Hook.Descriptor(), e.Reason)
}

// Hook is the immutable 4-tuple naming a static helper method supplied by
// the library user (spec.md §3).
type Hook struct {
	Owner  string // internal name, e.g. "com/example/Hooks"
	Name   string
	Return string   // descriptor-form return type, e.g. "I", "V", "Ljava/lang/Object;"
	Params []string // descriptor-form parameter types, in order
}

// New builds a Hook from its internal-name owner and descriptor-form
// return/parameter types.
func New(owner, name, returnType string, paramTypes ...string) Hook {
	return Hook{Owner: owner, Name: name, Return: returnType, Params: append([]string(nil), paramTypes...)}
}

// Descriptor projects the hook into method-descriptor form,
// "(<params>)<return>", per spec.md §3's "knows how to project itself
// into descriptor form".
func (h Hook) Descriptor() string {
	return descriptorOf(h)
}

// Resolve locates the hook's defining class file via loader and returns
// the matching method, applying the hook-class locator indirection
// (classloader.ResourceMapper) the caller configured into loader.
func Resolve(h Hook, loader classloader.Loader) (*classfile.ClassFile, *classfile.MethodInfo, error) {
	cf, err := loader.LoadClass(h.Owner)
	if err != nil {
		return nil, nil, &UnresolvableHookError{Hook: h, Reason: err.Error()}
	}
	desc := descriptorOf(h)
	m := cf.FindMethod(h.Name, desc)
	if m == nil {
		return nil, nil, &UnresolvableHookError{Hook: h, Reason: fmt.Sprintf("no method %s%s in %s", h.Name, desc, h.Owner)}
	}
	return cf, m, nil
}

func descriptorOf(h Hook) string {
	s := "("
	for _, p := range h.Params {
		s += p
	}
	return s + ")" + h.Return
}

// EnsureTransplanted copies the hook's method (bytecode, exception table,
// stack-map frames) into target under its own name and descriptor, unless
// a method of that name and descriptor already exists in target (a
// previous patch already transplanted it, per spec.md §4.4's "Transplant
// must skip if a method of the same name+descriptor already exists").
// The caller then emits an INVOKESTATIC <target-class> to reach it.
func EnsureTransplanted(h Hook, target *classfile.ClassFile, loader classloader.Loader) error {
	desc := descriptorOf(h)
	if existing := target.FindMethod(h.Name, desc); existing != nil {
		return nil
	}
	_, m, err := Resolve(h, loader)
	if err != nil {
		return err
	}
	target.Methods = append(target.Methods, copyMethod(*m, h.Name, desc))
	return nil
}

func copyMethod(m classfile.MethodInfo, name, descriptor string) classfile.MethodInfo {
	out := classfile.MethodInfo{
		AccessFlags: m.AccessFlags,
		Name:        name,
		Descriptor:  descriptor,
	}
	if m.Code != nil {
		code := make([]byte, len(m.Code.Code))
		copy(code, m.Code.Code)
		handlers := make([]classfile.ExceptionHandler, len(m.Code.ExceptionHandlers))
		copy(handlers, m.Code.ExceptionHandlers)
		out.Code = &classfile.CodeAttribute{
			MaxStack:          m.Code.MaxStack,
			MaxLocals:         m.Code.MaxLocals,
			Code:              code,
			ExceptionHandlers: handlers,
			StackMapFrames:    append([]classfile.Frame(nil), m.Code.StackMapFrames...),
		}
	}
	return out
}

// InsertBody returns the hook's Code bytes with its terminal return
// instruction stripped, for pasting inline at a call site (spec.md
// §4.4's "Insert" mode). It requires the hook's body to end in exactly
// one return instruction with nothing reachable after it — a single
// linear body, per the spec's constraint on Insert.
func InsertBody(h Hook, loader classloader.Loader) ([]byte, error) {
	_, m, err := Resolve(h, loader)
	if err != nil {
		return nil, err
	}
	if m.Code == nil {
		return nil, &UnresolvableHookError{Hook: h, Reason: "hook method has no Code attribute"}
	}
	instrs, err := bytecode.Instructions(m.Code.Code)
	if err != nil {
		return nil, &UnresolvableHookError{Hook: h, Reason: fmt.Sprintf("decoding hook body: %v", err)}
	}
	if len(instrs) == 0 {
		return nil, &UnresolvableHookError{Hook: h, Reason: "hook method has an empty body"}
	}
	last := instrs[len(instrs)-1]
	if !bytecode.IsReturn(last.Opcode) {
		return nil, &UnresolvableHookError{Hook: h, Reason: "hook body does not end in a return instruction"}
	}
	body := make([]byte, last.Offset)
	copy(body, m.Code.Code[:last.Offset])
	return body, nil
}

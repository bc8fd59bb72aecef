// Package target implements the matcher that decides whether a given
// (owner, method name, method descriptor) triple belongs to a script's
// target set (spec.md §4.2).
package target

import "github.com/patchlang/jvmpatch/pkg/descriptor"

// MethodTarget is an immutable specification of a set of methods. When
// Return and Params are both nil, the target matches any overload of the
// named method; otherwise it matches exactly one signature.
type MethodTarget struct {
	Owner  string // dotted human class name, e.g. "java.lang.Thread"
	Name   string
	Return *string  // dotted human type, or nil for "any overload"
	Params []string // dotted human types, or nil together with Return
}

// New builds a MethodTarget that matches any overload of owner.name.
func New(owner, name string) MethodTarget {
	return MethodTarget{Owner: owner, Name: name}
}

// NewWithSignature builds a MethodTarget that matches exactly one overload.
func NewWithSignature(owner, name, ret string, params ...string) MethodTarget {
	return MethodTarget{Owner: owner, Name: name, Return: &ret, Params: params}
}

// HasSignature reports whether this target was built with an explicit
// return type and parameter list.
func (t MethodTarget) HasSignature() bool {
	return t.Return != nil
}

// Matches reports whether (ownerInternal, methodName, methodDescriptor)
// belongs to this target's method set.
func (t MethodTarget) Matches(ownerInternal, methodName, methodDescriptor string) bool {
	if methodName != t.Name {
		return false
	}
	if !descriptor.ClassSpecMatch(ownerInternal, t.Owner) {
		return false
	}
	if !t.HasSignature() {
		return true
	}

	decomposed, err := descriptor.Decompose(methodDescriptor)
	if err != nil {
		return false
	}
	if len(decomposed.Params) != len(t.Params) {
		return false
	}
	if !descriptor.TypeSpecMatch(decomposed.Return, *t.Return) {
		return false
	}
	for i, p := range decomposed.Params {
		if !descriptor.TypeSpecMatch(p, t.Params[i]) {
			return false
		}
	}
	return true
}

// AffectedClass returns the dotted class name this target may affect.
// Script builders union these across all of a script's targets to
// short-circuit the manager's per-class filtering (spec.md §4.2, §4.7).
func (t MethodTarget) AffectedClass() string {
	return t.Owner
}

package manager

import (
	"github.com/patchlang/jvmpatch/pkg/classloader"
)

// Filter implements spec.md §6's shouldTransform predicate. The original
// signature also carries a classBeingRedefined reference and a
// protectionDomain; neither has a Go-idiomatic equivalent in this core
// (there is no host security-manager concept to thread through), so both
// are dropped here -- a caller that needs redefinition-aware filtering can
// still branch on internalName and classBytes.
type Filter func(loader classloader.Loader, internalName string, classBytes []byte) bool

// AlwaysTransform is the default Filter: every class is offered to the
// active scripts.
func AlwaysTransform(classloader.Loader, string, []byte) bool {
	return true
}

// Package script implements the six primitive bytecode rewrites
// (spec.md §4.5) as a tagged variant ("PatchScript") over one shared
// Script struct, plus their validated builders. Each variant implements
// the same (name, bytes, mapper) -> bytes? contract spec.md §9
// describes: Patch returns nil, not an error, when the script has
// nothing to do to a given class.
package script

import (
	"fmt"
	"sort"

	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/descriptor"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/target"
)

// Kind identifies which of the six primitives (or an unknown
// user-extension variant, per spec.md §9) a Script is.
type Kind int

const (
	KindAddField Kind = iota
	KindExitEarly
	KindWrapReturnValues
	KindWrapMethodCall
	KindReplaceMethodCall
	KindSetSymbolDuringMethodCall
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindAddField:
		return "AddField"
	case KindExitEarly:
		return "ExitEarly"
	case KindWrapReturnValues:
		return "WrapReturnValues"
	case KindWrapMethodCall:
		return "WrapMethodCall"
	case KindReplaceMethodCall:
		return "ReplaceMethodCall"
	case KindSetSymbolDuringMethodCall:
		return "SetSymbolDuringMethodCall"
	default:
		return "Unknown"
	}
}

// StackRequest identifies one argument a rewriter must push for a hook:
// the tentative return value, the outer method's receiver, or one of its
// first six parameters. The numeric order is the canonical ordering
// contract from spec.md §3: RETURN_VALUE, then THIS, then PARAM1…PARAM6.
type StackRequest int

const (
	ReturnValue StackRequest = iota
	This
	Param1
	Param2
	Param3
	Param4
	Param5
	Param6
)

// ParamN returns the StackRequest for the n-th parameter (1-based),
// n in [1,6].
func ParamN(n int) (StackRequest, error) {
	if n < 1 || n > 6 {
		return 0, fmt.Errorf("script: parameter stack request out of range: PARAM%d", n)
	}
	return StackRequest(Param1 + StackRequest(n-1)), nil
}

// ParamIndex returns the 0-based parameter index a PARAMn request refers
// to, or -1 if r is not a parameter request.
func (r StackRequest) ParamIndex() int {
	if r < Param1 {
		return -1
	}
	return int(r - Param1)
}

// CanonicalOrder returns reqs deduplicated and sorted into the canonical
// RETURN_VALUE, THIS, PARAM1…PARAM6 order (spec.md §3).
func CanonicalOrder(reqs []StackRequest) []StackRequest {
	seen := make(map[StackRequest]bool, len(reqs))
	out := make([]StackRequest, 0, len(reqs))
	for _, r := range reqs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether reqs contains r.
func Has(reqs []StackRequest, r StackRequest) bool {
	for _, x := range reqs {
		if x == r {
			return true
		}
	}
	return false
}

// InvalidConfigurationError reports that a script builder rejected an
// invalid combination of inputs (spec.md §7).
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("script: invalid configuration: %s", e.Reason)
}

// Script is the tagged union over the six primitive rewrites. Only the
// fields relevant to Kind are populated; builders in the sibling files of
// this package (NewAddFieldScript, NewExitEarlyScript, ...) are the
// supported way to construct one, since they enforce the invariants
// spec.md §4.5 lists per primitive.
type Script struct {
	Kind Kind
	Name string // human name, used to prefix TransformFailure log lines

	// AddField
	TargetClasses []string // dotted human class names
	FieldAccess   uint16
	FieldName     string
	FieldType     string // descriptor form
	HasConstant   bool
	ConstantValue classfile.ConstantPoolEntry

	// Method-targeted primitives
	Matcher target.MethodTarget

	// ExitEarly
	DecisionHook   *hook.Hook
	ValueHook      *hook.Hook
	InsertCallOnly bool

	// WrapReturnValues / ExitEarly shared hook-dispatch knobs
	Hook          *hook.Hook
	StackRequests []StackRequest
	Transplant    bool
	Insert        bool
	Cast          bool

	// WrapMethodCall / ReplaceMethodCall / SetSymbolDuringMethodCall:
	// the inner call site being matched.
	InnerOwner      string // internal name
	InnerName       string
	InnerDescriptor string

	// SetSymbolDuringMethodCall
	Symbol string

	// ClassesToReload lists classes (dotted names) the host runtime should
	// be asked to re-transform once this script is active (spec.md §4.7).
	ClassesToReload []string
}

// AffectedClasses returns the dotted class names this script may touch,
// the union pkg/manager uses to short-circuit per-class filtering.
func (s Script) AffectedClasses() []string {
	if s.Kind == KindAddField {
		return s.TargetClasses
	}
	return []string{s.Matcher.AffectedClass()}
}

// Patch applies the script to one class's bytes. It returns (nil, nil)
// when the script has nothing to do to this class — the manager's
// contract from spec.md §4.7 treats that the same as "no output".
func Patch(s *Script, loader classloader.Loader, mapper classloader.ResourceMapper, classBytesParsed *classfile.ClassFile) (*classfile.ClassFile, error) {
	switch s.Kind {
	case KindAddField:
		return patchAddField(s, classBytesParsed)
	case KindExitEarly:
		return patchExitEarly(s, classBytesParsed, loader)
	case KindWrapReturnValues:
		return patchWrapReturnValues(s, classBytesParsed, loader)
	case KindWrapMethodCall:
		return patchWrapMethodCall(s, classBytesParsed, loader)
	case KindReplaceMethodCall:
		return patchReplaceMethodCall(s, classBytesParsed, loader)
	case KindSetSymbolDuringMethodCall:
		return patchSetSymbolDuringMethodCall(s, classBytesParsed, loader)
	default:
		return nil, fmt.Errorf("script: unknown kind %v", s.Kind)
	}
}

// classMatches reports whether cf's own internal class name belongs to
// the script's target set, used by every method-targeted primitive before
// it bothers walking methods (spec.md §4.5's "asks its matcher whether
// any method of this class needs attention").
func classMatches(m target.MethodTarget, cf *classfile.ClassFile) bool {
	name, err := cf.ClassName()
	if err != nil {
		return false
	}
	return descriptor.ClassSpecMatch(name, m.Owner)
}

package script

import "github.com/patchlang/jvmpatch/pkg/classfile"

const (
	accPublic    = 0x0001
	accPrivate   = 0x0002
	accProtected = 0x0004
	accStatic    = 0x0008
	accFinal     = 0x0010
	accVolatile  = 0x0040
	accTransient = 0x0080
)

// FieldAccessBuilder accumulates the access-flag fluent setters spec.md
// §4.5.1 describes: at most one scope modifier, plus any of
// {static, final, volatile, transient}.
type FieldAccessBuilder struct {
	flags      uint16
	scopeBits  int
}

// NewFieldAccess starts from package-private (no scope bit set).
func NewFieldAccess() *FieldAccessBuilder {
	return &FieldAccessBuilder{}
}

func (b *FieldAccessBuilder) setScope(bit uint16) *FieldAccessBuilder {
	b.flags |= bit
	b.scopeBits++
	return b
}

func (b *FieldAccessBuilder) Public() *FieldAccessBuilder    { return b.setScope(accPublic) }
func (b *FieldAccessBuilder) Private() *FieldAccessBuilder   { return b.setScope(accPrivate) }
func (b *FieldAccessBuilder) Protected() *FieldAccessBuilder { return b.setScope(accProtected) }

func (b *FieldAccessBuilder) Static() *FieldAccessBuilder    { b.flags |= accStatic; return b }
func (b *FieldAccessBuilder) Final() *FieldAccessBuilder     { b.flags |= accFinal; return b }
func (b *FieldAccessBuilder) Volatile() *FieldAccessBuilder  { b.flags |= accVolatile; return b }
func (b *FieldAccessBuilder) Transient() *FieldAccessBuilder { b.flags |= accTransient; return b }

// Build validates and returns the access-flag bitmask.
func (b *FieldAccessBuilder) Build() (uint16, error) {
	if b.scopeBits > 1 {
		return 0, &InvalidConfigurationError{Reason: "a field may set at most one visibility scope"}
	}
	return b.flags, nil
}

// NewAddFieldScript validates and builds an AddField script (spec.md
// §4.5.1). constantValue may be nil; when non-nil, access is forced to
// ACC_STATIC | ACC_FINAL regardless of what was requested.
func NewAddFieldScript(name string, targetClasses []string, access uint16, fieldName, fieldType string, constantValue classfile.ConstantPoolEntry) (*Script, error) {
	if fieldName == "" {
		return nil, &InvalidConfigurationError{Reason: "AddField requires a field name"}
	}
	if fieldType == "" {
		return nil, &InvalidConfigurationError{Reason: "AddField requires a field type"}
	}
	if len(targetClasses) == 0 {
		return nil, &InvalidConfigurationError{Reason: "AddField requires at least one target class"}
	}
	if constantValue != nil {
		access |= accStatic | accFinal
	}
	return &Script{
		Kind:          KindAddField,
		Name:          name,
		TargetClasses: targetClasses,
		FieldAccess:   access,
		FieldName:     fieldName,
		FieldType:     fieldType,
		HasConstant:   constantValue != nil,
		ConstantValue: constantValue,
	}, nil
}

func patchAddField(s *Script, cf *classfile.ClassFile) (*classfile.ClassFile, error) {
	className, err := cf.ClassName()
	if err != nil {
		return nil, nil
	}
	matched := false
	for _, target := range s.TargetClasses {
		if classNameMatchesDotted(className, target) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil
	}
	if cf.FindFieldByName(s.FieldName) != nil {
		return nil, nil // already present, per spec "do not add a second"
	}

	field := classfile.FieldInfo{
		AccessFlags: s.FieldAccess,
		Name:        s.FieldName,
		Descriptor:  s.FieldType,
	}
	if s.HasConstant {
		pb := classfile.NewPoolBuilder(cf)
		idx := pb.RawAdd(s.ConstantValue)
		field.Attributes = append(field.Attributes, constantValueAttribute(idx))
	}
	cf.Fields = append(cf.Fields, field)
	return cf, nil
}

func classNameMatchesDotted(internalName, dotted string) bool {
	return normalizeClassName(internalName) == normalizeClassName(dotted)
}

func normalizeClassName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == '$' {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}

func constantValueAttribute(cpIndex uint16) classfile.AttributeInfo {
	return classfile.AttributeInfo{
		Name: "ConstantValue",
		Data: []byte{byte(cpIndex >> 8), byte(cpIndex)},
	}
}

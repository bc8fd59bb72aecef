package classfile

// PoolBuilder mutates a class's constant pool in place, de-duplicating
// entries the way `javac` and every JVM bytecode writer does: a rewriter
// asking for a UTF8, Class, NameAndType, Methodref, Fieldref, or String
// entry that already exists gets the existing index back instead of a
// fresh duplicate. This keeps repeated patches (one script's output
// feeding the next script's input, per spec.md §4.7) from growing the
// constant pool without bound.
type PoolBuilder struct {
	cf *ClassFile
}

// NewPoolBuilder wraps a ClassFile's constant pool for incremental additions.
func NewPoolBuilder(cf *ClassFile) *PoolBuilder {
	return &PoolBuilder{cf: cf}
}

func (b *PoolBuilder) add(entry ConstantPoolEntry) uint16 {
	b.cf.ConstantPool = append(b.cf.ConstantPool, entry)
	return uint16(len(b.cf.ConstantPool) - 1)
}

// RawAdd appends entry unconditionally, without de-duplication. Used for
// entries (Integer/Float/Long/Double constants) that a caller builds
// itself and knows is intended to be a fresh slot.
func (b *PoolBuilder) RawAdd(entry ConstantPoolEntry) uint16 {
	return b.add(entry)
}

// Utf8 returns the index of a CONSTANT_Utf8 entry with the given value,
// adding one if none exists yet.
func (b *PoolBuilder) Utf8(value string) uint16 {
	for i, e := range b.cf.ConstantPool {
		if u, ok := e.(*ConstantUtf8); ok && u.Value == value {
			return uint16(i)
		}
	}
	return b.add(&ConstantUtf8{Value: value})
}

// Class returns the index of a CONSTANT_Class entry for the given internal
// name, adding one (and its backing Utf8) if needed.
func (b *PoolBuilder) Class(internalName string) uint16 {
	nameIdx := b.Utf8(internalName)
	for i, e := range b.cf.ConstantPool {
		if c, ok := e.(*ConstantClass); ok && c.NameIndex == nameIdx {
			return uint16(i)
		}
	}
	return b.add(&ConstantClass{NameIndex: nameIdx})
}

// NameAndType returns the index of a CONSTANT_NameAndType entry.
func (b *PoolBuilder) NameAndType(name, descriptor string) uint16 {
	nameIdx := b.Utf8(name)
	descIdx := b.Utf8(descriptor)
	for i, e := range b.cf.ConstantPool {
		if nat, ok := e.(*ConstantNameAndType); ok && nat.NameIndex == nameIdx && nat.DescriptorIndex == descIdx {
			return uint16(i)
		}
	}
	return b.add(&ConstantNameAndType{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

// Methodref returns the index of a CONSTANT_Methodref entry for
// owner.name:descriptor, adding whatever backing entries are missing.
func (b *PoolBuilder) Methodref(ownerInternal, name, descriptor string) uint16 {
	classIdx := b.Class(ownerInternal)
	natIdx := b.NameAndType(name, descriptor)
	for i, e := range b.cf.ConstantPool {
		if m, ok := e.(*ConstantMethodref); ok && m.ClassIndex == classIdx && m.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return b.add(&ConstantMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// Fieldref returns the index of a CONSTANT_Fieldref entry for
// owner.name:descriptor.
func (b *PoolBuilder) Fieldref(ownerInternal, name, descriptor string) uint16 {
	classIdx := b.Class(ownerInternal)
	natIdx := b.NameAndType(name, descriptor)
	for i, e := range b.cf.ConstantPool {
		if f, ok := e.(*ConstantFieldref); ok && f.ClassIndex == classIdx && f.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return b.add(&ConstantFieldref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// String returns the index of a CONSTANT_String entry for the given value
// (e.g. a symbol pushed by SetSymbolDuringMethodCall, spec.md §4.5.6).
func (b *PoolBuilder) String(value string) uint16 {
	strIdx := b.Utf8(value)
	for i, e := range b.cf.ConstantPool {
		if s, ok := e.(*ConstantString); ok && s.StringIndex == strIdx {
			return uint16(i)
		}
	}
	return b.add(&ConstantString{StringIndex: strIdx})
}

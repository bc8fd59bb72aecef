package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Write serializes a ClassFile back to its binary form. It is the
// counterpart of Parse: every rewriter in pkg/script calls Write once it
// has finished mutating a class's methods, fields, and constant pool.
func Write(cf *ClassFile) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, uint32(classMagic)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, cf.MinorVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, cf.MajorVersion); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, cf.AccessFlags); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, cf.ThisClass); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, cf.SuperClass); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(cf.Interfaces))); err != nil {
		return nil, err
	}
	for _, iface := range cf.Interfaces {
		if err := binary.Write(&buf, binary.BigEndian, iface); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(cf.Fields))); err != nil {
		return nil, err
	}
	for _, f := range cf.Fields {
		if err := writeMember(&buf, f.AccessFlags, f.Name, f.Descriptor, f.Attributes, cf); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", f.Name, err)
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(cf.Methods))); err != nil {
		return nil, err
	}
	for _, m := range cf.Methods {
		attrs, err := methodAttributes(m, cf)
		if err != nil {
			return nil, fmt.Errorf("building attributes for method %s: %w", m.Name, err)
		}
		if err := writeMember(&buf, m.AccessFlags, m.Name, m.Descriptor, attrs, cf); err != nil {
			return nil, fmt.Errorf("writing method %s: %w", m.Name, err)
		}
	}

	classAttrs, err := classAttributes(cf)
	if err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(classAttrs))); err != nil {
		return nil, err
	}
	for _, a := range classAttrs {
		if err := writeAttribute(&buf, a, cf); err != nil {
			return nil, err
		}
	}

	// Writing members and attributes can add entries to the constant pool,
	// so the pool is serialized last and spliced in after the 8-byte
	// magic/version header.
	var out bytes.Buffer
	out.Write(buf.Bytes()[:8])
	if err := writeConstantPool(&out, cf.ConstantPool); err != nil {
		return nil, fmt.Errorf("writing constant pool: %w", err)
	}
	out.Write(buf.Bytes()[8:])
	return out.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, access uint16, name, desc string, attrs []AttributeInfo, cf *ClassFile) error {
	pb := NewPoolBuilder(cf)
	if err := binary.Write(buf, binary.BigEndian, access); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, pb.Utf8(name)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, pb.Utf8(desc)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(attrs))); err != nil {
		return err
	}
	for _, a := range attrs {
		if err := writeAttribute(buf, a, cf); err != nil {
			return err
		}
	}
	return nil
}

func writeAttribute(buf *bytes.Buffer, a AttributeInfo, cf *ClassFile) error {
	pb := NewPoolBuilder(cf)
	if err := binary.Write(buf, binary.BigEndian, pb.Utf8(a.Name)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(a.Data))); err != nil {
		return err
	}
	buf.Write(a.Data)
	return nil
}

// methodAttributes regenerates the Code attribute bytes (and any
// StackMapTable sub-attribute) from a MethodInfo's typed Code field,
// folding them back into the generic AttributeInfo list that
// writeMember/writeAttribute serialize.
func methodAttributes(m MethodInfo, cf *ClassFile) ([]AttributeInfo, error) {
	if m.Code == nil {
		return m.Attributes, nil
	}
	codeData, err := encodeCodeAttribute(m.Code, cf)
	if err != nil {
		return nil, err
	}
	out := make([]AttributeInfo, 0, len(m.Attributes)+1)
	replaced := false
	for _, a := range m.Attributes {
		if a.Name == "Code" {
			out = append(out, AttributeInfo{Name: "Code", Data: codeData})
			replaced = true
			continue
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, AttributeInfo{Name: "Code", Data: codeData})
	}
	return out, nil
}

func encodeCodeAttribute(c *CodeAttribute, cf *ClassFile) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, c.MaxStack); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.MaxLocals); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(c.Code))); err != nil {
		return nil, err
	}
	buf.Write(c.Code)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(c.ExceptionHandlers))); err != nil {
		return nil, err
	}
	for _, h := range c.ExceptionHandlers {
		if err := binary.Write(&buf, binary.BigEndian, h.StartPC); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, h.EndPC); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, h.HandlerPC); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, h.CatchType); err != nil {
			return nil, err
		}
	}

	var codeAttrs []AttributeInfo
	if len(c.StackMapFrames) > 0 {
		pb := NewPoolBuilder(cf)
		smt, err := encodeStackMapTable(c.StackMapFrames, pb)
		if err != nil {
			return nil, err
		}
		codeAttrs = append(codeAttrs, AttributeInfo{Name: "StackMapTable", Data: smt})
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(codeAttrs))); err != nil {
		return nil, err
	}
	for _, a := range codeAttrs {
		if err := writeAttribute(&buf, a, cf); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func classAttributes(cf *ClassFile) ([]AttributeInfo, error) {
	var out []AttributeInfo
	if len(cf.BootstrapMethods) > 0 {
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(cf.BootstrapMethods))); err != nil {
			return nil, err
		}
		for _, bm := range cf.BootstrapMethods {
			if err := binary.Write(&buf, binary.BigEndian, bm.MethodRef); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.BigEndian, uint16(len(bm.BootstrapArguments))); err != nil {
				return nil, err
			}
			for _, arg := range bm.BootstrapArguments {
				if err := binary.Write(&buf, binary.BigEndian, arg); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, AttributeInfo{Name: "BootstrapMethods", Data: buf.Bytes()})
	}
	return out, nil
}

func writeConstantPool(buf *bytes.Buffer, pool []ConstantPoolEntry) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(len(pool))); err != nil {
		return err
	}
	for i := 1; i < len(pool); i++ {
		entry := pool[i]
		if entry == nil {
			continue // the high slot of a preceding Long/Double
		}
		if err := binary.Write(buf, binary.BigEndian, entry.Tag()); err != nil {
			return err
		}
		switch e := entry.(type) {
		case *ConstantUtf8:
			b := []byte(e.Value)
			if err := binary.Write(buf, binary.BigEndian, uint16(len(b))); err != nil {
				return err
			}
			buf.Write(b)
		case *ConstantInteger:
			if err := binary.Write(buf, binary.BigEndian, e.Value); err != nil {
				return err
			}
		case *ConstantFloat:
			if err := binary.Write(buf, binary.BigEndian, e.Value); err != nil {
				return err
			}
		case *ConstantLong:
			if err := binary.Write(buf, binary.BigEndian, e.Value); err != nil {
				return err
			}
		case *ConstantDouble:
			if err := binary.Write(buf, binary.BigEndian, e.Value); err != nil {
				return err
			}
		case *ConstantClass:
			if err := binary.Write(buf, binary.BigEndian, e.NameIndex); err != nil {
				return err
			}
		case *ConstantString:
			if err := binary.Write(buf, binary.BigEndian, e.StringIndex); err != nil {
				return err
			}
		case *ConstantFieldref:
			if err := binary.Write(buf, binary.BigEndian, e.ClassIndex); err != nil {
				return err
			}
			if err := binary.Write(buf, binary.BigEndian, e.NameAndTypeIndex); err != nil {
				return err
			}
		case *ConstantMethodref:
			if err := binary.Write(buf, binary.BigEndian, e.ClassIndex); err != nil {
				return err
			}
			if err := binary.Write(buf, binary.BigEndian, e.NameAndTypeIndex); err != nil {
				return err
			}
		case *ConstantInterfaceMethodref:
			if err := binary.Write(buf, binary.BigEndian, e.ClassIndex); err != nil {
				return err
			}
			if err := binary.Write(buf, binary.BigEndian, e.NameAndTypeIndex); err != nil {
				return err
			}
		case *ConstantNameAndType:
			if err := binary.Write(buf, binary.BigEndian, e.NameIndex); err != nil {
				return err
			}
			if err := binary.Write(buf, binary.BigEndian, e.DescriptorIndex); err != nil {
				return err
			}
		default:
			return fmt.Errorf("writing constant pool index %d: unsupported entry type %T", i, entry)
		}
		if entry.Tag() == TagLong || entry.Tag() == TagDouble {
			i++ // the next slot is reserved, per the JVM spec
		}
	}
	return nil
}

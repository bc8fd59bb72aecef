// Package logistics computes the per-method derived table spec.md §4.3
// calls "method logistics": local-variable slot indices, slot sizes, and
// the type-specific opcodes a rewriter needs to push a parameter, push the
// receiver, or return.
package logistics

import (
	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/descriptor"
)

// AccStatic mirrors the class-file access flag, duplicated here (rather
// than imported from pkg/classfile) so this package has no dependency on
// the class-file reader/writer — it only needs the single bit.
const AccStatic = 0x0008

// Param describes one formal parameter's logistics.
type Param struct {
	Type      string
	Slot      int
	Size      int
	LoadOp    byte
}

// Logistics is the derived table for one (access flags, descriptor) pair.
type Logistics struct {
	IsStatic   bool
	ReturnType string
	ReturnSize int
	ReturnOp   byte
	Params     []Param
	// NextSlot is the first local-variable slot available after the
	// receiver (if any) and all parameters — property 3 of spec.md §8.
	NextSlot int
}

// Compute derives the logistics table for a method from its access flags
// and descriptor. It returns a *descriptor.MalformedDescriptor if desc
// does not parse.
func Compute(access uint16, desc string) (Logistics, error) {
	m, err := descriptor.Decompose(desc)
	if err != nil {
		return Logistics{}, err
	}

	isStatic := access&AccStatic != 0
	slot := 0
	if !isStatic {
		slot = 1 // slot 0 is the receiver
	}

	params := make([]Param, len(m.Params))
	for i, p := range m.Params {
		size := bytecode.SlotSize(p)
		params[i] = Param{
			Type:   p,
			Slot:   slot,
			Size:   size,
			LoadOp: bytecode.LoadOpcode(typeTag(p)),
		}
		slot += size
	}

	return Logistics{
		IsStatic:   isStatic,
		ReturnType: m.Return,
		ReturnSize: bytecode.SlotSize(m.Return),
		ReturnOp:   bytecode.ReturnOpcode(m.Return),
		Params:     params,
		NextSlot:   slot,
	}, nil
}

// typeTag returns the leading type tag of a field descriptor (treating
// array descriptors as reference type 'L' for load-opcode purposes).
func typeTag(fieldDesc string) byte {
	if len(fieldDesc) == 0 {
		return 'I'
	}
	if fieldDesc[0] == '[' {
		return 'L'
	}
	return fieldDesc[0]
}

// DupOpcode returns the DUP-family opcode for this method's return size
// (0 meaning no-op, e.g. for void).
func (l Logistics) DupOpcode() byte {
	return bytecode.DupOpcode(l.ReturnSize)
}

// PopOpcode returns the POP-family opcode for this method's return size.
func (l Logistics) PopOpcode() byte {
	return bytecode.PopOpcode(l.ReturnSize)
}

// ReceiverLoadOpcode returns ALOAD (pushing slot 0) for an instance method.
// Static methods have no receiver; callers must check IsStatic first.
func (l Logistics) ReceiverLoadOpcode() byte {
	return bytecode.OpAload0
}

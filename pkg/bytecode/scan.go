package bytecode

import (
	"encoding/binary"
	"fmt"
)

// instructionLength gives the total length (opcode byte included) of every
// fixed-length instruction this package needs to step over while scanning a
// method body for call sites. It answers "how many bytes wide is this
// instruction" rather than "what does it do" — a scanner never needs to
// interpret an operand it isn't patching.
//
// wide and the two variable-length instructions (tableswitch, lookupswitch)
// are handled separately in Instructions because their width depends on
// the bytes that follow, not a static table.
var instructionLength = map[byte]int{
	0x00: 1, // nop
	OpAconstNull: 1,
	OpIconstM1:   1, 0x03: 1, 0x04: 1, 0x05: 1, 0x06: 1, 0x07: 1, 0x08: 1,
	0x09: 1, 0x0A: 1, // lconst_0, lconst_1
	0x0B: 1, 0x0C: 1, 0x0D: 1, // fconst_0..2
	0x0E: 1, 0x0F: 1, // dconst_0, dconst_1
	OpBipush: 2,
	OpSipush: 3,
	OpLdc:    2,
	OpLdcW:   3,
	OpLdc2W:  3,
	OpIload:  2, OpLload: 2, OpFload: 2, OpDload: 2, OpAload: 2,
	OpIload0: 1, 0x1B: 1, 0x1C: 1, 0x1D: 1, // iload_0..3
	0x1E: 1, 0x1F: 1, 0x20: 1, 0x21: 1, // lload_0..3
	0x22: 1, 0x23: 1, 0x24: 1, 0x25: 1, // fload_0..3
	0x26: 1, 0x27: 1, 0x28: 1, 0x29: 1, // dload_0..3
	OpAload0: 1, 0x2B: 1, 0x2C: 1, 0x2D: 1, // aload_0..3
	0x2E: 1, 0x2F: 1, 0x30: 1, 0x31: 1, // *aload (array loads)
	0x32: 1, 0x33: 1, 0x34: 1, 0x35: 1,
	OpIstore: 2, OpLstore: 2, OpFstore: 2, OpDstore: 2, OpAstore: 2,
	0x3B: 1, 0x3C: 1, 0x3D: 1, 0x3E: 1, // istore_0..3
	0x3F: 1, 0x40: 1, 0x41: 1, 0x42: 1, // lstore_0..3
	0x43: 1, 0x44: 1, 0x45: 1, 0x46: 1, // fstore_0..3
	0x47: 1, 0x48: 1, 0x49: 1, 0x4A: 1, // dstore_0..3
	0x4B: 1, 0x4C: 1, 0x4D: 1, 0x4E: 1, // astore_0..3
	0x4F: 1, 0x50: 1, 0x51: 1, 0x52: 1, 0x53: 1, 0x54: 1, 0x55: 1, 0x56: 1, // *astore (array stores)
	OpPop: 1, OpPop2: 1, OpDup: 1, OpDupX1: 1, 0x5B: 1, OpDup2: 1, 0x5D: 1, 0x5E: 1, OpSwap: 1,
	0x60: 1, 0x61: 1, 0x62: 1, 0x63: 1, // iadd..dadd
	0x64: 1, 0x65: 1, 0x66: 1, 0x67: 1, // isub..dsub
	0x68: 1, 0x69: 1, 0x6A: 1, 0x6B: 1, // imul..dmul
	0x6C: 1, 0x6D: 1, 0x6E: 1, 0x6F: 1, // idiv..ddiv
	0x70: 1, 0x71: 1, 0x72: 1, 0x73: 1, // irem..drem
	0x74: 1, 0x75: 1, 0x76: 1, 0x77: 1, // ineg..dneg
	0x78: 1, 0x79: 1, 0x7A: 1, 0x7B: 1, 0x7C: 1, 0x7D: 1, // shifts
	0x7E: 1, 0x7F: 1, 0x80: 1, // iand, land, ior
	0x81: 1, 0x82: 1, 0x83: 1, // lor, ixor, lxor
	0x84: 3,                                               // iinc
	0x85: 1, 0x86: 1, 0x87: 1, 0x88: 1, 0x89: 1, 0x8A: 1, // conversions
	0x8B: 1, 0x8C: 1, 0x8D: 1, 0x8E: 1, 0x8F: 1, // conversions
	0x90: 1, 0x91: 1, 0x92: 1, 0x93: 1, // conversions
	0x94: 1, 0x95: 1, 0x96: 1, 0x97: 1, 0x98: 1, // lcmp, fcmpl/g, dcmpl/g
	OpIfeq: 3, 0x9A: 3, 0x9B: 3, 0x9C: 3, 0x9D: 3, 0x9E: 3, // ifeq..ifle
	0x9F: 3, 0xA0: 3, 0xA1: 3, 0xA2: 3, 0xA3: 3, 0xA4: 3, // if_icmp*
	0xA5: 3, 0xA6: 3, // if_acmpeq, if_acmpne
	OpGoto: 3,
	0xA8:   3, // jsr
	0xA9:   2, // ret
	OpIreturn: 1, OpLreturn: 1, OpFreturn: 1, OpDreturn: 1, OpAreturn: 1, OpReturn: 1,
	OpGetstatic: 3, OpPutstatic: 3, OpGetfield: 3, OpPutfield: 3,
	OpInvokevirtual: 3, OpInvokespecial: 3, OpInvokestatic: 3,
	OpInvokeinterface: 5,
	0xBA:              5, // invokedynamic
	OpNew:        3,
	0xBC:         2, // newarray
	OpAnewarray:  3,
	0xBE:         1, // arraylength
	OpAthrow:     1,
	OpCheckcast:  3,
	OpInstanceof: 3,
	0xC2:         1, 0xC3: 1, // monitorenter, monitorexit
	0xC5:    4, // multianewarray
	0xC6:    3, 0xC7: 3, // ifnull, ifnonnull
	OpGotoW: 5,
	0xC9:    5, // jsr_w
}

// Instruction is one decoded bytecode instruction: its opcode, the offset it
// starts at in the Code array, its total encoded length, and (for
// instructions that carry one) its constant-pool index operand.
type Instruction struct {
	Offset int
	Opcode byte
	Length int
	// CPIndex is the constant-pool index operand for instructions that
	// carry one (INVOKE*, GET*, PUT*, NEW, ANEWARRAY, CHECKCAST,
	// INSTANCEOF, LDC, LDC_W/LDC2_W); 0 otherwise.
	CPIndex uint16
}

// IsInvoke reports whether this instruction is one of the four call
// opcodes a script's WrapMethodCall/ReplaceMethodCall/
// SetSymbolDuringMethodCall rewriters match against.
func (in Instruction) IsInvoke() bool {
	switch in.Opcode {
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return true
	}
	return false
}

// Instructions decodes a method's Code array into a linear instruction
// list. It does not interpret branch targets or build a control-flow
// graph — callers that need that (the rewriters only need raw linear
// scanning to locate INVOKE* call sites) can still read in.Offset/Length.
func Instructions(code []byte) ([]Instruction, error) {
	var out []Instruction
	pc := 0
	for pc < len(code) {
		op := code[pc]

		if op == OpWide {
			// wide modifies the next instruction's operand width; the
			// rewriters never need to patch through a wide-prefixed
			// load/store/iinc, so it is stepped over as an opaque unit.
			if pc+1 >= len(code) {
				return nil, fmt.Errorf("truncated wide instruction at offset %d", pc)
			}
			sub := code[pc+1]
			width := 3 // opcode + u2 index
			if sub == 0x84 { // iinc: opcode + u2 index + s2 const
				width = 5
			}
			out = append(out, Instruction{Offset: pc, Opcode: op, Length: 1 + width})
			pc += 1 + width
			continue
		}

		if op == 0xAA || op == 0xAB { // tableswitch, lookupswitch
			length, err := switchLength(code, pc, op)
			if err != nil {
				return nil, err
			}
			out = append(out, Instruction{Offset: pc, Opcode: op, Length: length})
			pc += length
			continue
		}

		length, ok := instructionLength[op]
		if !ok {
			return nil, fmt.Errorf("unknown opcode 0x%02X at offset %d", op, pc)
		}
		if pc+length > len(code) {
			return nil, fmt.Errorf("truncated instruction 0x%02X at offset %d", op, pc)
		}

		inst := Instruction{Offset: pc, Opcode: op, Length: length}
		switch op {
		case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
			OpInvokevirtual, OpInvokespecial, OpInvokestatic,
			OpNew, OpAnewarray, OpCheckcast, OpInstanceof, OpLdcW, OpLdc2W:
			inst.CPIndex = binary.BigEndian.Uint16(code[pc+1 : pc+3])
		case OpInvokeinterface:
			inst.CPIndex = binary.BigEndian.Uint16(code[pc+1 : pc+3])
		case OpLdc:
			inst.CPIndex = uint16(code[pc+1])
		}

		out = append(out, inst)
		pc += length
	}
	return out, nil
}

func switchLength(code []byte, pc int, op byte) (int, error) {
	// pad to next 4-byte boundary after the opcode
	padEnd := pc + 1
	for padEnd%4 != 0 {
		padEnd++
	}
	if padEnd+4 > len(code) {
		return 0, fmt.Errorf("truncated switch at offset %d", pc)
	}
	if op == 0xAA { // tableswitch
		low := int32(binary.BigEndian.Uint32(code[padEnd+4 : padEnd+8]))
		high := int32(binary.BigEndian.Uint32(code[padEnd+8 : padEnd+12]))
		n := int(high-low) + 1
		return (padEnd - pc) + 12 + n*4, nil
	}
	// lookupswitch
	npairs := int(binary.BigEndian.Uint32(code[padEnd+4 : padEnd+8]))
	return (padEnd - pc) + 8 + npairs*8, nil
}

// FindInvokes returns every INVOKE* instruction in code whose resolved
// method reference (via resolve) matches owner, name, and descriptor.
func FindInvokes(code []byte, resolve func(cpIndex uint16) (owner, name, descriptor string, ok bool), owner, name, descriptor string) ([]Instruction, error) {
	instructions, err := Instructions(code)
	if err != nil {
		return nil, err
	}
	var matches []Instruction
	for _, in := range instructions {
		if !in.IsInvoke() {
			continue
		}
		o, n, d, ok := resolve(in.CPIndex)
		if !ok || o != owner || n != name || d != descriptor {
			continue
		}
		matches = append(matches, in)
	}
	return matches, nil
}

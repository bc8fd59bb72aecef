package bytecode

import "fmt"

// shortFormSlot maps the _0.._3 shorthand *LOAD/*STORE opcodes to their
// u1-operand form and the slot they address, so
// RemapLocalSlots can shift every one by a constant offset.
var shortFormSlot = map[byte]struct {
	base byte // the u1-operand opcode this shorthand corresponds to
	slot int
}{
	0x1A: {OpIload, 0}, 0x1B: {OpIload, 1}, 0x1C: {OpIload, 2}, 0x1D: {OpIload, 3},
	0x1E: {OpLload, 0}, 0x1F: {OpLload, 1}, 0x20: {OpLload, 2}, 0x21: {OpLload, 3},
	0x22: {OpFload, 0}, 0x23: {OpFload, 1}, 0x24: {OpFload, 2}, 0x25: {OpFload, 3},
	0x26: {OpDload, 0}, 0x27: {OpDload, 1}, 0x28: {OpDload, 2}, 0x29: {OpDload, 3},
	OpAload0: {OpAload, 0}, 0x2B: {OpAload, 1}, 0x2C: {OpAload, 2}, 0x2D: {OpAload, 3},
	0x3B: {OpIstore, 0}, 0x3C: {OpIstore, 1}, 0x3D: {OpIstore, 2}, 0x3E: {OpIstore, 3},
	0x3F: {OpLstore, 0}, 0x40: {OpLstore, 1}, 0x41: {OpLstore, 2}, 0x42: {OpLstore, 3},
	0x43: {OpFstore, 0}, 0x44: {OpFstore, 1}, 0x45: {OpFstore, 2}, 0x46: {OpFstore, 3},
	0x47: {OpDstore, 0}, 0x48: {OpDstore, 1}, 0x49: {OpDstore, 2}, 0x4A: {OpDstore, 3},
	0x4B: {OpAstore, 0}, 0x4C: {OpAstore, 1}, 0x4D: {OpAstore, 2}, 0x4E: {OpAstore, 3},
}

func isLongFormSlotOp(op byte) bool {
	switch op {
	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		return true
	}
	return false
}

// RemapLocalSlots rewrites every local-variable load/store in code to
// address its original slot plus offset, rewriting every compact _0.._3
// form as the general u1-operand form (or the wide form when the new slot
// exceeds 255). It is used by the Insert rewrite (spec.md §4.4) to paste a
// hook's body into a target method without colliding with the target
// method's own locals. wide-prefixed instructions and
// iinc are left unmodified — a hook body dense enough to need them is
// outside the "single linear body" shape spec.md requires of Insert.
// Branch offsets are copied unchanged, so a branch spanning a rewritten
// instruction no longer lands on its original target.
func RemapLocalSlots(code []byte, offset int) ([]byte, error) {
	instrs, err := Instructions(code)
	if err != nil {
		return nil, fmt.Errorf("remapping locals: %w", err)
	}

	out := make([]byte, 0, len(code)+len(instrs)) // shorthand->longhand may grow each instruction by 1 byte
	for _, in := range instrs {
		if sf, ok := shortFormSlot[in.Opcode]; ok {
			newSlot := sf.slot + offset
			out = appendSlotOp(out, sf.base, newSlot)
			continue
		}
		if isLongFormSlotOp(in.Opcode) {
			slot := int(code[in.Offset+1])
			out = appendSlotOp(out, in.Opcode, slot+offset)
			continue
		}
		out = append(out, code[in.Offset:in.Offset+in.Length]...)
	}
	return out, nil
}

func appendSlotOp(buf []byte, op byte, slot int) []byte {
	if slot <= 255 {
		return append(buf, op, byte(slot))
	}
	// wide form: WIDE opcode, slot (u2)
	return append(buf, OpWide, op, byte(slot>>8), byte(slot))
}

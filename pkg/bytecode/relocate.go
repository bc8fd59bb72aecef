package bytecode

import (
	"encoding/binary"
	"fmt"
)

// branchOperandWidth maps every single-target branch opcode (operand
// relative to the opcode's own address) to that operand's width in
// bytes. Rewriters that splice bytes into a method body use this to find
// which instructions need their operand recomputed afterward.
// tableswitch and lookupswitch are not listed.
var branchOperandWidth = map[byte]int{
	OpIfeq: 2, 0x9A: 2, 0x9B: 2, 0x9C: 2, 0x9D: 2, 0x9E: 2, // ifne..ifle
	0x9F: 2, 0xA0: 2, 0xA1: 2, 0xA2: 2, 0xA3: 2, 0xA4: 2, // if_icmp*
	0xA5: 2, 0xA6: 2, // if_acmpeq, if_acmpne
	OpGoto: 2, 0xA8: 2, // jsr
	0xC6: 2, 0xC7: 2, // ifnull, ifnonnull
	OpGotoW: 4, 0xC9: 4, // goto_w, jsr_w
}

// Breakpoint records that the byte at OldOffset in the pre-splice code
// ends up at NewOffset in the spliced code. Between consecutive
// breakpoints (sorted ascending by OldOffset) the byte ranges are assumed
// copied verbatim, so any offset in that range maps by a constant shift.
type Breakpoint struct {
	OldOffset int
	NewOffset int
}

// MapOffset translates an offset in the pre-splice code into its address
// in the spliced code, given breakpoints sorted ascending by OldOffset.
// Callers outside this package use it to relocate anything else that
// embeds a bytecode offset across a splice (e.g. StackMapTable frames).
func MapOffset(breakpoints []Breakpoint, old int) int {
	bp := breakpoints[0]
	for _, candidate := range breakpoints {
		if candidate.OldOffset > old {
			break
		}
		bp = candidate
	}
	return bp.NewOffset + (old - bp.OldOffset)
}

// RelocateBranches fixes up every branch instruction's relative operand
// after bytes have been spliced into a method body. instrs is the
// instruction stream decoded from originalCode (before splicing);
// breakpoints records, for each point where splicing changed the
// old-to-new offset mapping, the (old, new) address pair, starting with
// {0, 0}. It patches newCode in place; splicing must not have changed any
// individual branch instruction's own position relative to its operand.
//
// A rewriter that only appends bytes after existing instructions (never
// alters their internal encoding) can use this directly: every
// instruction keeps its own width, only addresses shift.
//
// tableswitch and lookupswitch are not relocated: their jump offsets and
// alignment padding are left exactly as copied.
func RelocateBranches(originalCode, newCode []byte, instrs []Instruction, breakpoints []Breakpoint) error {
	for _, in := range instrs {
		width, ok := branchOperandWidth[in.Opcode]
		if !ok {
			continue
		}
		if in.Offset+1+width > len(originalCode) {
			return fmt.Errorf("bytecode: truncated branch operand at offset %d", in.Offset)
		}

		var oldOperand int64
		if width == 2 {
			oldOperand = int64(int16(binary.BigEndian.Uint16(originalCode[in.Offset+1 : in.Offset+3])))
		} else {
			oldOperand = int64(int32(binary.BigEndian.Uint32(originalCode[in.Offset+1 : in.Offset+5])))
		}
		oldTarget := in.Offset + int(oldOperand)

		newBranchPos := MapOffset(breakpoints, in.Offset)
		newTarget := MapOffset(breakpoints, oldTarget)
		newOperand := newTarget - newBranchPos

		if newBranchPos+1+width > len(newCode) {
			return fmt.Errorf("bytecode: relocated branch at offset %d falls outside spliced code", newBranchPos)
		}

		if width == 2 {
			if newOperand < -32768 || newOperand > 32767 {
				return fmt.Errorf("bytecode: relocated branch offset %d out of signed 16-bit range", newOperand)
			}
			binary.BigEndian.PutUint16(newCode[newBranchPos+1:newBranchPos+3], uint16(int16(newOperand)))
		} else {
			binary.BigEndian.PutUint32(newCode[newBranchPos+1:newBranchPos+5], uint32(int32(newOperand)))
		}
	}
	return nil
}

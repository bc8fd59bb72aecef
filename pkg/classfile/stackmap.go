package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// VerificationType is a single StackMapTable verification_type_info tag.
type VerificationType uint8

const (
	VerifyTop         VerificationType = 0
	VerifyInteger     VerificationType = 1
	VerifyFloat       VerificationType = 2
	VerifyDouble      VerificationType = 3
	VerifyLong        VerificationType = 4
	VerifyNull        VerificationType = 5
	VerifyUninitThis  VerificationType = 6
	VerifyObject      VerificationType = 7 // followed by a u2 constant-pool Class index
	VerifyUninit      VerificationType = 8 // followed by a u2 bytecode offset
)

// VerificationSlot is one locals or operand-stack slot in a frame.
type VerificationSlot struct {
	Type      VerificationType
	ClassName string // for VerifyObject: the internal class name
	Offset    int    // for VerifyUninit: the bytecode offset of the originating NEW
}

// Frame describes the verifier state at one bytecode offset, in the form
// a "full_frame" StackMapTable entry needs (spec.md §4.6: every frame the
// writer emits is full, sidestepping the delta-encoding rules that let
// ASM-like writers emit smaller append/chop frames).
type Frame struct {
	// Offset is the absolute bytecode offset this frame describes.
	Offset int
	Locals []VerificationSlot
	Stack  []VerificationSlot
}

// CommonSuperclassOracle answers "what is the nearest common superclass of
// a and b" for merging verification types at a control-flow join. Per
// spec.md §4.6, class files below major version 50 never strictly need
// frames; DefaultObjectOracle answers without loading arbitrary classes
// from an unknown class-loader by always answering "java/lang/Object".
// Write takes no oracle: it encodes the frames it is given and merges none.
type CommonSuperclassOracle func(a, b string) string

// DefaultObjectOracle is the conservative oracle spec.md §4.6 mandates for
// major versions below 50: it never attempts real type-hierarchy
// resolution and always widens to java/lang/Object.
func DefaultObjectOracle(_, _ string) string {
	return "java/lang/Object"
}

// EncodeFullFrame renders one Frame as a full_frame StackMapTable entry
// (tag 255), relative to the previous frame's offset (or -1 if this is the
// first frame, per the JVM spec's offset_delta rule).
func EncodeFullFrame(f Frame, previousOffset int, pb *PoolBuilder) []byte {
	var buf bytes.Buffer
	buf.WriteByte(255) // full_frame tag
	delta := f.Offset - previousOffset - 1
	binary.Write(&buf, binary.BigEndian, uint16(delta))
	binary.Write(&buf, binary.BigEndian, uint16(len(f.Locals)))
	encodeSlots(&buf, f.Locals, pb)
	binary.Write(&buf, binary.BigEndian, uint16(len(f.Stack)))
	encodeSlots(&buf, f.Stack, pb)
	return buf.Bytes()
}

func encodeSlots(buf *bytes.Buffer, slots []VerificationSlot, pb *PoolBuilder) {
	for _, s := range slots {
		buf.WriteByte(byte(s.Type))
		switch s.Type {
		case VerifyObject:
			classIdx := pb.Class(s.ClassName)
			binary.Write(buf, binary.BigEndian, classIdx)
		case VerifyUninit:
			binary.Write(buf, binary.BigEndian, uint16(s.Offset))
		}
	}
}

// encodeStackMapTable renders frames (sorted ascending by Offset) as a
// StackMapTable attribute body. Every entry is written as a full_frame
// (spec.md §4.6): simpler and strictly larger than the abbreviated forms,
// but equally valid to a verifier.
func encodeStackMapTable(frames []Frame, pb *PoolBuilder) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(frames))); err != nil {
		return nil, err
	}
	previousOffset := -1
	for _, f := range frames {
		buf.Write(EncodeFullFrame(f, previousOffset, pb))
		previousOffset = f.Offset
	}
	return buf.Bytes(), nil
}

// DecodeStackMapTable parses a StackMapTable attribute's body (starting
// with its u2 entry count) into absolute-offset Frames. initialLocals
// is the method's frame-0 locals (receiver, if any, plus parameters),
// needed because the leading entry's offset_delta is relative to -1 and
// abbreviated entries (same_frame, chop_frame, append_frame, ...) describe
// themselves only as a delta from the previous frame's locals.
func DecodeStackMapTable(data []byte, pool []ConstantPoolEntry, initialLocals []VerificationSlot) ([]Frame, error) {
	r := bytes.NewReader(data)
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("reading StackMapTable entry count: %w", err)
	}

	frames := make([]Frame, 0, count)
	locals := append([]VerificationSlot(nil), initialLocals...)
	previousOffset := -1

	for i := uint16(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading StackMapTable entry %d tag: %w", i, err)
		}

		var offsetDelta int
		var stack []VerificationSlot

		switch {
		case tag <= 63: // same_frame
			offsetDelta = int(tag)

		case tag <= 127: // same_locals_1_stack_item_frame
			offsetDelta = int(tag) - 64
			slot, err := decodeVerificationSlot(r, pool)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: %w", i, err)
			}
			stack = []VerificationSlot{slot}

		case tag == 247: // same_locals_1_stack_item_frame_extended
			d, err := readU16Delta(r)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading delta: %w", i, err)
			}
			offsetDelta = d
			slot, err := decodeVerificationSlot(r, pool)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: %w", i, err)
			}
			stack = []VerificationSlot{slot}

		case tag >= 248 && tag <= 250: // chop_frame
			d, err := readU16Delta(r)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading delta: %w", i, err)
			}
			offsetDelta = d
			chop := int(251 - tag)
			if chop > len(locals) {
				return nil, fmt.Errorf("StackMapTable entry %d: chop_frame removes %d locals but only %d present", i, chop, len(locals))
			}
			locals = locals[:len(locals)-chop]

		case tag == 251: // same_frame_extended
			d, err := readU16Delta(r)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading delta: %w", i, err)
			}
			offsetDelta = d

		case tag >= 252 && tag <= 254: // append_frame
			d, err := readU16Delta(r)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading delta: %w", i, err)
			}
			offsetDelta = d
			appended := int(tag - 251)
			for j := 0; j < appended; j++ {
				slot, err := decodeVerificationSlot(r, pool)
				if err != nil {
					return nil, fmt.Errorf("StackMapTable entry %d: %w", i, err)
				}
				locals = append(locals, slot)
			}

		case tag == 255: // full_frame
			d, err := readU16Delta(r)
			if err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading delta: %w", i, err)
			}
			offsetDelta = d
			var localCount uint16
			if err := binary.Read(r, binary.BigEndian, &localCount); err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading local count: %w", i, err)
			}
			newLocals := make([]VerificationSlot, localCount)
			for j := range newLocals {
				slot, err := decodeVerificationSlot(r, pool)
				if err != nil {
					return nil, fmt.Errorf("StackMapTable entry %d: %w", i, err)
				}
				newLocals[j] = slot
			}
			locals = newLocals
			var stackCount uint16
			if err := binary.Read(r, binary.BigEndian, &stackCount); err != nil {
				return nil, fmt.Errorf("StackMapTable entry %d: reading stack count: %w", i, err)
			}
			stack = make([]VerificationSlot, stackCount)
			for j := range stack {
				slot, err := decodeVerificationSlot(r, pool)
				if err != nil {
					return nil, fmt.Errorf("StackMapTable entry %d: %w", i, err)
				}
				stack[j] = slot
			}

		default:
			return nil, fmt.Errorf("StackMapTable entry %d: reserved tag %d", i, tag)
		}

		offset := previousOffset + offsetDelta + 1
		frames = append(frames, Frame{
			Offset: offset,
			Locals: append([]VerificationSlot(nil), locals...),
			Stack:  stack,
		})
		previousOffset = offset
	}

	return frames, nil
}

func decodeVerificationSlot(r *bytes.Reader, pool []ConstantPoolEntry) (VerificationSlot, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return VerificationSlot{}, fmt.Errorf("reading verification_type_info tag: %w", err)
	}
	typ := VerificationType(tagByte)
	switch typ {
	case VerifyObject:
		var classIdx uint16
		if err := binary.Read(r, binary.BigEndian, &classIdx); err != nil {
			return VerificationSlot{}, fmt.Errorf("reading Object verification class index: %w", err)
		}
		name, err := GetClassName(pool, classIdx)
		if err != nil {
			return VerificationSlot{}, fmt.Errorf("resolving Object verification class: %w", err)
		}
		return VerificationSlot{Type: VerifyObject, ClassName: name}, nil
	case VerifyUninit:
		var newOffset uint16
		if err := binary.Read(r, binary.BigEndian, &newOffset); err != nil {
			return VerificationSlot{}, fmt.Errorf("reading Uninitialized verification offset: %w", err)
		}
		return VerificationSlot{Type: VerifyUninit, Offset: int(newOffset)}, nil
	default:
		return VerificationSlot{Type: typ}, nil
	}
}

// readU16Delta reads the explicit u2 offset_delta field the extended
// frame forms (247, 248-251, 252-254, 255) all share.
func readU16Delta(r *bytes.Reader) (int, error) {
	var delta uint16
	if err := binary.Read(r, binary.BigEndian, &delta); err != nil {
		return 0, err
	}
	return int(delta), nil
}

// NeedsStackMapFrames reports whether a class of the given major version
// must carry StackMapTable attributes (spec.md §4.6: true from version 50
// onward).
func NeedsStackMapFrames(majorVersion uint16) bool {
	return majorVersion >= Version50
}

package script

import (
	"encoding/binary"
	"testing"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWrapReturnValuesScriptRejectsCastAndInsertTogether(t *testing.T) {
	h := hook.New("com/example/Hooks", "wrap", "I", "I")
	_, err := NewWrapReturnValuesScript("bad", target.New("com.example.Hello", "foo"), &h, nil, false, true, true)
	assert.Error(t, err)
}

func TestNewWrapReturnValuesScriptRequiresHook(t *testing.T) {
	_, err := NewWrapReturnValuesScript("bad", target.New("com.example.Hello", "foo"), nil, nil, false, false, false)
	assert.Error(t, err)
}

// S6 from spec.md §8: foo(int, String[]) returning an int is wrapped so
// the hook's doubled value replaces every return.
func TestPatchWrapReturnValuesWrapsEveryReturn(t *testing.T) {
	h := hook.New("com/example/Hooks", "h", "I", "I", "Ljava/lang/Object;", "I", "[Ljava/lang/String;")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int", "java.lang.String[]")
	s, err := NewWrapReturnValuesScript("wrap-return", matcher, &h, []StackRequest{This, ReturnValue, Param1, Param2}, false, false, false)
	require.NoError(t, err)

	// two returns: BIPUSH 10; IRETURN   and   BIPUSH 80; IRETURN
	originalCode := []byte{
		bytecode.OpBipush, 10, bytecode.OpIreturn,
		bytecode.OpBipush, 80, bytecode.OpIreturn,
	}
	cf := newTestClass("com/example/Hello", "foo", "(I[Ljava/lang/String;)I", classfile.AccPublic, originalCode, 1, 3)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	assert.Greater(t, len(newCode), len(originalCode))

	retCount := 0
	for _, b := range newCode {
		if b == bytecode.OpIreturn {
			retCount++
		}
	}
	assert.Equal(t, 2, retCount, "both original return sites stay wrapped exactly once")
}

// S6 from spec.md §8: the forward if_icmpge that skips the "return 10"
// branch must still land on the "return 80" branch after both returns
// are wrapped, even though wrapping shifts the second branch's address.
func TestPatchWrapReturnValuesRelocatesForwardBranchAcrossInsertion(t *testing.T) {
	h := hook.New("com/example/Hooks", "h", "I", "I")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int", "java.lang.String[]")
	s, err := NewWrapReturnValuesScript("wrap-return", matcher, &h, []StackRequest{ReturnValue}, false, false, false)
	require.NoError(t, err)

	originalCode := []byte{
		0x1B,             // iload_1
		bytecode.OpBipush, 10, // bipush 10
		0xA2, 0x00, 0x06, // if_icmpge +6 (target: offset 9, "bipush 80")
		bytecode.OpBipush, 10, // bipush 10
		bytecode.OpIreturn,
		bytecode.OpBipush, 80, // bipush 80
		bytecode.OpIreturn,
	}
	cf := newTestClass("com/example/Hello", "foo", "(I[Ljava/lang/String;)I", classfile.AccPublic, originalCode, 2, 3)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code

	ifIcmpgePos := -1
	for i, bval := range newCode {
		if bval == 0xA2 {
			ifIcmpgePos = i
			break
		}
	}
	require.NotEqual(t, -1, ifIcmpgePos, "expected if_icmpge to survive the rewrite")

	offset := int16(binary.BigEndian.Uint16(newCode[ifIcmpgePos+1 : ifIcmpgePos+3]))
	branchTarget := ifIcmpgePos + int(offset)

	bipush80Pos := -1
	for i := 0; i < len(newCode)-1; i++ {
		if newCode[i] == bytecode.OpBipush && newCode[i+1] == 80 {
			bipush80Pos = i
		}
	}
	require.NotEqual(t, -1, bipush80Pos, "expected a surviving bipush 80")

	assert.Equal(t, bipush80Pos, branchTarget, "if_icmpge must still target the else branch after wrapping shifted it")
}

// A pre-existing StackMapTable frame at the if_icmpge's branch target must
// survive wrapping with its Offset relocated to the target's new address,
// not silently dropped.
func TestPatchWrapReturnValuesRelocatesPreExistingFrame(t *testing.T) {
	h := hook.New("com/example/Hooks", "h", "I", "I")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int", "java.lang.String[]")
	s, err := NewWrapReturnValuesScript("wrap-return", matcher, &h, []StackRequest{ReturnValue}, false, false, false)
	require.NoError(t, err)

	originalCode := []byte{
		0x1B,                  // iload_1
		bytecode.OpBipush, 10, // bipush 10
		0xA2, 0x00, 0x06, // if_icmpge +6 (target: offset 9, "bipush 80")
		bytecode.OpBipush, 10, // bipush 10
		bytecode.OpIreturn,
		bytecode.OpBipush, 80, // bipush 80 (offset 9)
		bytecode.OpIreturn,
	}
	cf := newTestClass("com/example/Hello", "foo", "(I[Ljava/lang/String;)I", classfile.AccPublic, originalCode, 2, 3)
	cf.Methods[0].Code.StackMapFrames = []classfile.Frame{
		{
			Offset: 9,
			Locals: []classfile.VerificationSlot{
				{Type: classfile.VerifyObject, ClassName: "com/example/Hello"},
				{Type: classfile.VerifyInteger},
				{Type: classfile.VerifyObject, ClassName: "[Ljava/lang/String;"},
			},
		},
	}

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	bipush80Pos := -1
	for i := 0; i < len(newCode)-1; i++ {
		if newCode[i] == bytecode.OpBipush && newCode[i+1] == 80 {
			bipush80Pos = i
		}
	}
	require.NotEqual(t, -1, bipush80Pos, "expected a surviving bipush 80")

	frames := out.Methods[0].Code.StackMapFrames
	require.Len(t, frames, 1, "the pre-existing frame must survive, not be dropped")
	assert.Equal(t, bipush80Pos, frames[0].Offset, "frame offset must relocate to the branch target's new address")
	assert.Equal(t, "com/example/Hello", frames[0].Locals[0].ClassName)
}

func TestPatchWrapReturnValuesVoidObserverHookLeavesOriginalValueIntact(t *testing.T) {
	// hook is void and does not request RETURN_VALUE: it only observes
	// THIS, so the original return value must flow through untouched
	// (no POP/DUP needed -- it was never consumed as a hook argument).
	h := hook.New("com/example/Hooks", "observe", "V", "Ljava/lang/Object;")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int")
	s, err := NewWrapReturnValuesScript("wrap-observe", matcher, &h, []StackRequest{This}, false, false, false)
	require.NoError(t, err)

	originalCode := []byte{bytecode.OpBipush, 5, bytecode.OpIreturn}
	cf := newTestClass("com/example/Hello", "foo", "()I", classfile.AccPublic, originalCode, 1, 1)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	assert.NotContains(t, newCode, byte(bytecode.OpPop))
	assert.NotContains(t, newCode, byte(bytecode.OpDup))
	assert.Contains(t, newCode, byte(bytecode.OpInvokestatic))
}

package script

import (
	"encoding/binary"
	"testing"

	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExitEarlyScriptRejectsReturnValueRequest(t *testing.T) {
	_, err := NewExitEarlyScript("bad", target.New("com.example.Hello", "foo"), nil, nil, false, []StackRequest{ReturnValue}, false, false)
	assert.Error(t, err)
}

func TestNewExitEarlyScriptRequiresValueHookForNonVoid(t *testing.T) {
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int")
	_, err := NewExitEarlyScript("bad", matcher, nil, nil, false, nil, false, false)
	assert.Error(t, err)
}

func TestPatchExitEarlyUnconditionalVoidExit(t *testing.T) {
	cf := newTestClass("com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{0xB1}, 0, 0)
	s, err := NewExitEarlyScript("exit-unconditional", target.New("com.example.Hello", "bar"), nil, nil, false, nil, false, false)
	require.NoError(t, err)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []byte{0xB1}, out.Methods[0].Code.Code)
	assert.Equal(t, uint16(2), out.Methods[0].Code.MaxStack)
	assert.Nil(t, out.Methods[0].Code.StackMapFrames)
}

func TestPatchExitEarlyConditionalAppendsOriginalBody(t *testing.T) {
	decisionHook := hook.New("com/example/Hooks", "decide", "Z", "I")
	valueHook := hook.New("com/example/Hooks", "compute", "I", "I")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int")
	s, err := NewExitEarlyScript("exit-conditional", matcher, &decisionHook, &valueHook, false, []StackRequest{Param1}, false, false)
	require.NoError(t, err)

	originalCode := []byte{0x1A, 0xAC} // iload_0; ireturn
	cf := newTestClass("com/example/Hello", "foo", "(I)I", classfile.AccPublic|classfile.AccStatic, originalCode, 1, 1)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	assert.Greater(t, len(newCode), len(originalCode))
	assert.Equal(t, originalCode, newCode[len(newCode)-len(originalCode):])
	assert.Equal(t, uint16(3), out.Methods[0].Code.MaxStack)
}

func TestPatchExitEarlyConditionalBranchOffsetIsRelative(t *testing.T) {
	decisionHook := hook.New("com/example/Hooks", "decide", "Z", "I")
	valueHook := hook.New("com/example/Hooks", "compute", "I", "I")
	matcher := target.NewWithSignature("com.example.Hello", "foo", "int", "int")
	s, err := NewExitEarlyScript("exit-conditional", matcher, &decisionHook, &valueHook, false, []StackRequest{Param1}, false, false)
	require.NoError(t, err)

	originalCode := []byte{0x1A, 0xAC} // iload_0; ireturn
	cf := newTestClass("com/example/Hello", "foo", "(I)I", classfile.AccPublic|classfile.AccStatic, originalCode, 1, 1)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	originalBodyStart := len(newCode) - len(originalCode)

	ifeqPos := -1
	for i, b := range newCode {
		if b == 0x99 { // ifeq
			ifeqPos = i
			break
		}
	}
	require.NotEqual(t, -1, ifeqPos, "expected an ifeq instruction in the patched method")

	offset := int16(binary.BigEndian.Uint16(newCode[ifeqPos+1 : ifeqPos+3]))
	target := ifeqPos + int(offset)
	assert.Equal(t, originalBodyStart, target, "ifeq branch target must be relative to its own opcode address, landing on the start of the original body")
}

func TestPatchExitEarlyInsertCallOnlySkipsBranch(t *testing.T) {
	decisionHook := hook.New("com/example/Hooks", "observe", "V", "I")
	matcher := target.New("com.example.Hello", "bar")
	s, err := NewExitEarlyScript("exit-observe", matcher, &decisionHook, nil, true, []StackRequest{Param1}, false, false)
	require.NoError(t, err)

	originalCode := []byte{0xB1} // RETURN
	cf := newTestClass("com/example/Hello", "bar", "(I)V", classfile.AccPublic|classfile.AccStatic, originalCode, 0, 1)

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	newCode := out.Methods[0].Code.Code
	assert.Equal(t, originalCode, newCode[len(newCode)-len(originalCode):])
	assert.Greater(t, len(newCode), len(originalCode))
}

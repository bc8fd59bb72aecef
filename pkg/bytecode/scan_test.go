package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionsLinearScan(t *testing.T) {
	// aload_0; invokestatic #7; pop; return
	code := []byte{OpAload0, OpInvokestatic, 0x00, 0x07, OpPop, OpReturn}
	instrs, err := Instructions(code)
	require.NoError(t, err)
	require.Len(t, instrs, 4)

	assert.Equal(t, byte(OpAload0), instrs[0].Opcode)
	assert.Equal(t, 0, instrs[0].Offset)

	assert.Equal(t, byte(OpInvokestatic), instrs[1].Opcode)
	assert.Equal(t, 1, instrs[1].Offset)
	assert.Equal(t, uint16(7), instrs[1].CPIndex)
	assert.True(t, instrs[1].IsInvoke())

	assert.Equal(t, byte(OpPop), instrs[2].Opcode)
	assert.False(t, instrs[2].IsInvoke())

	assert.Equal(t, byte(OpReturn), instrs[3].Opcode)
}

func TestInstructionsInvokeinterfaceWidth(t *testing.T) {
	code := []byte{OpInvokeinterface, 0x00, 0x09, 0x02, 0x00, OpReturn}
	instrs, err := Instructions(code)
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	assert.Equal(t, 5, instrs[0].Length)
	assert.Equal(t, uint16(9), instrs[0].CPIndex)
}

func TestInstructionsUnknownOpcodeErrors(t *testing.T) {
	_, err := Instructions([]byte{0xFF})
	assert.Error(t, err)
}

func TestInstructionsTruncatedErrors(t *testing.T) {
	_, err := Instructions([]byte{OpInvokestatic, 0x00})
	assert.Error(t, err)
}

func TestFindInvokesMatchesByResolvedRef(t *testing.T) {
	code := []byte{OpAload0, OpInvokestatic, 0x00, 0x05, OpInvokevirtual, 0x00, 0x06, OpReturn}

	resolve := func(cpIndex uint16) (owner, name, descriptor string, ok bool) {
		switch cpIndex {
		case 5:
			return "com/example/Util", "log", "(Ljava/lang/String;)V", true
		case 6:
			return "com/example/Other", "log", "(Ljava/lang/String;)V", true
		}
		return "", "", "", false
	}

	matches, err := FindInvokes(code, resolve, "com/example/Util", "log", "(Ljava/lang/String;)V")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Offset)
}

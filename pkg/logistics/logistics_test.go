package logistics

import (
	"testing"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeInstanceMethod(t *testing.T) {
	// int foo(int x, long y, String[] z) -- instance method
	l, err := Compute(0, "(IJ[Ljava/lang/String;)I")
	require.NoError(t, err)
	assert.False(t, l.IsStatic)
	require.Len(t, l.Params, 3)
	assert.Equal(t, 1, l.Params[0].Slot) // receiver occupies slot 0
	assert.Equal(t, 1, l.Params[0].Size)
	assert.Equal(t, 2, l.Params[1].Slot)
	assert.Equal(t, 2, l.Params[1].Size) // long: 2 slots
	assert.Equal(t, 4, l.Params[2].Slot)
	assert.Equal(t, 1, l.Params[2].Size)
	assert.Equal(t, byte(bytecode.OpAload), l.Params[2].LoadOp)
	// property 3: sum of param sizes + receiver slot == next locals slot
	assert.Equal(t, 5, l.NextSlot)
	assert.Equal(t, byte(bytecode.OpIreturn), l.ReturnOp)
}

func TestComputeStaticMethod(t *testing.T) {
	l, err := Compute(AccStatic, "(DJ)V")
	require.NoError(t, err)
	assert.True(t, l.IsStatic)
	assert.Equal(t, 0, l.Params[0].Slot)
	assert.Equal(t, 2, l.Params[0].Size)
	assert.Equal(t, 2, l.Params[1].Slot)
	assert.Equal(t, 4, l.NextSlot)
	assert.Equal(t, byte(bytecode.OpReturn), l.ReturnOp)
	assert.Equal(t, 0, l.ReturnSize)
}

func TestComputeMalformed(t *testing.T) {
	_, err := Compute(0, "not-a-descriptor")
	require.Error(t, err)
}

func TestDupPopOpcodeByReturnSize(t *testing.T) {
	l, err := Compute(AccStatic, "()J")
	require.NoError(t, err)
	assert.Equal(t, byte(bytecode.OpDup2), l.DupOpcode())
	assert.Equal(t, byte(bytecode.OpPop2), l.PopOpcode())

	l, err = Compute(AccStatic, "()V")
	require.NoError(t, err)
	assert.Equal(t, byte(0), l.DupOpcode())
	assert.Equal(t, byte(0), l.PopOpcode())
}

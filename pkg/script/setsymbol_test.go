package script

import (
	"testing"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/symbolstack"
	"github.com/patchlang/jvmpatch/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetSymbolDuringMethodCallScriptRequiresSymbol(t *testing.T) {
	_, err := NewSetSymbolDuringMethodCallScript("bad", target.New("com.example.Hello", "aMethod"), "com/example/Hello", "bMethod", "()V", "")
	assert.Error(t, err)
}

// S8 from spec.md §8: aMethod calls cMethod() then bMethod(); the symbol
// wraps only the bMethod call site.
func TestPatchSetSymbolDuringMethodCallSynthesizesWrapper(t *testing.T) {
	matcher := target.New("com.example.Hello", "aMethod")
	s, err := NewSetSymbolDuringMethodCallScript("set-symbol", matcher, "com/example/Hello", "bMethod", "()V", "Foobar")
	require.NoError(t, err)

	cf := newTestClass("com/example/Hello", "aMethod", "()V", classfile.AccPublic|classfile.AccStatic, nil, 2, 0)
	pb := classfile.NewPoolBuilder(cf)
	cIdx := pb.Methodref("com/example/Hello", "cMethod", "()V")
	bIdx := pb.Methodref("com/example/Hello", "bMethod", "()V")
	code := bytecode.NewBuilder().
		OpU2(bytecode.OpInvokestatic, cIdx).
		OpU2(bytecode.OpInvokestatic, bIdx).
		Op(bytecode.OpReturn).
		Bytes()
	cf.Methods[0].Code.Code = code

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, out.Methods, 2, "one synthetic wrapper method should have been appended")
	wrapper := out.Methods[1]
	assert.Equal(t, uint16(classfile.AccStatic|classfile.AccPrivate|classfile.AccSynthetic), wrapper.AccessFlags)
	require.NotNil(t, wrapper.Code)
	require.Len(t, wrapper.Code.ExceptionHandlers, 1)
	eh := wrapper.Code.ExceptionHandlers[0]
	assert.Equal(t, uint16(0), eh.CatchType, "catches any Throwable")
	require.Len(t, wrapper.Code.StackMapFrames, 1, "class is major version 52: needs a frame at the handler")

	// cMethod's call site is untouched; bMethod's is replaced with a call
	// to the synthetic wrapper.
	outerCode := out.Methods[0].Code.Code
	foundOriginalB := false
	foundWrapperCall := false
	for i := 0; i+2 < len(outerCode); i++ {
		if outerCode[i] != bytecode.OpInvokestatic {
			continue
		}
		idx := uint16(outerCode[i+1])<<8 | uint16(outerCode[i+2])
		if idx == bIdx {
			foundOriginalB = true
		}
		info, err := classfile.ResolveMethodref(out.ConstantPool, idx)
		if err == nil && info.MethodName == wrapper.Name {
			foundWrapperCall = true
		}
	}
	assert.False(t, foundOriginalB, "bMethod's direct call site should be replaced")
	assert.True(t, foundWrapperCall, "bMethod's call site should now invoke the synthetic wrapper")

	// the wrapper's own body pushes the symbol and calls the runtime
	// push/pop binding around its own re-invocation of bMethod.
	wrapperCode := wrapper.Code.Code
	pushCalls, popCalls := 0, 0
	for i := 0; i+2 < len(wrapperCode); i++ {
		if wrapperCode[i] != bytecode.OpInvokestatic {
			continue
		}
		idx := uint16(wrapperCode[i+1])<<8 | uint16(wrapperCode[i+2])
		info, err := classfile.ResolveMethodref(out.ConstantPool, idx)
		if err != nil {
			continue
		}
		if info.ClassName == symbolstack.RuntimeClass && info.MethodName == symbolstack.PushMethodName {
			pushCalls++
		}
		if info.ClassName == symbolstack.RuntimeClass && info.MethodName == symbolstack.PopMethodName {
			popCalls++
		}
	}
	assert.Equal(t, 1, pushCalls)
	assert.Equal(t, 2, popCalls, "one on the normal-exit path, one in the catch block")
	assert.Equal(t, byte(bytecode.OpAthrow), wrapperCode[len(wrapperCode)-1], "catch block ends by rethrowing")
}

func TestPatchSetSymbolDuringMethodCallReusesWrapperAcrossCallSites(t *testing.T) {
	matcher := target.New("com.example.Hello", "aMethod")
	s, err := NewSetSymbolDuringMethodCallScript("set-symbol", matcher, "com/example/Hello", "bMethod", "()V", "Foobar")
	require.NoError(t, err)

	cf := newTestClass("com/example/Hello", "aMethod", "()V", classfile.AccPublic|classfile.AccStatic, nil, 2, 0)
	pb := classfile.NewPoolBuilder(cf)
	bIdx := pb.Methodref("com/example/Hello", "bMethod", "()V")
	code := bytecode.NewBuilder().
		OpU2(bytecode.OpInvokestatic, bIdx).
		OpU2(bytecode.OpInvokestatic, bIdx).
		Op(bytecode.OpReturn).
		Bytes()
	cf.Methods[0].Code.Code = code

	out, err := Patch(s, nil, nil, cf)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Methods, 2, "both call sites share the single synthesized wrapper")
}

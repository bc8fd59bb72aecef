package manager

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/classloader"
	"github.com/patchlang/jvmpatch/pkg/hook"
	"github.com/patchlang/jvmpatch/pkg/script"
	"github.com/patchlang/jvmpatch/pkg/target"
)

func byteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// newTestClassBytes builds a minimal one-method class and serializes it,
// mirroring pkg/script's unexported newTestClass but returning wire bytes
// since Manager.Transform consumes raw class bytes, not a *ClassFile.
func newTestClassBytes(t *testing.T, owner, methodName, methodDescriptor string, access uint16, code []byte, maxStack, maxLocals uint16) []byte {
	t.Helper()
	cf := &classfile.ClassFile{
		MinorVersion: 0,
		MajorVersion: 52,
		ConstantPool: []classfile.ConstantPoolEntry{nil},
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
	}
	pb := classfile.NewPoolBuilder(cf)
	cf.ThisClass = pb.Class(owner)
	cf.SuperClass = pb.Class("java/lang/Object")
	cf.Methods = []classfile.MethodInfo{
		{
			AccessFlags: access,
			Name:        methodName,
			Descriptor:  methodDescriptor,
			Code: &classfile.CodeAttribute{
				MaxStack:  maxStack,
				MaxLocals: maxLocals,
				Code:      code,
			},
		},
	}
	out, err := classfile.Write(cf)
	require.NoError(t, err)
	return out
}

func TestTransformIgnoresEmptyClassName(t *testing.T) {
	m := New(nil, nil)
	out, err := m.Transform(nil, "", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTransformNoScriptsIsNoop(t *testing.T) {
	m := New(nil, nil)
	raw := newTestClassBytes(t, "com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{bytecode.OpReturn}, 0, 0)
	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	assert.Nil(t, out, "no active script may affect this class; manager should short-circuit before even parsing")
}

func TestTransformAppliesAddFieldScript(t *testing.T) {
	m := New(nil, nil)
	s, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)
	m.AddScript(s)

	raw := newTestClassBytes(t, "com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{bytecode.OpReturn}, 0, 0)
	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	require.NotNil(t, out)

	cf, err := classfile.Parse(byteReader(out))
	require.NoError(t, err)
	assert.NotNil(t, cf.FindField("marker", "Z"))
}

// spec.md §8 testable property 6: two scripts added in order, both
// targeting the same method, apply as S2.patch(S1.patch(original)).
func TestTransformAppliesScriptsInInsertionOrder(t *testing.T) {
	m := New(nil, nil)
	matcher := target.New("com.example.Hello", "bar")

	h1 := hook.New("com/example/Hooks", "first", "V")
	s1, err := script.NewWrapMethodCallScript("s1", matcher, "com/example/Other", "sleep", "()V", &h1, nil, false, false)
	require.NoError(t, err)

	h2 := hook.New("com/example/Hooks", "second", "V")
	s2, err := script.NewWrapMethodCallScript("s2", matcher, "com/example/Other", "sleep", "()V", &h2, nil, false, false)
	require.NoError(t, err)

	m.AddScript(s1)
	m.AddScript(s2)

	cf := &classfile.ClassFile{
		MinorVersion: 0,
		MajorVersion: 52,
		ConstantPool: []classfile.ConstantPoolEntry{nil},
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
	}
	pb := classfile.NewPoolBuilder(cf)
	cf.ThisClass = pb.Class("com/example/Hello")
	cf.SuperClass = pb.Class("java/lang/Object")
	innerIdx := pb.Methodref("com/example/Other", "sleep", "()V")
	code := bytecode.NewBuilder().
		OpU2(bytecode.OpInvokestatic, innerIdx).
		Op(bytecode.OpReturn).
		Bytes()
	cf.Methods = []classfile.MethodInfo{{
		AccessFlags: classfile.AccPublic | classfile.AccStatic,
		Name:        "bar",
		Descriptor:  "()V",
		Code:        &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code},
	}}
	raw, err := classfile.Write(cf)
	require.NoError(t, err)

	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	require.NotNil(t, out)

	final, err := classfile.Parse(byteReader(out))
	require.NoError(t, err)
	newCode := final.Methods[0].Code.Code
	// the original sleep() call plus one wrapper invoke per script.
	count := 0
	for i := 0; i+2 < len(newCode); i++ {
		if newCode[i] == bytecode.OpInvokestatic {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestTransformCatchesScriptFailureAndContinues(t *testing.T) {
	m := New(nil, nil)
	failing := &script.Script{Kind: script.Kind(99), Name: "broken", Matcher: target.New("com.example.Hello", "bar")}
	m.AddScript(failing)

	ok, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)
	m.AddScript(ok)

	raw := newTestClassBytes(t, "com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{bytecode.OpReturn}, 0, 0)
	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err, "a failing script must not surface its error to the caller")
	require.NotNil(t, out, "the next script's output still applies")

	cf, err := classfile.Parse(byteReader(out))
	require.NoError(t, err)
	assert.NotNil(t, cf.FindField("marker", "Z"))
}

func TestWitnessActionActivatesScriptOnClassLoad(t *testing.T) {
	m := New(nil, nil)
	s, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)

	w := NewWitnessAction(s, true, [][]string{{"com/example/Trigger"}})
	m.RegisterWitness(w)

	raw := newTestClassBytes(t, "com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{bytecode.OpReturn}, 0, 0)

	// before the trigger class loads, the script is not yet active.
	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	assert.Nil(t, out)

	// loading the trigger class fires the witness.
	triggerBytes := newTestClassBytes(t, "com/example/Trigger", "baz", "()V", classfile.AccPublic, []byte{bytecode.OpReturn}, 0, 0)
	_, err = m.Transform(nil, "com/example/Trigger", triggerBytes)
	require.NoError(t, err)
	assert.True(t, w.Triggered())

	out, err = m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	require.NotNil(t, out, "the witness should have activated the script for subsequent classes")

	// a witness triggers at most once: re-loading the trigger class must
	// not fire it again or panic.
	_, err = m.Transform(nil, "com/example/Trigger", triggerBytes)
	require.NoError(t, err)
}

func TestFilterRejectsClassBeforeScriptsRun(t *testing.T) {
	m := New(nil, nil)
	s, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)
	m.AddScript(s)
	m.SetFilter(func(loader classloader.Loader, name string, classBytes []byte) bool {
		return name != "com.example.Hello" && name != "com/example/Hello"
	})

	raw := newTestClassBytes(t, "com/example/Hello", "bar", "()V", classfile.AccPublic|classfile.AccStatic, []byte{bytecode.OpReturn}, 0, 0)
	out, err := m.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	assert.Nil(t, out, "filter rejected this class before any script ran")
}

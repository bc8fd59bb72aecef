package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchlang/jvmpatch/pkg/bytecode"
	"github.com/patchlang/jvmpatch/pkg/classfile"
	"github.com/patchlang/jvmpatch/pkg/manager"
	"github.com/patchlang/jvmpatch/pkg/script"
)

func newTestClassBytes(t *testing.T) []byte {
	t.Helper()
	cf := &classfile.ClassFile{
		MinorVersion: 0,
		MajorVersion: 52,
		ConstantPool: []classfile.ConstantPoolEntry{nil},
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
	}
	pb := classfile.NewPoolBuilder(cf)
	cf.ThisClass = pb.Class("com/example/Hello")
	cf.SuperClass = pb.Class("java/lang/Object")
	cf.Methods = []classfile.MethodInfo{{
		AccessFlags: classfile.AccPublic | classfile.AccStatic,
		Name:        "bar",
		Descriptor:  "()V",
		Code:        &classfile.CodeAttribute{MaxStack: 0, MaxLocals: 0, Code: []byte{bytecode.OpReturn}},
	}}
	out, err := classfile.Write(cf)
	require.NoError(t, err)
	return out
}

func TestTransformIgnoresEmptyClassName(t *testing.T) {
	tr := New(manager.New(nil, nil))
	out, err := tr.Transform(nil, "", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTransformDumpsOldAndNewBytes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DebugDumpEnvVar, dir)

	mgr := manager.New(nil, nil)
	s, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)
	mgr.AddScript(s)

	tr := New(mgr)
	assert.Equal(t, dir, tr.DebugDumpDir)

	raw := newTestClassBytes(t)
	out, err := tr.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	require.NotNil(t, out)

	newBytes, err := os.ReadFile(filepath.Join(dir, "com/example/Hello.class"))
	require.NoError(t, err)
	assert.Equal(t, out, newBytes)

	oldBytes, err := os.ReadFile(filepath.Join(dir, "com/example/Hello_OLD.class"))
	require.NoError(t, err)
	assert.Equal(t, raw, oldBytes)
}

func TestTransformNoDumpDirWritesNothing(t *testing.T) {
	mgr := manager.New(nil, nil)
	s, err := script.NewAddFieldScript("add-marker", []string{"com.example.Hello"}, 0, "marker", "Z", nil)
	require.NoError(t, err)
	mgr.AddScript(s)

	tr := New(mgr)
	require.Empty(t, tr.DebugDumpDir)

	raw := newTestClassBytes(t)
	out, err := tr.Transform(nil, "com/example/Hello", raw)
	require.NoError(t, err)
	require.NotNil(t, out)
}

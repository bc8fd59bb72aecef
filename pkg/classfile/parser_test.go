package classfile

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalClass constructs a tiny, self-contained class file
// (an empty "Hello" extending java/lang/Object, with a
// `public static void main(String[])` stub) entirely through
// PoolBuilder + Write, so tests never depend on a checked-in .class
// fixture.
func buildMinimalClass(t *testing.T) *ClassFile {
	t.Helper()
	cf := &ClassFile{
		MinorVersion: 0,
		MajorVersion: 61,
		ConstantPool: []ConstantPoolEntry{nil},
		AccessFlags:  AccPublic | AccSuper,
	}
	pb := NewPoolBuilder(cf)
	cf.ThisClass = pb.Class("Hello")
	cf.SuperClass = pb.Class("java/lang/Object")
	cf.Methods = []MethodInfo{
		{
			AccessFlags: AccPublic | AccStatic,
			Name:        "main",
			Descriptor:  "([Ljava/lang/String;)V",
			Code: &CodeAttribute{
				MaxStack:  0,
				MaxLocals: 1,
				Code:      []byte{0xB1}, // RETURN
			},
		},
	}
	return cf
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	cf := buildMinimalClass(t)

	out, err := Write(cf)
	require.NoError(t, err)

	reparsed, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)

	assert.Equal(t, uint16(61), reparsed.MajorVersion)
	className, err := reparsed.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "Hello", className)

	mainMethod := reparsed.FindMethod("main", "([Ljava/lang/String;)V")
	require.NotNil(t, mainMethod)
	require.NotNil(t, mainMethod.Code)
	assert.Equal(t, []byte{0xB1}, mainMethod.Code.Code)
	assert.Equal(t, uint16(1), mainMethod.Code.MaxLocals)
}

func TestFindMethodByNameAndAdd(t *testing.T) {
	cf := buildMinimalClass(t)
	cf.Methods = append(cf.Methods, MethodInfo{
		AccessFlags: AccPublic | AccStatic,
		Name:        "add",
		Descriptor:  "(II)I",
		Code:        &CodeAttribute{MaxStack: 2, MaxLocals: 2, Code: []byte{0x1A, 0x1B, 0x60, 0xAC}},
	})
	assert.NotNil(t, cf.FindMethod("add", "(II)I"))
	assert.NotNil(t, cf.FindMethodByName("add"))
	assert.Nil(t, cf.FindMethod("add", "(JJ)J"))
}

func TestParseInvalidMagic(t *testing.T) {
	f, err := os.CreateTemp("", "invalid*.class")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	f.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	f.Close()

	r, err := os.Open(f.Name())
	require.NoError(t, err)
	defer r.Close()

	_, err = Parse(r)
	assert.Error(t, err)
}

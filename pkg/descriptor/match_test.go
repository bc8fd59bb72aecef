package descriptor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTypeSpecMatchTotality exercises property 2 from spec.md §8: every
// primitive tag matches exactly its own human name, and adding the same
// number of array dimensions on both sides preserves the verdict.
func TestTypeSpecMatchTotality(t *testing.T) {
	all := []string{"byte", "char", "double", "float", "int", "long", "short", "boolean", "void"}
	for tag, name := range humanNames {
		desc := string(rune(tag))
		assert.Truef(t, TypeSpecMatch(desc, name), "tag %q should match %q", desc, name)
		for _, other := range all {
			if other == name {
				continue
			}
			assert.Falsef(t, TypeSpecMatch(desc, other), "tag %q should not match %q", desc, other)
		}
	}

	for n := 1; n <= 4; n++ {
		descDims := ""
		humanDims := ""
		for i := 0; i < n; i++ {
			descDims += "["
			humanDims += "[]"
		}
		desc := descDims + "Ljava/lang/String;"
		assert.True(t, TypeSpecMatch(desc, "java.lang.String"+humanDims), "dims=%d", n)
		assert.False(t, TypeSpecMatch(desc, "java.lang.String"+humanDims+"[]"), "extra dim, dims=%d", n)
		if n > 0 {
			assert.False(t, TypeSpecMatch(desc, "java.lang.String"+humanDims[:len(humanDims)-2]), "missing dim, dims=%d", n)
		}
	}
}

func TestTypeSpecMatchArraysS4(t *testing.T) {
	assert.True(t, TypeSpecMatch("[[Ljava/lang/String;", "java.lang.String[][]"))
	assert.False(t, TypeSpecMatch("[[Ljava/lang/String;", "java.lang.String[]"))
	assert.False(t, TypeSpecMatch("[[Ljava/lang/String;", "java.lang.String[][][]"))
}

func TestTypeSpecMatchInnerClassS5(t *testing.T) {
	assert.True(t, TypeSpecMatch("[Ljava/util/Map$Entry;", "java.util.Map.Entry[]"))
}

func TestClassSpecMatch(t *testing.T) {
	assert.True(t, ClassSpecMatch("java/lang/Thread", "java.lang.Thread"))
	assert.True(t, ClassSpecMatch("java/util/Map$Entry", "java.util.Map.Entry"))
	assert.False(t, ClassSpecMatch("java/lang/Thread", "java.lang.Object"))
}

func ExampleTypeSpecMatch() {
	fmt.Println(TypeSpecMatch("V", "void"))
	// Output: true
}

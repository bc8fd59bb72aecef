package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposeRoundTrip(t *testing.T) {
	cases := []string{
		"(JI)V",
		"(J)V",
		"()Ljava/lang/String;",
		"([[Ljava/lang/String;I)Z",
		"(IJDFB)Ljava/lang/Object;",
		"()V",
	}
	for _, desc := range cases {
		m, err := Decompose(desc)
		require.NoErrorf(t, err, "decomposing %q", desc)
		assert.Equalf(t, desc, Compose(m), "round trip of %q", desc)
	}
}

func TestDecomposeMalformed(t *testing.T) {
	cases := []string{
		"",
		"(J)",
		"JI)V",
		"(J",
		"(X)V",
		"(J)X",
		"(Ljava/lang/String)V", // missing ';'
	}
	for _, desc := range cases {
		_, err := Decompose(desc)
		require.Errorf(t, err, "expected malformed descriptor error for %q", desc)
		var malformed *MalformedDescriptor
		assert.ErrorAsf(t, err, &malformed, "error for %q should be *MalformedDescriptor", desc)
	}
}

func TestDecomposeThreadSleepS1(t *testing.T) {
	m, err := Decompose("(JI)V")
	require.NoError(t, err)
	assert.Equal(t, "V", m.Return)
	assert.Equal(t, []string{"J", "I"}, m.Params)
}

func TestInternalToDotted(t *testing.T) {
	assert.Equal(t, "java.lang.String", InternalToDotted("java/lang/String"))
	assert.Equal(t, "java.util.Map.Entry", InternalToDotted("java/util/Map$Entry"))
}

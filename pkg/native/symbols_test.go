package native

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patchlang/jvmpatch/pkg/symbolstack"
)

func TestSymbolsPushPopBindToSymbolStack(t *testing.T) {
	assert.False(t, symbolstack.HasSymbol("Foobar"))

	SymbolsPush("Foobar")
	assert.True(t, symbolstack.HasSymbol("Foobar"))
	assert.True(t, symbolstack.HasTail("Foobar"))

	SymbolsPop()
	assert.False(t, symbolstack.HasSymbol("Foobar"))
}

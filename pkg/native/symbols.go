// Package native is the native-method binding a host JVM installs so
// that SetSymbolDuringMethodCall's generated bytecode reaches this
// module's Go code instead of a real (and nonexistent) Java class.
//
// pkg/script's SetSymbolDuringMethodCall synthesizes wrapper methods that
// call symbolstack.RuntimeClass's push(String) and pop() by name and
// descriptor (pkg/symbolstack.PushMethodName/PopMethodName); a host
// runtime resolves those INVOKESTATIC targets through its own
// native-method registry, and SymbolsPush/SymbolsPop are what it points
// that registry entry at.
package native

import "github.com/patchlang/jvmpatch/pkg/symbolstack"

// SymbolsPush backs symbolstack.RuntimeClass's push(String) method.
func SymbolsPush(symbol string) {
	symbolstack.Push(symbol)
}

// SymbolsPop backs symbolstack.RuntimeClass's pop() method.
func SymbolsPop() {
	symbolstack.Pop()
}

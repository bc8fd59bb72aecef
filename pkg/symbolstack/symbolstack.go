// Package symbolstack implements the process-wide, thread-partitioned
// symbol stack that hook methods consult around a wrapped call
// (spec.md §4.8). Go has no native thread-local storage; this package
// keys each goroutine's stack by its goroutine ID, the same technique
// embedded bytecode interpreters use for their own per-goroutine
// call-stack bookkeeping.
package symbolstack

import (
	"sync"

	"github.com/petermattis/goid"
)

var (
	mu     sync.Mutex
	stacks = make(map[int64][]string)
)

// RuntimeClass is the internal name SetSymbolDuringMethodCall's generated
// wrapper methods invoke to reach this package: a native binding, not a
// class that ships bytecode of its own (pkg/native wires PushMethod and
// PopMethod's descriptors straight to Push and Pop below).
const RuntimeClass = "com/patchlang/jvmpatch/runtime/Symbols"

// PushMethod and PopMethod are the name/descriptor pairs generated
// wrapper bodies invoke on RuntimeClass.
const (
	PushMethodName       = "push"
	PushMethodDescriptor = "(Ljava/lang/String;)V"
	PopMethodName        = "pop"
	PopMethodDescriptor  = "()V"
)

// Push appends s to the top of the calling goroutine's stack.
func Push(s string) {
	mu.Lock()
	defer mu.Unlock()
	id := goid.Get()
	stacks[id] = append(stacks[id], s)
}

// Pop removes and discards the topmost symbol of the calling goroutine's
// stack. Popping an empty stack is a no-op: SetSymbolDuringMethodCall's
// generated wrapper always pairs Push/Pop around a single call, but a
// defensive no-op keeps a bug in generated bytecode from panicking the
// host's class-loading thread.
func Pop() {
	mu.Lock()
	defer mu.Unlock()
	id := goid.Get()
	s := stacks[id]
	if len(s) == 0 {
		return
	}
	stacks[id] = s[:len(s)-1]
}

// Size returns the calling goroutine's current stack depth.
func Size() int {
	mu.Lock()
	defer mu.Unlock()
	return len(stacks[goid.Get()])
}

// IsEmpty reports whether the calling goroutine's stack is empty.
func IsEmpty() bool {
	return Size() == 0
}

// HasSymbol reports whether s occurs anywhere in the calling goroutine's
// stack.
func HasSymbol(s string) bool {
	mu.Lock()
	defer mu.Unlock()
	for _, v := range stacks[goid.Get()] {
		if v == s {
			return true
		}
	}
	return false
}

// HasTail reports whether s is the topmost symbol of the calling
// goroutine's stack.
func HasTail(s string) bool {
	mu.Lock()
	defer mu.Unlock()
	stack := stacks[goid.Get()]
	if len(stack) == 0 {
		return false
	}
	return stack[len(stack)-1] == s
}

// reset clears the calling goroutine's stack. Only used by tests: it
// lets a test assert a clean starting depth without depending on test
// execution order.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	delete(stacks, goid.Get())
}

package script

import (
	"github.com/patchlang/jvmpatch/pkg/classfile"
)

// newTestClass builds a minimal class named owner (internal form) with one
// method, for exercising a single primitive's patchXxx function in
// isolation. code/maxStack/maxLocals describe that one method's body.
func newTestClass(owner, methodName, methodDescriptor string, access uint16, code []byte, maxStack, maxLocals uint16) *classfile.ClassFile {
	cf := &classfile.ClassFile{
		MinorVersion: 0,
		MajorVersion: 52, // >= Version50: exercises the stack-map-frame-dropping path too
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
	return cf
}

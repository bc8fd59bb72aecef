// Package descriptor parses and composes JVM type and method descriptors,
// and converts between the internal (class-file) form and the dotted
// human-readable form used at library entry points.
package descriptor

import (
	"fmt"
	"regexp"
	"strings"
)

// Primitive type tags, per the JVM specification.
const (
	TagByte    = 'B'
	TagChar    = 'C'
	TagDouble  = 'D'
	TagFloat   = 'F'
	TagInt     = 'I'
	TagLong    = 'J'
	TagShort   = 'S'
	TagBoolean = 'Z'
	TagVoid    = 'V'
	TagArray   = '['
	TagObject  = 'L'
)

// MalformedDescriptor reports that a string did not parse as a JVM
// type or method descriptor.
type MalformedDescriptor struct {
	Descriptor string
	Reason     string
}

func (e *MalformedDescriptor) Error() string {
	return fmt.Sprintf("malformed descriptor %q: %s", e.Descriptor, e.Reason)
}

// humanNames maps primitive tags to their dotted human spelling.
var humanNames = map[byte]string{
	TagByte:    "byte",
	TagChar:    "char",
	TagDouble:  "double",
	TagFloat:   "float",
	TagInt:     "int",
	TagLong:    "long",
	TagShort:   "short",
	TagBoolean: "boolean",
	TagVoid:    "void",
}

// fieldDescriptor matches a single JVM field (type) descriptor.
var fieldDescriptor = `\[*(?:[BCDFIJSZ]|L[^;]+;)`

// methodDescriptorRE matches a complete method descriptor:
// "(" params ")" return, where return may additionally be V.
var methodDescriptorRE = regexp.MustCompile(
	`^\((?:` + fieldDescriptor + `)*\)(?:V|` + fieldDescriptor + `)$`,
)

var oneTypeRE = regexp.MustCompile(`^` + fieldDescriptor + `$`)
var returnTypeRE = regexp.MustCompile(`^(?:V|` + fieldDescriptor + `)$`)

// Method is the decomposed form of a method descriptor: the return type
// followed by the parameter types, in declaration order.
type Method struct {
	Return string
	Params []string
}

// Decompose splits a method descriptor string into its parameter and
// return type descriptors. It fails with *MalformedDescriptor if desc
// does not match the JVM method-descriptor grammar.
func Decompose(desc string) (Method, error) {
	if !methodDescriptorRE.MatchString(desc) {
		return Method{}, &MalformedDescriptor{Descriptor: desc, Reason: "does not match method descriptor grammar"}
	}
	close := strings.IndexByte(desc, ')')
	paramsPart := desc[1:close]
	returnPart := desc[close+1:]

	var params []string
	for len(paramsPart) > 0 {
		tok, rest, err := consumeOne(paramsPart)
		if err != nil {
			return Method{}, err
		}
		params = append(params, tok)
		paramsPart = rest
	}

	return Method{Return: returnPart, Params: params}, nil
}

// Compose re-assembles a method descriptor from its return type and
// parameter types, in that declaration order.
func Compose(m Method) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		b.WriteString(p)
	}
	b.WriteByte(')')
	b.WriteString(m.Return)
	return b.String()
}

// consumeOne strips one field descriptor (any number of leading '[', then
// a primitive tag or an L...; reference type) off the front of s, returning
// the consumed token and the remainder.
func consumeOne(s string) (tok string, rest string, err error) {
	i := 0
	for i < len(s) && s[i] == TagArray {
		i++
	}
	if i >= len(s) {
		return "", "", &MalformedDescriptor{Descriptor: s, Reason: "truncated array descriptor"}
	}
	switch s[i] {
	case TagByte, TagChar, TagDouble, TagFloat, TagInt, TagLong, TagShort, TagBoolean:
		return s[:i+1], s[i+1:], nil
	case TagObject:
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return "", "", &MalformedDescriptor{Descriptor: s, Reason: "unterminated reference type"}
		}
		end += i
		return s[:end+1], s[end+1:], nil
	default:
		return "", "", &MalformedDescriptor{Descriptor: s, Reason: fmt.Sprintf("unknown type tag %q", s[i])}
	}
}

// ValidType reports whether desc is a single well-formed field descriptor
// (optionally array-prefixed) or the literal "V".
func ValidType(desc string) bool {
	if desc == "V" {
		return true
	}
	return oneTypeRE.MatchString(desc)
}

// ValidReturn reports whether desc is a well-formed return-type descriptor
// (a field descriptor, or "V").
func ValidReturn(desc string) bool {
	return returnTypeRE.MatchString(desc)
}

// HumanName returns the dotted human spelling of a primitive tag, and
// false if t is not one of BCDFIJSZV.
func HumanName(t byte) (string, bool) {
	n, ok := humanNames[t]
	return n, ok
}

// InternalToDotted converts a class-file internal name (using '/' and
// optionally '$' for nested classes) to its dotted human form.
func InternalToDotted(internal string) string {
	r := strings.ReplaceAll(internal, "/", ".")
	r = strings.ReplaceAll(r, "$", ".")
	return r
}

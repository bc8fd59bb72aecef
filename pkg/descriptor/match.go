package descriptor

import "strings"

// TypeSpecMatch reports whether a JVM type descriptor (e.g. "[[Ljava/lang/String;",
// "I", "V") matches a dotted human type spelling (e.g. "java.lang.String[][]",
// "int", "void"). There are no wildcards: every dimension and every token
// must agree exactly.
//
// Matching proceeds: "V" matches the literal "void"; leading '[' characters
// in the descriptor count as array dimensions and must be matched by the
// same number of trailing "[]" pairs in the human form; the remaining base
// token is matched primitive-tag-to-human-name, or (for a reference type)
// by normalizing '/' and '$' to '.' in the internal name and comparing to
// whatever remains of the human form.
func TypeSpecMatch(desc, human string) bool {
	if desc == "V" {
		return human == "void"
	}

	dims := 0
	for dims < len(desc) && desc[dims] == TagArray {
		dims++
	}
	base := desc[dims:]

	for i := 0; i < dims; i++ {
		if !strings.HasSuffix(human, "[]") {
			return false
		}
		human = human[:len(human)-2]
	}
	// Any remaining "[]" pairs on the human side mean the dimensions differ.
	if strings.HasSuffix(human, "[]") {
		return false
	}

	if len(base) == 0 {
		return false
	}
	if base[0] == TagObject {
		if !strings.HasSuffix(base, ";") {
			return false
		}
		internal := base[1 : len(base)-1]
		return InternalToDotted(internal) == human
	}
	if len(base) != 1 {
		return false
	}
	name, ok := HumanName(base[0])
	if !ok {
		return false
	}
	return name == human
}

// ClassSpecMatch reports whether a class-file internal name (using '/'
// separators and '$' for nested classes) matches a dotted human class
// name, after normalizing both separators to '.'.
func ClassSpecMatch(internal, human string) bool {
	return InternalToDotted(internal) == InternalToDotted(human)
}

package extract

import "strings"

// ObjectKind distinguishes how an object's own name participates in its
// organizational path.
//
// A container object (an OU, a department) includes its own name as the
// first token of its path, so its immediate parent is the second token.
// A leaf object (a user, a computer) does not appear in the organizational
// portion of its own path, so its immediate parent is the first token.
// The offset is carried by the kind, never hard-coded at call sites; a
// wrong offset silently corrupts the whole hierarchy by one level.
type ObjectKind int

const (
	// KindContainer is an object whose own name is token 0 of its path.
	KindContainer ObjectKind = iota
	// KindLeaf is an object whose path starts at its immediate parent.
	KindLeaf
)

// parentOffset returns the index of the immediate parent token for the kind.
func (k ObjectKind) parentOffset() int {
	if k == KindContainer {
		return 1
	}
	return 0
}

// Hierarchy is the parsed organizational placement of an object. Tokens
// run leaf-to-root as delivered by the directory (e.g.,
// "Chemistry,LSA,UMICH"); Root is the last token, ImmediateParent depends
// on the object kind.
type Hierarchy struct {
	Tokens          []string `json:"tokens"`
	Root            string   `json:"root,omitempty"`
	ImmediateParent string   `json:"immediate_parent,omitempty"`
	Department      string   `json:"department,omitempty"`
	College         string   `json:"college,omitempty"`
}

// ParseHierarchy tokenizes a separator-delimited organizational path and
// extracts the named levels for the given object kind. Empty tokens are
// dropped; an empty path yields a zero Hierarchy.
//
// Fixed-depth levels are indexed from both ends: Root and College from the
// root end, Department and ImmediateParent from the leaf end with the
// kind's offset applied.
func ParseHierarchy(path, separator string, kind ObjectKind) Hierarchy {
	if separator == "" {
		separator = ","
	}

	var tokens []string
	for _, raw := range strings.Split(path, separator) {
		if t := NormString(raw); t != nil {
			tokens = append(tokens, *t)
		}
	}

	h := Hierarchy{Tokens: tokens}
	if len(tokens) == 0 {
		return h
	}

	// Root end.
	h.Root = tokens[len(tokens)-1]
	if len(tokens) >= 2 {
		h.College = tokens[len(tokens)-2]
	}

	// Leaf end, offset by kind.
	off := kind.parentOffset()
	if off < len(tokens) {
		h.ImmediateParent = tokens[off]
		h.Department = tokens[off]
	}

	return h
}

// StripPrefixes removes known non-organizational leading tokens (e.g.,
// directory containers like "Users" or "Computers") before parsing.
func StripPrefixes(path, separator string, prefixes []string) string {
	if separator == "" {
		separator = ","
	}
	parts := strings.Split(path, separator)
	for len(parts) > 0 {
		head := strings.TrimSpace(parts[0])
		stripped := false
		for _, p := range prefixes {
			if strings.EqualFold(head, p) {
				parts = parts[1:]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(parts, separator)
}

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHierarchy_LeafObject(t *testing.T) {
	// A computer's path does not include its own name, so its immediate
	// parent is the first token.
	h := ParseHierarchy("Chemistry,LSA,UMICH", ",", KindLeaf)

	assert.Equal(t, []string{"Chemistry", "LSA", "UMICH"}, h.Tokens)
	assert.Equal(t, "UMICH", h.Root)
	assert.Equal(t, "Chemistry", h.ImmediateParent)
	assert.Equal(t, "Chemistry", h.Department)
	assert.Equal(t, "LSA", h.College)
}

func TestParseHierarchy_ContainerObject(t *testing.T) {
	// An OU's path starts with its own name, so its immediate parent is
	// the second token, not the first.
	h := ParseHierarchy("Chemistry,LSA,UMICH", ",", KindContainer)

	assert.Equal(t, "UMICH", h.Root)
	assert.Equal(t, "LSA", h.ImmediateParent)
}

func TestParseHierarchy_TrimsAndDropsEmptyTokens(t *testing.T) {
	h := ParseHierarchy(" Chemistry , ,LSA,, UMICH ", ",", KindLeaf)
	assert.Equal(t, []string{"Chemistry", "LSA", "UMICH"}, h.Tokens)
}

func TestParseHierarchy_Empty(t *testing.T) {
	h := ParseHierarchy("", ",", KindLeaf)
	assert.Empty(t, h.Tokens)
	assert.Empty(t, h.Root)
	assert.Empty(t, h.ImmediateParent)
}

func TestParseHierarchy_SingleToken(t *testing.T) {
	leaf := ParseHierarchy("UMICH", ",", KindLeaf)
	assert.Equal(t, "UMICH", leaf.Root)
	assert.Equal(t, "UMICH", leaf.ImmediateParent)

	// A container with a single-token path has no parent.
	container := ParseHierarchy("UMICH", ",", KindContainer)
	assert.Equal(t, "UMICH", container.Root)
	assert.Empty(t, container.ImmediateParent)
}

func TestStripPrefixes(t *testing.T) {
	got := StripPrefixes("Computers,Chemistry,LSA,UMICH", ",", []string{"Computers", "Users"})
	assert.Equal(t, "Chemistry,LSA,UMICH", got)

	// Multiple leading prefixes are all removed.
	got = StripPrefixes("Users,Computers,Chemistry,LSA,UMICH", ",", []string{"Computers", "Users"})
	assert.Equal(t, "Chemistry,LSA,UMICH", got)

	// Prefix tokens deeper in the path are untouched.
	got = StripPrefixes("Chemistry,Users,UMICH", ",", []string{"Users"})
	assert.Equal(t, "Chemistry,Users,UMICH", got)
}

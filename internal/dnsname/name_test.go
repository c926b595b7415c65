package dnsname_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polyresolver/polyresolver/internal/dnsname"
)

func TestParseCanonicalizes(t *testing.T) {
	n := dnsname.Parse("Corp.Example")
	assert.Equal(t, "corp.example.", n.String())
	assert.Equal(t, 2, n.LabelCount())
}

func TestParseRoot(t *testing.T) {
	for _, raw := range []string{"", ".", "  "} {
		n := dnsname.Parse(raw)
		assert.True(t, n.IsRoot())
		assert.Equal(t, ".", n.String())
		assert.Equal(t, 0, n.LabelCount())
	}
}

func TestIsSuffixOf(t *testing.T) {
	root := dnsname.Parse(".")
	example := dnsname.Parse("example.")
	internalExample := dnsname.Parse("internal.example.")
	host := dnsname.Parse("host.internal.example.")
	hostExample := dnsname.Parse("host.example.")

	assert.True(t, root.IsSuffixOf(host))
	assert.True(t, example.IsSuffixOf(host))
	assert.True(t, internalExample.IsSuffixOf(host))
	assert.True(t, example.IsSuffixOf(hostExample))
	assert.False(t, internalExample.IsSuffixOf(hostExample))
	assert.False(t, host.IsSuffixOf(example))
}

func TestSuffixes(t *testing.T) {
	n := dnsname.Parse("host.internal.example.")
	suffixes := n.Suffixes()

	want := []string{"host.internal.example.", "internal.example.", "example.", "."}
	got := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		got = append(got, s.String())
	}

	assert.Equal(t, want, got)
}

func TestEqual(t *testing.T) {
	a := dnsname.Parse("Foo.")
	b := dnsname.Parse("foo")
	assert.True(t, a.Equal(b))
}

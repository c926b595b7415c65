// Package dnsname implements canonical DNS name comparison used by the
// routing catalog for longest-suffix matching.
package dnsname

import (
	"strings"

	"github.com/miekg/dns"
)

// Name is a canonicalized domain name: lowercase labels, always
// fully-qualified (trailing root label). The zero Name is the root.
type Name struct {
	fqdn   string
	labels []string
}

// Parse canonicalizes raw into a Name. An empty string or "." is the root.
func Parse(raw string) Name {
	fqdn := dns.Fqdn(strings.ToLower(strings.TrimSpace(raw)))
	if fqdn == "." {
		return Name{fqdn: "."}
	}

	return Name{fqdn: fqdn, labels: dns.SplitDomainName(fqdn)}
}

// String returns the canonical fully-qualified form, e.g. "corp.example.".
func (n Name) String() string {
	if n.fqdn == "" {
		return "."
	}

	return n.fqdn
}

// IsRoot reports whether n is the root name.
func (n Name) IsRoot() bool {
	return n.fqdn == "" || n.fqdn == "."
}

// LabelCount returns the number of labels in n, excluding the root label.
// The root name has zero labels.
func (n Name) LabelCount() int {
	return len(n.labels)
}

// Equal reports whether n and other are the same canonical name.
func (n Name) Equal(other Name) bool {
	return n.String() == other.String()
}

// Suffixes returns n and every ancestor zone of n, from most specific
// (n itself) to least (the root), inclusive. Used by the routing catalog to
// walk candidate zones for a longest-suffix lookup.
func (n Name) Suffixes() []Name {
	out := make([]Name, 0, n.LabelCount()+1)

	for i := range n.labels {
		out = append(out, Name{
			fqdn:   dotJoin(n.labels[i:]),
			labels: n.labels[i:],
		})
	}

	out = append(out, Name{fqdn: "."})

	return out
}

func dotJoin(labels []string) string {
	joined := ""
	for _, l := range labels {
		joined += l + "."
	}

	return joined
}

// IsSuffixOf reports whether n is equal to, or a parent zone of, other.
// The root name is a suffix of every name.
func (n Name) IsSuffixOf(other Name) bool {
	if n.IsRoot() {
		return true
	}

	if n.LabelCount() > other.LabelCount() {
		return false
	}

	offset := other.LabelCount() - n.LabelCount()
	for i, label := range n.labels {
		if other.labels[offset+i] != label {
			return false
		}
	}

	return true
}

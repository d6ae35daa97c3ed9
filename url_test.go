package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://WWW.Example.COM/Path/", "http://example.com/Path"},
		{"http://example.com/?utm_source=x&b=2", "http://example.com"},
		{"http://example.com/a#section", "http://example.com/a"},
		{"https://example.com:443/x", "https://example.com/x"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
		{"http://example.com///", "http://example.com"},
		// Stripping www. from a host that is nothing but www would leave a
		// single label, so it stays.
		{"http://www.com/", "http://www.com"},
	}
	for _, tt := range tests {
		u, err := ParseAndCanonicalizeURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, u.String(), "canonical form of %v", tt.in)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://WWW.Example.COM/Path/",
		"http://example.com/?q=1#frag",
		"https://blog.bbc.co.uk/Article/",
		"http://example.com:8080/a/b/",
	}
	for _, in := range inputs {
		once, err := CanonicalString(in)
		require.NoError(t, err)
		twice, err := CanonicalString(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "second canonicalization of %v changed the url", in)
	}
}

func TestDomainName(t *testing.T) {
	assert.Equal(t, "example.com", MustParseURL("http://WWW.Example.com/x").DomainName())
	assert.Equal(t, "example.com", MustParseURL("http://example.com:8080/").DomainName())
	assert.Equal(t, "www.com", MustParseURL("http://www.com/").DomainName())
}

func TestMainDomain(t *testing.T) {
	tests := []struct {
		in         string
		main       string
		subdomain  string
		isMainName bool
	}{
		{"http://blog.bbc.co.uk/article", "bbc.co.uk", "blog", false},
		{"http://bbc.co.uk/", "bbc.co.uk", "", true},
		{"http://www.example.com/", "example.com", "", true},
		{"http://a.b.example.com/", "example.com", "a.b", false},
		// Hosts the public suffix list cannot split fall back to the host.
		{"http://192.168.0.1/x", "192.168.0.1", "", true},
	}
	for _, tt := range tests {
		u := MustParseURL(tt.in)
		assert.Equal(t, tt.main, u.MainDomain(), tt.in)
		assert.Equal(t, tt.subdomain, u.SubdomainPart(), tt.in)
		assert.Equal(t, tt.isMainName, u.IsMainDomain(), tt.in)
	}
}

func TestMakeAbsolute(t *testing.T) {
	base := MustParseURL("http://example.com/dir/page")
	rel := MustParseURL("../other")
	rel.MakeAbsolute(base)
	assert.Equal(t, "http://example.com/other", rel.String())

	abs := MustParseURL("http://elsewhere.com/x")
	abs.MakeAbsolute(base)
	assert.Equal(t, "http://elsewhere.com/x", abs.String())
}

func TestIsHTTP(t *testing.T) {
	assert.True(t, MustParseURL("http://a.com").IsHTTP())
	assert.True(t, MustParseURL("HTTPS://a.com").IsHTTP())
	assert.False(t, MustParseURL("ftp://a.com").IsHTTP())
	assert.False(t, MustParseURL("mailto:someone@a.com").IsHTTP())
}

func TestIsValidDomain(t *testing.T) {
	valid := []string{"example.com", "a.b.example.co.uk", "x-1.example.com", "123.example.com"}
	for _, name := range valid {
		assert.True(t, IsValidDomain(name), name)
	}
	invalid := []string{
		"",
		"nodots",
		".leading.com",
		"trailing.com.",
		"-bad.example.com",
		"bad-.example.com",
		"spaces in.com",
		strings.Repeat("a", 250) + ".com",
	}
	for _, name := range invalid {
		assert.False(t, IsValidDomain(name), name)
	}
}

func TestParseURLError(t *testing.T) {
	_, err := ParseURL("http://bad\x7f.com/%zz")
	assert.Error(t, err)
	_, err = ParseAndCanonicalizeURL("%zz")
	assert.Error(t, err)
}

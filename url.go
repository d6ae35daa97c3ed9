package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// URL embeds *url.URL and carries the crawler's canonicalization and domain
// helpers. All URLs flowing through the system should be created with
// ParseURL so we get consistency.
type URL struct {
	*url.URL
}

// ParseURL is the crawler equivalent of url.Parse.
func ParseURL(ref string) (*URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return &URL{URL: u}, nil
}

// MustParseURL is ParseURL for refs known to be valid, typically literals in
// tests and seeds built from validated hostnames.
func MustParseURL(ref string) *URL {
	u, err := ParseURL(ref)
	if err != nil {
		panic("failed to parse URL: " + ref)
	}
	return u
}

// ParseAndCanonicalizeURL parses ref and returns its canonical form.
func ParseAndCanonicalizeURL(ref string) (*URL, error) {
	u, err := ParseURL(ref)
	if err != nil {
		return nil, err
	}
	u.Canonicalize()
	return u, nil
}

// Canonicalize reduces the URL in place to the identity form used for
// deduplication and queue storage: lowercased scheme and host, `www.`
// stripped, default port removed, query and fragment dropped, trailing
// slashes removed. The transform is idempotent, so a canonical URL read back
// from the store canonicalizes to itself.
func (u *URL) Canonicalize() {
	rawURL := u.URL

	// Standard normalization first (lowercase scheme/host, escape cleanup,
	// default port removal). This call modifies the url in place.
	purell.NormalizeURL(rawURL, purell.FlagsSafe|purell.FlagRemoveFragment)

	host := rawURL.Hostname()
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != host && strings.Contains(trimmed, ".") {
		host = trimmed
	}
	if port := rawURL.Port(); port != "" {
		rawURL.Host = host + ":" + port
	} else {
		rawURL.Host = host
	}

	rawURL.Path = strings.TrimRight(rawURL.Path, "/")
	rawURL.RawPath = ""
	rawURL.RawQuery = ""
	rawURL.ForceQuery = false
	rawURL.Fragment = ""
	rawURL.RawFragment = ""
}

// Canonical returns the canonical form of u without modifying u.
func (u *URL) Canonical() *URL {
	c := u.Clone()
	c.Canonicalize()
	return c
}

// CanonicalString parses ref and returns its canonical string form.
func CanonicalString(ref string) (string, error) {
	u, err := ParseAndCanonicalizeURL(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Clone returns a deep copy of this URL.
func (u *URL) Clone() *URL {
	nurl := *u.URL

	if nurl.User != nil {
		userInfo := *nurl.User
		nurl.User = &userInfo
	}

	return &URL{URL: &nurl}
}

// IsHTTP reports whether the URL uses a scheme the crawler will fetch.
func (u *URL) IsHTTP() bool {
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// DomainName returns the lowercased host with any `www.` prefix stripped and
// without a port. This is the name stored in the domains table.
func (u *URL) DomainName() string {
	host := strings.ToLower(u.Hostname())
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != host && strings.Contains(trimmed, ".") {
		return trimmed
	}
	return host
}

// MainDomain returns the Effective Toplevel Domain of this host as defined
// by https://publicsuffix.org/, plus one extra domain component.
//
// For example the main domain of http://blog.bbc.co.uk/ is 'bbc.co.uk'. The
// classifier uses main domains as the unit of grouping when deciding
// subdomain edges. Hosts the public suffix list cannot split (IP addresses,
// single labels) fall back to DomainName so the result is always usable.
func (u *URL) MainDomain() string {
	dom, err := publicsuffix.EffectiveTLDPlusOne(u.DomainName())
	if err != nil {
		return u.DomainName()
	}
	return dom
}

// SubdomainPart provides the remaining subdomain after removing the main
// domain. For example http://blog.bbc.co.uk/ returns 'blog' (no trailing
// period). If there is no subdomain it returns "".
func (u *URL) SubdomainPart() string {
	dom := u.MainDomain()
	host := u.DomainName()
	if len(host) <= len(dom) {
		return ""
	}
	return strings.TrimSuffix(host, "."+dom)
}

// IsMainDomain reports whether the host is the bare registered domain, with
// no subdomain component.
func (u *URL) IsMainDomain() bool {
	return u.DomainName() == u.MainDomain()
}

// MakeAbsolute uses URL.ResolveReference to make this URL object an absolute
// reference (having Scheme and Host), if it is not one already. It is
// resolved using `base` as the base URL.
func (u *URL) MakeAbsolute(base *URL) {
	if u.IsAbs() {
		return
	}
	u.URL = base.URL.ResolveReference(u.URL)
}

var validDomainRegex = regexp.MustCompile(
	`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// IsValidDomain reports whether name looks like a registrable DNS hostname:
// dot-separated labels of letters, digits and inner hyphens, at least two
// labels, at most 253 characters total.
func IsValidDomain(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	if !strings.Contains(name, ".") {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return validDomainRegex.MatchString(name)
}

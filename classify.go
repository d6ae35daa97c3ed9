package crawler

import (
	"context"
)

// Edge is one classified relationship from a source domain: the kind and the
// domain name the edge points to. For redirect edges the target is the host
// the probe landed on, not the host the page linked to.
type Edge struct {
	Kind   RelKind
	Target string
}

// Classifier decides which relationship edges connect a source page to a
// link target. It is total: every (source, target) pair yields at least one
// edge, and probe failures quietly degrade to the nominal edge.
type Classifier struct {
	fetcher *Fetcher
}

// NewClassifier builds a classifier that probes redirects through the given
// fetcher.
func NewClassifier(f *Fetcher) *Classifier {
	return &Classifier{fetcher: f}
}

// Classify returns the relationship edges from the source page's domain to
// the target URL's domain. The nominal edge is subdomain when the target is
// a subdomain of the source's registered domain, link otherwise. For targets
// on a different registered domain a HEAD probe checks whether the target
// itself bounces away; a confirmed redirect adds a second edge pointing at
// the final host, alongside the nominal one.
func (c *Classifier) Classify(ctx context.Context, source, target *URL) []Edge {
	nominal := Edge{Kind: RelLink, Target: target.DomainName()}
	if isSubdomainOf(source, target) {
		nominal.Kind = RelSubdomain
	}
	edges := []Edge{nominal}

	if source.MainDomain() != target.MainDomain() {
		if finalHost, ok := c.probeRedirect(ctx, target); ok {
			edges = append(edges, Edge{Kind: RelRedirect, Target: finalHost})
		}
	}
	return edges
}

// isSubdomainOf reports whether target is a subdomain of the source's
// registered domain: both share the same main domain, the source sits on
// the bare registered domain, and the target carries a subdomain part.
func isSubdomainOf(source, target *URL) bool {
	return source.MainDomain() == target.MainDomain() &&
		source.IsMainDomain() &&
		!target.IsMainDomain()
}

// probeRedirect HEADs the target without following redirects and returns
// the host the target bounces to, if it bounces at all. A hop that only
// switches between http and https on the same host is not a redirect edge;
// that is routine TLS canonicalization, not a relationship.
func (c *Classifier) probeRedirect(ctx context.Context, target *URL) (string, bool) {
	res, err := c.fetcher.Head(ctx, target, false)
	if err != nil {
		return "", false
	}
	if res.StatusCode < 300 || res.StatusCode > 399 || res.Location == "" {
		return "", false
	}
	loc, err := ParseURL(res.Location)
	if err != nil {
		return "", false
	}
	loc.MakeAbsolute(target)
	if loc.DomainName() == target.DomainName() {
		return "", false
	}
	return loc.DomainName(), true
}

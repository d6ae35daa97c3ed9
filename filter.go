package crawler

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
)

// blockedExtensions are file types a page fetch can never return useful HTML
// for. Checked against the final path element's extension, lowercased.
var blockedExtensions = map[string]bool{
	// images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".tiff": true, ".svg": true, ".webp": true, ".ico": true,
	// documents
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".txt": true, ".rtf": true,
	// archives
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".bz2": true,
	// media
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".wav": true, ".ogg": true,
	// executables and installers
	".exe": true, ".msi": true, ".dmg": true, ".pkg": true, ".deb": true,
	".rpm": true,
	// code and data
	".js": true, ".css": true, ".xml": true, ".json": true, ".csv": true,
	".sql": true,
	// other
	".log": true, ".tmp": true, ".bak": true, ".old": true, ".cache": true,
}

// builtinExcludePatterns match against the full lowercased URL. These are
// page families that produce no domain-graph signal: machinery endpoints,
// auth and commerce flows, boilerplate pages.
var builtinExcludePatterns = []string{
	`analytics|tracking|pixel|beacon`,
	`/api/|/rest/|/graphql|/swagger|/docs`,
	`/admin|/wp-admin|/phpmyadmin|/cpanel`,
	`/sitemap|/robots\.txt|/favicon\.ico`,
	`/cart|/checkout|/payment|/order`,
	`/login|/logout|/register|/signup|/profile`,
	`/search|/filter|/sort|/page`,
	`/contact|/about|/privacy|/terms|/help`,
}

// builtinHostPatterns match against the bare domain name. These catch
// user-generated-content platforms where every subdomain is a separate
// author, not a separate organization.
var builtinHostPatterns = []string{
	`^[^.]+\.itch\.io$`,
	`^[^.]+\.github\.io$`,
	`^[^.]+\.blogspot\.com$`,
	`^[^.]+\.wordpress\.com$`,
	`^[^.]+\.tumblr\.com$`,
}

// trackingParamPrefixes reject any URL carrying campaign/attribution query
// parameters; those URLs duplicate content already reachable canonically.
var trackingParamPrefixes = []string{"utm_", "fbclid", "gclid", "ref", "source", "campaign"}

// blockedFirstSegments are path roots that serve assets or internal tooling.
var blockedFirstSegments = map[string]bool{
	"api": true, "admin": true, "assets": true, "static": true,
	"cdn": true, "images": true, "img": true, "css": true, "js": true,
}

// genericLinkTexts are anchor texts that say nothing about the target.
var genericLinkTexts = map[string]bool{
	"click here": true, "read more": true, "learn more": true,
	"continue": true, "next": true, "previous": true,
}

const (
	maxURLLength    = 500
	maxQueryParams  = 10
	maxPathSegments = 8
)

// LinkFilter decides which discovered links are worth following. The zero
// value is not usable; build one with NewLinkFilter or use DefaultLinkFilter.
type LinkFilter struct {
	urlPattern  *regexp.Regexp
	hostPattern *regexp.Regexp
}

var defaultFilter *LinkFilter

// setupLinkFilter rebuilds the default filter, folding any
// Crawler.ExcludeLinkPatterns from the config into the builtin URL patterns.
// Called from PostConfigHooks.
func setupLinkFilter() error {
	f, err := NewLinkFilter(Config.Crawler.ExcludeLinkPatterns)
	if err != nil {
		return err
	}
	defaultFilter = f
	return nil
}

// DefaultLinkFilter returns the filter compiled from the current config.
func DefaultLinkFilter() *LinkFilter {
	return defaultFilter
}

// NewLinkFilter compiles a filter from the builtin rules plus any extra URL
// patterns.
func NewLinkFilter(extraPatterns []string) (*LinkFilter, error) {
	urlPats := append(append([]string{}, builtinExcludePatterns...), extraPatterns...)
	urlRe, err := aggregateRegex(urlPats, "exclude_link_patterns")
	if err != nil {
		return nil, err
	}
	hostRe, err := aggregateRegex(builtinHostPatterns, "host_patterns")
	if err != nil {
		return nil, err
	}
	return &LinkFilter{urlPattern: urlRe, hostPattern: hostRe}, nil
}

// aggregateRegex joins the listed patterns into a single alternation and
// compiles it case-insensitively. An empty list yields a nil regexp.
func aggregateRegex(patterns []string, name string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	joined := "(?i)(?:" + strings.Join(patterns, ")|(?:") + ")"
	re, err := regexp.Compile(joined)
	if err != nil {
		return nil, fmt.Errorf("bad regex in %v: %v", name, err)
	}
	return re, nil
}

// ShouldFollow reports whether the link passes every rejection rule.
func (f *LinkFilter) ShouldFollow(u *URL, linkText string) bool {
	_, rejected := f.Reject(u, linkText)
	return !rejected
}

// Reject applies the rejection rules in order and returns the first matching
// reason. The reason strings end up in debug logs, so they stay short and
// stable.
func (f *LinkFilter) Reject(u *URL, linkText string) (string, bool) {
	if !u.IsHTTP() {
		return "scheme", true
	}
	host := u.DomainName()
	if !IsValidDomain(host) {
		return "invalid domain", true
	}

	if ext := strings.ToLower(path.Ext(u.Path)); blockedExtensions[ext] {
		return "blocked extension", true
	}

	raw := strings.ToLower(u.String())
	if f.urlPattern != nil && f.urlPattern.MatchString(raw) {
		return "excluded pattern", true
	}
	if f.hostPattern != nil && f.hostPattern.MatchString(host) {
		return "excluded host", true
	}

	if query := u.Query(); len(query) > 0 {
		if len(query) > maxQueryParams {
			return "too many query params", true
		}
		for name := range query {
			lower := strings.ToLower(name)
			for _, prefix := range trackingParamPrefixes {
				if strings.HasPrefix(lower, prefix) {
					return "tracking param", true
				}
			}
		}
	}

	if len(u.String()) > maxURLLength {
		return "url too long", true
	}
	segments := pathSegments(u.Path)
	if len(segments) > maxPathSegments {
		return "too many path segments", true
	}
	if len(segments) > 0 && blockedFirstSegments[strings.ToLower(segments[0])] {
		return "blocked path root", true
	}

	// Anchors without meaningful text are navigation chrome, not an
	// endorsement of the target.
	text := strings.TrimSpace(linkText)
	if nonSpaceLen(text) < 2 {
		return "link text too short", true
	}
	if genericLinkTexts[strings.ToLower(text)] {
		return "generic link text", true
	}

	return "", false
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func pathSegments(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

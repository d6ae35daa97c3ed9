package enrich

import (
	"bufio"
	"context"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// WHOIS is the oldest protocol in this codebase: one TCP/43 connection,
// write the domain, read text until EOF. The answers are free-form per
// registry, so the parsing below is pattern matching over the common field
// spellings, not a grammar.

const (
	whoisPort    = "43"
	whoisTimeout = 15 * time.Second
	// whoisMaxResponse caps how much registry text we read; real answers
	// are a few KB.
	whoisMaxResponse = 64 * 1024
)

// whoisServers maps TLDs to their authoritative WHOIS servers. Unlisted TLDs
// start at IANA, whose answer carries a refer line we follow once.
var whoisServers = map[string]string{
	"com":  "whois.verisign-grs.com",
	"net":  "whois.verisign-grs.com",
	"org":  "whois.publicinterestregistry.org",
	"io":   "whois.nic.io",
	"dev":  "whois.nic.google",
	"app":  "whois.nic.google",
	"co":   "whois.nic.co",
	"me":   "whois.nic.me",
	"info": "whois.nic.info",
	"biz":  "whois.nic.biz",
	"uk":   "whois.nic.uk",
	"de":   "whois.denic.de",
	"fr":   "whois.nic.fr",
	"nl":   "whois.domain-registry.nl",
	"eu":   "whois.eu",
}

const whoisDefaultServer = "whois.iana.org"

var (
	whoisCreatedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*creation date:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*created(?: on)?:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*registered(?: on)?:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*domain registration date:\s*(.+)$`),
	}
	whoisExpiryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*registry expiry date:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*expir(?:y|ation) date:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*expires(?: on)?:\s*(.+)$`),
		regexp.MustCompile(`(?im)^\s*renewal date:\s*(.+)$`),
	}
	whoisRegistrarPattern = regexp.MustCompile(`(?im)^\s*registrar:\s*(.+)$`)
	whoisReferPattern     = regexp.MustCompile(`(?im)^\s*refer:\s*(\S+)$`)
)

// whoisDateLayouts are the date spellings seen across registries, tried in
// order.
var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"02.01.2006",
	"2006/01/02",
}

// enrichWhois queries the registry for creation/expiry dates and the
// registrar name. Only called for main domains; the repository copies the
// parent's fields for subdomains.
func (e *Enricher) enrichWhois(ctx context.Context, name string, rec *crawler.Domain, log *zap.Logger) {
	body, err := e.whoisQuery(ctx, name, whoisServerFor(name))
	if err != nil {
		log.Debug("whois query failed", zap.Error(err))
		return
	}

	// IANA and some thin registries answer with a referral instead of
	// registration data; follow it one hop.
	if m := whoisReferPattern.FindStringSubmatch(body); m != nil {
		referred, err := e.whoisQuery(ctx, name, m[1])
		if err != nil {
			log.Debug("whois referral failed", zap.String("server", m[1]), zap.Error(err))
		} else {
			body = referred
		}
	}

	if t, ok := firstWhoisDate(body, whoisCreatedPatterns); ok {
		rec.CreatedDate = crawler.TimePtr(t)
	}
	if t, ok := firstWhoisDate(body, whoisExpiryPatterns); ok {
		rec.ExpiryDate = crawler.TimePtr(t)
	}
	if m := whoisRegistrarPattern.FindStringSubmatch(body); m != nil {
		rec.Registrar = crawler.StringPtr(strings.TrimSpace(m[1]))
	}
}

func whoisServerFor(name string) string {
	labels := strings.Split(name, ".")
	tld := labels[len(labels)-1]
	if server, ok := whoisServers[tld]; ok {
		return server
	}
	return whoisDefaultServer
}

// whoisQuery runs one protocol round: connect, send the domain, drain the
// answer. The connection deadline covers both directions.
func (e *Enricher) whoisQuery(ctx context.Context, name, server string) (string, error) {
	dial := e.WhoisDial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	ctx, cancel := context.WithTimeout(ctx, whoisTimeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", net.JoinHostPort(server, whoisPort))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(name + "\r\n")); err != nil {
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(bufio.NewReader(conn), whoisMaxResponse))
	if err != nil && len(body) == 0 {
		return "", err
	}
	return string(body), nil
}

func firstWhoisDate(body string, patterns []*regexp.Regexp) (time.Time, bool) {
	for _, pattern := range patterns {
		m := pattern.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		if t, ok := parseWhoisDate(m[1]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseWhoisDate tries the known layouts against the raw field value,
// trimming trailing commentary like "(YYYY-MM-DD)" suffixes first.
func parseWhoisDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '('); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

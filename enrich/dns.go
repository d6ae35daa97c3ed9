package enrich

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

const dnsTimeout = 10 * time.Second

// maxNameserversLen keeps the joined nameserver list inside a sane bound;
// some registrars list a dozen or more.
const maxNameserversLen = 500

// enrichDNS resolves the domain's A/AAAA and NS records into the record and
// returns the chosen IP (IPv4 preferred) for the IP-derived sources.
// NXDOMAIN and timeouts leave the fields nil.
func (e *Enricher) enrichDNS(ctx context.Context, name string, rec *crawler.Domain, log *zap.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ip := ""
	addrs, err := e.Resolver.LookupIP(ctx, "ip", name)
	if err != nil {
		log.Debug("ip lookup failed", zap.Error(err))
	} else if len(addrs) > 0 {
		ip = addrs[0].String()
		for _, addr := range addrs {
			if v4 := addr.To4(); v4 != nil {
				ip = v4.String()
				break
			}
		}
		rec.IPAddress = crawler.StringPtr(ip)
	}

	nss, err := e.Resolver.LookupNS(ctx, name)
	if err != nil {
		log.Debug("ns lookup failed", zap.Error(err))
	} else if len(nss) > 0 {
		hosts := make([]string, 0, len(nss))
		for _, ns := range nss {
			hosts = append(hosts, strings.TrimSuffix(strings.ToLower(ns.Host), "."))
		}
		sort.Strings(hosts)
		joined := strings.Join(hosts, ", ")
		if len(joined) > maxNameserversLen {
			joined = joined[:maxNameserversLen]
		}
		rec.Nameservers = crawler.StringPtr(joined)
	}

	return ip
}

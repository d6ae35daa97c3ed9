/*
Package enrich collects network-level metadata about a domain: WHOIS
registration data, DNS records, the ASN behind the resolved IP, TLS
certificate validity, and geolocation.

Every source is optional and independently fallible. A WHOIS server that
hangs up or a missing MaxMind database costs that source's fields and a
debug log line, nothing more; the crawl never stalls on enrichment.
*/
package enrich

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// Enricher implements crawler.Enricher. Build one per worker with New; the
// MaxMind reader inside is safe to share but the struct is cheap enough not
// to bother.
type Enricher struct {
	// HTTPClient serves the ipinfo.io lookups. Tests replace it with a
	// client around a fake round tripper. Defaults to a 10s-timeout client.
	HTTPClient *http.Client

	// Resolver performs the DNS lookups. Defaults to net.DefaultResolver.
	Resolver *net.Resolver

	// WhoisDial overrides the TCP dialer for WHOIS queries in tests.
	WhoisDial func(ctx context.Context, network, addr string) (net.Conn, error)

	logger *zap.Logger

	collectWhois   bool
	collectTLS     bool
	collectGeo     bool
	ipinfoFallback bool
	ipinfoToken    string

	geoDB *geoip2.Reader
}

// New builds an enricher from the current config. A configured but missing
// MaxMind database logs a warning and disables the local geo source; the
// ipinfo fallback may still cover it.
func New(logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		HTTPClient:     &http.Client{Timeout: 10 * time.Second},
		Resolver:       net.DefaultResolver,
		logger:         logger,
		collectWhois:   crawler.Config.Enrich.Whois,
		collectTLS:     crawler.Config.Enrich.SSL,
		collectGeo:     crawler.Config.Enrich.Geolocation,
		ipinfoFallback: crawler.Config.Enrich.IPInfoFallback,
		ipinfoToken:    crawler.Config.Enrich.IPInfoToken,
	}
	if e.collectGeo {
		path := crawler.Config.Enrich.MaxmindDBPath
		if _, err := os.Stat(path); err == nil {
			db, err := geoip2.Open(path)
			if err != nil {
				logger.Warn("failed to open maxmind database", zap.String("path", path), zap.Error(err))
			} else {
				e.geoDB = db
			}
		} else {
			logger.Warn("maxmind database not found, geolocation limited to fallback",
				zap.String("path", path))
		}
	}
	return e
}

// Close releases the MaxMind reader.
func (e *Enricher) Close() error {
	if e.geoDB != nil {
		return e.geoDB.Close()
	}
	return nil
}

// Enrich collects whatever metadata the enabled sources can produce for the
// named domain and returns it as a partial record. isMain gates WHOIS:
// registrars only answer for registered domains, and subdomains inherit the
// parent's WHOIS rows at the repository layer instead.
//
// The returned record is never nil and the error is always nil today; the
// signature keeps the error so implementations with fatal setup states can
// report them.
func (e *Enricher) Enrich(ctx context.Context, name string, isMain bool) (*crawler.Domain, error) {
	rec := &crawler.Domain{Name: name}
	log := e.logger.With(zap.String("domain", name))

	ip := e.enrichDNS(ctx, name, rec, log)

	if e.collectWhois && isMain {
		e.enrichWhois(ctx, name, rec, log)
	}
	if e.collectTLS {
		e.enrichTLS(ctx, name, rec, log)
	}
	if ip != "" {
		e.enrichNetwork(ctx, ip, rec, log)
	}
	return rec, nil
}

// enrichNetwork fills the IP-derived fields: ASN from ipinfo, location from
// MaxMind with the ipinfo fallback. The ipinfo response is fetched at most
// once and shared between the two uses.
func (e *Enricher) enrichNetwork(ctx context.Context, ip string, rec *crawler.Domain, log *zap.Logger) {
	var info *ipinfoResponse

	lookup := func() *ipinfoResponse {
		if info != nil {
			return info
		}
		var err error
		info, err = e.ipinfo(ctx, ip)
		if err != nil {
			log.Debug("ipinfo lookup failed", zap.String("ip", ip), zap.Error(err))
			info = &ipinfoResponse{}
		}
		return info
	}

	if asn, desc := parseASNOrg(lookup().Org); asn != "" {
		rec.ASN = crawler.StringPtr(asn)
		rec.ASNDescription = crawler.StringPtr(desc)
	}

	if !e.collectGeo {
		return
	}
	if e.lookupGeoDB(ip, rec, log) {
		return
	}
	if e.ipinfoFallback {
		applyIPInfoGeo(lookup(), rec)
	}
}

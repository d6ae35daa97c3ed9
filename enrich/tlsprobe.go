package enrich

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

const tlsProbeTimeout = 10 * time.Second

// enrichTLS opens one TLS connection to port 443 with SNI set to the domain
// and records whether the handshake produced a verifiable certificate, plus
// the leaf's expiry. Any failure, from a refused connection to a bad chain,
// records ssl_valid = false; an unreachable HTTPS port is a finding, not an
// error.
func (e *Enricher) enrichTLS(ctx context.Context, name string, rec *crawler.Domain, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, tlsProbeTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{ServerName: name},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(name, "443"))
	if err != nil {
		log.Debug("tls probe failed", zap.Error(err))
		rec.SSLValid = crawler.BoolPtr(false)
		return
	}
	defer conn.Close()

	rec.SSLValid = crawler.BoolPtr(true)
	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) > 0 {
		rec.SSLExpiry = crawler.TimePtr(state.PeerCertificates[0].NotAfter)
	}
}

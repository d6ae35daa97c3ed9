package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Rabenherz112/map-the-net-crawler/dnscache"
)

// FetchErrorKind partitions fetch failures into the classes the collector
// treats differently when turning them into queue outcomes.
type FetchErrorKind int

const (
	// KindConnect covers DNS failures, refused connections and other
	// transport-level errors.
	KindConnect FetchErrorKind = iota
	// KindTimeout covers deadline and network timeouts.
	KindTimeout
	// KindTLS covers certificate and handshake failures.
	KindTLS
	// KindTooLarge means the server advertised a body over the size cap.
	KindTooLarge
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindTLS:
		return "tls"
	case KindTooLarge:
		return "too large"
	case KindHTTP:
		return "http"
	}
	return "unknown"
}

// FetchError is the typed error returned by Fetcher methods.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("fetch %v: http status %v", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %v: %v: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchResult is a successful GET: a 2xx status and a body capped at the
// configured maximum size.
type FetchResult struct {
	StatusCode  int
	FinalURL    *URL
	Body        []byte
	ContentType string
}

// HeadResult is the outcome of a HEAD probe.
type HeadResult struct {
	StatusCode int
	Location   string
	FinalURL   *URL
}

// Fetcher is the crawler's HTTP client. One instance is shared by all
// workers of a process; the underlying http.Client pools connections and
// the dnscache dialer deduplicates lookups across workers.
type Fetcher struct {
	// Transport replaces the default dnscache-backed transport when set
	// before first use. Tests install fake round trippers here.
	Transport http.RoundTripper

	agent        string
	accept       string
	maxBody      int64
	timeout      time.Duration
	maxRedirects int

	once       sync.Once
	client     *http.Client
	headClient *http.Client
}

// NewFetcher builds a fetcher from the current Config. The HTTP clients are
// constructed lazily on first use so tests can swap Transport in between.
func NewFetcher() *Fetcher {
	return &Fetcher{
		agent:        Config.Crawler.UserAgent,
		accept:       "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		maxBody:      Config.Crawler.MaxHTTPContentSizeBytes,
		timeout:      Duration(Config.Crawler.CollectionTimeout, 30*time.Second),
		maxRedirects: Config.Crawler.MaxRedirects,
	}
}

func (f *Fetcher) init() {
	f.once.Do(func() {
		transport := f.Transport
		if transport == nil {
			dial, err := dnscache.Dial(nil, Config.Crawler.MaxDNSCacheEntries)
			if err != nil {
				var d net.Dialer
				dial = d.DialContext
			}
			transport = &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dial,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			}
		}
		f.client = &http.Client{
			Transport: transport,
			Timeout:   f.timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= f.maxRedirects {
					return fmt.Errorf("stopped after %v redirects", f.maxRedirects)
				}
				return nil
			},
		}
		f.headClient = &http.Client{
			Transport: transport,
			Timeout:   f.timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	})
}

// Get fetches the URL, following redirects, and returns the final URL and
// the response body. Bodies longer than the configured cap are rejected
// when the server advertises their size and truncated when it does not.
func (f *Fetcher) Get(ctx context.Context, u *URL) (*FetchResult, error) {
	f.init()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindConnect, URL: u.String(), Err: err}
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.wrapErr(u.String(), err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.maxBody {
		return nil, &FetchError{
			Kind: KindTooLarge,
			URL:  u.String(),
			Err:  fmt.Errorf("content length %v exceeds limit %v", resp.ContentLength, f.maxBody),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Kind:       KindHTTP,
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("http status %v", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, f.wrapErr(u.String(), err)
	}
	return &FetchResult{
		StatusCode:  resp.StatusCode,
		FinalURL:    &URL{URL: resp.Request.URL},
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Head issues a HEAD request. With followRedirects false the client stops at
// the first response, exposing its status and Location header; with true it
// follows the chain and FinalURL is where it landed.
func (f *Fetcher) Head(ctx context.Context, u *URL, followRedirects bool) (*HeadResult, error) {
	f.init()
	client := f.headClient
	if followRedirects {
		client = f.client
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindConnect, URL: u.String(), Err: err}
	}
	f.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, f.wrapErr(u.String(), err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	return &HeadResult{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
		FinalURL:   &URL{URL: resp.Request.URL},
	}, nil
}

func (f *Fetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", f.accept)
}

func (f *Fetcher) wrapErr(rawurl string, err error) *FetchError {
	kind := KindConnect
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &nerr) && nerr.Timeout():
		kind = KindTimeout
	case isTLSError(err):
		kind = KindTLS
	}
	return &FetchError{Kind: kind, URL: rawurl, Err: err}
}

func isTLSError(err error) bool {
	var hostnameErr x509.HostnameError
	var unknownAuthority x509.UnknownAuthorityError
	var certInvalid x509.CertificateInvalidError
	var recordHeader tls.RecordHeaderError
	return errors.As(err, &hostnameErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &recordHeader)
}

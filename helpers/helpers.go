/*
Package helpers holds shared test fixtures: config loading relative to this
directory, canned HTTP responses, fake transports, and in-memory and mock
store implementations.
*/
package helpers

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"runtime"
	"strings"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// LoadTestConfig loads the given test config yaml file. The given path is
// assumed to be relative to the `helpers/` directory, the location of this
// file. This will panic if it cannot read the requested config file. If you
// expect an error or are testing crawler.ReadConfigFile, use
// `GetTestFileDir()` instead.
func LoadTestConfig(filename string) {
	testdir := GetTestFileDir()
	err := crawler.ReadConfigFile(path.Join(testdir, filename))
	if err != nil {
		panic(err.Error())
	}
}

// GetTestFileDir returns the directory where shared test files are stored,
// for example test config files. It will panic if it could not get the path
// from the runtime.
func GetTestFileDir() string {
	_, p, _, ok := runtime.Caller(0)
	if !ok {
		panic("Failed to get location of test source file")
	}
	return path.Dir(p)
}

// Parse is a helper to just get a crawler.URL object from a string we know
// is a safe url (ParseURL requires us to deal with potential errors).
func Parse(ref string) *crawler.URL {
	u, err := crawler.ParseURL(ref)
	if err != nil {
		panic("Failed to parse crawler.URL: " + ref)
	}
	return u
}

// Response404 creates a canned 404 response.
func Response404() *http.Response {
	return &http.Response{
		Status:        "404",
		StatusCode:    404,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Content-Type": []string{"text/html"}},
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: -1,
	}
}

// Response301 creates a canned 301 response redirecting to link.
func Response301(link string) *http.Response {
	return &http.Response{
		Status:        "301",
		StatusCode:    301,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Location": []string{link}, "Content-Type": []string{"text/html"}},
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: -1,
	}
}

// Response307 creates a canned 307 response redirecting to link.
func Response307(link string) *http.Response {
	return &http.Response{
		Status:        "307",
		StatusCode:    307,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Location": []string{link}, "Content-Type": []string{"text/html"}},
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: -1,
	}
}

// Response200 creates a canned 200 response whose body is the given HTML.
func Response200(html string) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    200,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Content-Type": []string{"text/html"}},
		Body:          io.NopCloser(strings.NewReader(html)),
		ContentLength: -1,
	}
}

// ResponseText creates a canned 200 response with a text/plain body, which
// is what robots.txt fixtures want.
func ResponseText(body string) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    200,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: -1,
	}
}

// Page builds a minimal HTML page with the given title and anchor tags.
// Each link is an (href, text) pair.
func Page(title string, links ...[2]string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body>")
	for _, link := range links {
		fmt.Fprintf(&b, `<a href="%v">%v</a>`, link[0], link[1])
	}
	b.WriteString("</body></html>")
	return b.String()
}

// MapRoundTrip maps request URLs to http.Response objects. Requests for
// unmapped URLs get a 404. Because canned response bodies are one-shot
// readers, each MapRoundTrip should serve each URL at most once per test
// unless the test rebuilds the map.
type MapRoundTrip struct {
	Responses map[string]*http.Response
	// Requests records every URL fetched, in order.
	Requests []string
}

// RoundTrip implements the http.RoundTripper interface.
func (mrt *MapRoundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	mrt.Requests = append(mrt.Requests, req.URL.String())
	res, resOk := mrt.Responses[req.URL.String()]
	if !resOk {
		res = Response404()
		res.Request = req
		return res, nil
	}
	// The response carries the request so the client can expose the final
	// URL after redirects, the way a real transport does.
	res.Request = req
	return res, nil
}

// ErrorRoundTrip fails every request with a fixed error, for exercising the
// fetch-failure paths.
type ErrorRoundTrip struct {
	Err error
}

// RoundTrip implements the http.RoundTripper interface.
func (ert *ErrorRoundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return nil, ert.Err
}

package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFilter(t *testing.T, extra ...string) *LinkFilter {
	t.Helper()
	f, err := NewLinkFilter(extra)
	require.NoError(t, err)
	return f
}

func TestRejectReasons(t *testing.T) {
	f := testFilter(t)
	tests := []struct {
		url    string
		text   string
		reason string
	}{
		{"ftp://example.com/file", "x", "scheme"},
		{"http://nodots/x", "x", "invalid domain"},
		{"http://example.com/report.pdf", "x", "blocked extension"},
		{"http://example.com/IMAGE.JPG", "x", "blocked extension"},
		{"http://example.com/login", "x", "excluded pattern"},
		{"http://example.com/wp-admin/options", "x", "excluded pattern"},
		{"http://author.blogspot.com/", "x", "excluded host"},
		{"http://someuser.github.io/project", "Project page", "excluded host"},
		{"http://example.com/x?utm_source=feed", "x", "tracking param"},
		{"http://example.com/x?gclid=123", "x", "tracking param"},
		{"http://example.com/assets/logo", "x", "blocked path root"},
		{"http://example.com/good", "click here", "generic link text"},
		{"http://example.com/good", "Read More", "generic link text"},
		{"http://example.com/good", "Continue", "generic link text"},
		{"http://example.com/good", "next", "generic link text"},
		{"http://example.com/good", "Previous", "generic link text"},
		{"https://example.com/", "", "link text too short"},
		{"https://example.com/", "x", "link text too short"},
		{"https://example.com/", " a ", "link text too short"},
		{"http://example.com/good-page", "A fine link", ""},
		{"http://itch.io/games", "Featured games", ""},
	}
	for _, tt := range tests {
		reason, rejected := f.Reject(MustParseURL(tt.url), tt.text)
		if tt.reason == "" {
			assert.False(t, rejected, "%v should pass, got %q", tt.url, reason)
		} else {
			assert.True(t, rejected, tt.url)
			assert.Equal(t, tt.reason, reason, tt.url)
		}
	}
}

func TestRejectStructuralLimits(t *testing.T) {
	f := testFilter(t)

	long := "http://example.com/" + strings.Repeat("a", 500)
	_, rejected := f.Reject(MustParseURL(long), "x")
	assert.True(t, rejected, "overlong url")

	deep := "http://example.com/" + strings.Repeat("s/", 9)
	reason, rejected := f.Reject(MustParseURL(deep), "x")
	assert.True(t, rejected)
	assert.Equal(t, "too many path segments", reason)

	query := "http://example.com/x?a=1&b=2&c=3&d=4&e=5&f=6&g=7&h=8&i=9&j=10&k=11"
	reason, rejected = f.Reject(MustParseURL(query), "x")
	assert.True(t, rejected)
	assert.Equal(t, "too many query params", reason)
}

func TestExtraPatterns(t *testing.T) {
	f := testFilter(t, `/internal-wiki/`)
	_, rejected := f.Reject(MustParseURL("http://example.com/internal-wiki/page"), "x")
	assert.True(t, rejected)
	_, rejected = f.Reject(MustParseURL("http://example.com/wiki/home"), "Wiki home")
	assert.False(t, rejected)
}

func TestNewLinkFilterBadPattern(t *testing.T) {
	_, err := NewLinkFilter([]string{"("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclude_link_patterns")
}

func TestShouldFollow(t *testing.T) {
	f := testFilter(t)
	assert.True(t, f.ShouldFollow(MustParseURL("http://example.com/article"), "An article"))
	assert.False(t, f.ShouldFollow(MustParseURL("http://example.com/cart"), "An article"))
}

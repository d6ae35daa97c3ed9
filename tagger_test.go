package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeDomain(t *testing.T) {
	tests := []struct {
		title, description, domain string
		want                       string
	}{
		{"Acme Software Tools", "", "acme.com", "technology"},
		{"", "daily press coverage", "somewhere.org", "news"},
		{"", "", "fun-game-reviews.com", "entertainment"},
		{"Plain page", "nothing notable", "abcxyz.net", ""},
		// First matching rule wins when several buckets have hits.
		{"Tech news aggregator", "", "x.com", "technology"},
	}
	for _, tt := range tests {
		got := CategorizeDomain(tt.title, tt.description, tt.domain)
		assert.Equal(t, tt.want, got, "%q / %q / %q", tt.title, tt.description, tt.domain)
	}
}

func decodeTags(t *testing.T, raw string) []string {
	t.Helper()
	var tags []string
	require.NoError(t, json.Unmarshal([]byte(raw), &tags))
	return tags
}

func TestExtractTags(t *testing.T) {
	raw := ExtractTags("Go, Databases , go", "acme-tools.example.com")
	tags := decodeTags(t, raw)
	assert.Equal(t, []string{"go", "databases", "acme", "tools", "example"}, tags)
}

func TestExtractTagsSkipsStopwordsAndShortTokens(t *testing.T) {
	raw := ExtractTags("", "www.shop-online.info")
	tags := decodeTags(t, raw)
	assert.Equal(t, []string{"shop"}, tags)
}

func TestExtractTagsCap(t *testing.T) {
	raw := ExtractTags("t1,t2,t3,t4,t5,t6,t7,t8,t9,t10,t11,t12", "example.com")
	tags := decodeTags(t, raw)
	assert.Len(t, tags, maxTags)
}

func TestExtractTagsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractTags("", "a.co"))
	assert.Equal(t, "", ExtractTags(" , ,", "www.com"))
}

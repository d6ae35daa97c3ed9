package crawler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigFile = "helpers/test-crawler.yaml"

// resetConfig restores the shared config after a test that mutated it.
func resetConfig(t *testing.T) {
	t.Cleanup(func() {
		ConfigName = "crawler.yaml"
		SetDefaultConfig()
		PostConfigHooks()
	})
}

func TestDefaultConfig(t *testing.T) {
	resetConfig(t)
	SetDefaultConfig()

	assert.Equal(t, "localhost", Config.Database.Host)
	assert.Equal(t, 3306, Config.Database.Port)
	assert.Equal(t, "domain_network", Config.Database.Name)
	assert.Equal(t, "WorldMapper/1.0 (compatible)", Config.Crawler.UserAgent)
	assert.Equal(t, 3, Config.Crawler.MaxDepth)
	assert.Equal(t, 50, Config.Crawler.MaxLinksPerPage)
	assert.Equal(t, 10, Config.Crawler.MaxURLsPerDomain)
	assert.Equal(t, 4, Config.Crawler.Workers)
	assert.True(t, Config.Crawler.RespectRobots)
	assert.Equal(t, 3000, Config.Console.Port)
	assert.Equal(t, "info", Config.Logging.Level)
}

func TestReadConfigFile(t *testing.T) {
	resetConfig(t)
	require.NoError(t, ReadConfigFile(testConfigFile))

	assert.Equal(t, "domain_network_test", Config.Database.Name)
	assert.Equal(t, "test-agent", Config.Crawler.AgentName)
	assert.Equal(t, 5, Config.Crawler.MaxURLsPerDomain)
	assert.True(t, Config.Logging.Development)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "30s", Config.Crawler.MaxCrawlDelay)
}

func TestReadConfigFileMissing(t *testing.T) {
	resetConfig(t)
	err := ReadConfigFile("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestLoadConfigOptionalDefault(t *testing.T) {
	resetConfig(t)
	ConfigName = "crawler.yaml"
	// No crawler.yaml in the test working directory; defaults apply and
	// that is not an error.
	require.NoError(t, LoadConfig(""))
	assert.Equal(t, "domain_network", Config.Database.Name)

	// An explicitly named missing file is an error.
	assert.Error(t, LoadConfig("also-missing.yaml"))
}

func TestEnvOverrides(t *testing.T) {
	resetConfig(t)
	t.Setenv("MAX_DEPTH", "7")
	t.Setenv("REQUEST_DELAY", "2")
	t.Setenv("COLLECTION_TIMEOUT", "1.5s")
	t.Setenv("DATA_COLLECT_WHOIS", "off")
	t.Setenv("DB_PORT", "3307")

	require.NoError(t, ReadConfigFile(testConfigFile))

	assert.Equal(t, 7, Config.Crawler.MaxDepth)
	// Bare numbers mean seconds, full duration strings pass through.
	assert.Equal(t, "2s", Config.Crawler.RequestDelay)
	assert.Equal(t, "1.5s", Config.Crawler.CollectionTimeout)
	assert.False(t, Config.Enrich.Whois)
	assert.Equal(t, 3307, Config.Database.Port)
}

func TestConfigInvariants(t *testing.T) {
	resetConfig(t)
	tests := []struct {
		name    string
		yaml    string
		errPart string
	}{
		{"zero workers", "crawler:\n  workers: 0\n", "Workers"},
		{"zero batch", "crawler:\n  batch_size: 0\n", "BatchSize"},
		{"negative depth", "crawler:\n  max_depth: -1\n", "MaxDepth"},
		{"bad duration", "crawler:\n  request_delay: sometimes\n", "RequestDelay"},
		{"delay above cap", "crawler:\n  request_delay: 2m\n  max_crawl_delay: 1m\n", "MaxCrawlDelay"},
		{"bad log level", "logging:\n  level: chatty\n", "Logging.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			err := ReadConfigFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestPostConfigHooksRebuildLinkFilter(t *testing.T) {
	resetConfig(t)
	require.NoError(t, ReadConfigFile(testConfigFile))
	u := MustParseURL("http://ok.com/very-special-page")
	assert.True(t, DefaultLinkFilter().ShouldFollow(u, "x"))

	Config.Crawler.ExcludeLinkPatterns = []string{"very-special"}
	PostConfigHooks()
	assert.False(t, DefaultLinkFilter().ShouldFollow(u, "x"))
}

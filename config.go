package crawler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

// Config is the configuration instance the rest of the crawler should access
// for global configuration values. See CrawlerConfig for available config
// members.
var Config CrawlerConfig

// ConfigName is the path (can be relative or absolute) to the config file
// that should be read.
var ConfigName = "crawler.yaml"

func init() {
	SetDefaultConfig()
	PostConfigHooks()
}

// CrawlerConfig defines the available global configuration parameters. Values
// come from three layers applied in order: compiled-in defaults, the yaml
// config file (crawler.yaml by default), and environment variables.
type CrawlerConfig struct {
	Database struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		User            string `yaml:"user"`
		Password        string `yaml:"password"`
		Name            string `yaml:"name"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		QueryRetries    int    `yaml:"query_retries"`
	} `yaml:"database"`

	Crawler struct {
		UserAgent               string   `yaml:"user_agent"`
		AgentName               string   `yaml:"agent_name"`
		MaxDepth                int      `yaml:"max_depth"`
		MaxLinksPerPage         int      `yaml:"max_links_per_page"`
		MaxURLsPerDomain        int      `yaml:"max_urls_per_domain"`
		RequestDelay            string   `yaml:"request_delay"`
		MaxCrawlDelay           string   `yaml:"max_crawl_delay"`
		CollectionTimeout       string   `yaml:"collection_timeout"`
		QueueWait               string   `yaml:"queue_wait"`
		ItemTimeout             string   `yaml:"item_timeout"`
		StuckThreshold          string   `yaml:"stuck_threshold"`
		RespectRobots           bool     `yaml:"respect_robots"`
		Workers                 int      `yaml:"workers"`
		BatchSize               int      `yaml:"batch_size"`
		MaxItems                int      `yaml:"max_items"`
		MaxDNSCacheEntries      int      `yaml:"max_dns_cache_entries"`
		MaxHTTPContentSizeBytes int64    `yaml:"max_http_content_size_bytes"`
		MaxRedirects            int      `yaml:"max_redirects"`
		ExcludeLinkPatterns     []string `yaml:"exclude_link_patterns"`
	} `yaml:"crawler"`

	Enrich struct {
		Whois          bool   `yaml:"whois"`
		SSL            bool   `yaml:"ssl"`
		Geolocation    bool   `yaml:"geolocation"`
		Screenshots    bool   `yaml:"screenshots"`
		MaxmindDBPath  string `yaml:"maxmind_db_path"`
		IPInfoFallback bool   `yaml:"ipinfo_fallback"`
		IPInfoToken    string `yaml:"ipinfo_token"`
	} `yaml:"enrich"`

	Console struct {
		Port int `yaml:"port"`
	} `yaml:"console"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

// SetDefaultConfig resets the Config object to default values, regardless of
// what was set by any configuration file or environment variable.
func SetDefaultConfig() {
	Config.Database.Host = "localhost"
	Config.Database.Port = 3306
	Config.Database.User = "root"
	Config.Database.Password = ""
	Config.Database.Name = "domain_network"
	Config.Database.MaxOpenConns = 4
	Config.Database.MaxIdleConns = 2
	Config.Database.ConnMaxLifetime = "30m"
	Config.Database.QueryRetries = 3

	Config.Crawler.UserAgent = "WorldMapper/1.0 (compatible)"
	Config.Crawler.AgentName = ""
	Config.Crawler.MaxDepth = 3
	Config.Crawler.MaxLinksPerPage = 50
	Config.Crawler.MaxURLsPerDomain = 10
	Config.Crawler.RequestDelay = "1s"
	Config.Crawler.MaxCrawlDelay = "30s"
	Config.Crawler.CollectionTimeout = "30s"
	Config.Crawler.QueueWait = "30s"
	Config.Crawler.ItemTimeout = "5m"
	Config.Crawler.StuckThreshold = "5m"
	Config.Crawler.RespectRobots = true
	Config.Crawler.Workers = 4
	Config.Crawler.BatchSize = 10
	Config.Crawler.MaxItems = 50
	Config.Crawler.MaxDNSCacheEntries = 20000
	Config.Crawler.MaxHTTPContentSizeBytes = 2 * 1024 * 1024 // 2MB
	Config.Crawler.MaxRedirects = 10
	Config.Crawler.ExcludeLinkPatterns = nil

	Config.Enrich.Whois = true
	Config.Enrich.SSL = true
	Config.Enrich.Geolocation = true
	Config.Enrich.Screenshots = false
	Config.Enrich.MaxmindDBPath = "./GeoLite2-City.mmdb"
	Config.Enrich.IPInfoFallback = false
	Config.Enrich.IPInfoToken = ""

	Config.Console.Port = 3000

	Config.Logging.Level = "info"
	Config.Logging.Development = false
}

// ReadConfigFile sets a new path to find the crawler yaml config file and
// forces a reload of the config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig(false)
}

// MustReadConfigFile calls ReadConfigFile and panics on error.
func MustReadConfigFile(path string) {
	err := ReadConfigFile(path)
	if err != nil {
		panic(err.Error())
	}
}

// LoadConfig is what commands call at startup. With an empty path it tries
// the default ConfigName but treats a missing file as fine (defaults plus
// environment variables apply); with a non-empty path a missing file is an
// error.
func LoadConfig(path string) error {
	if path != "" {
		ConfigName = path
		return readConfig(false)
	}
	return readConfig(true)
}

func readConfig(optional bool) error {
	SetDefaultConfig()

	data, err := os.ReadFile(ConfigName)
	if err != nil {
		if !optional || !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file (%v): %v", ConfigName, err)
		}
	} else {
		err = yaml.Unmarshal(data, &Config)
		if err != nil {
			return fmt.Errorf("failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
		}
	}

	applyEnvOverrides()

	err = assertConfigInvariants()
	if err != nil {
		return err
	}

	PostConfigHooks()
	return nil
}

// applyEnvOverrides layers environment variables over whatever the defaults
// and the config file produced. The variable names are the ones the original
// deployment scripts export, so existing .env files keep working.
func applyEnvOverrides() {
	db := &Config.Database
	envString("DB_HOST", &db.Host)
	envInt("DB_PORT", &db.Port)
	envString("DB_USER", &db.User)
	envString("DB_PASSWORD", &db.Password)
	envString("DB_NAME", &db.Name)

	cr := &Config.Crawler
	envString("HTTP_USER_AGENT", &cr.UserAgent)
	envString("INTERNAL_AGENT_NAME", &cr.AgentName)
	envInt("MAX_DEPTH", &cr.MaxDepth)
	envInt("MAX_LINKS_PER_PAGE", &cr.MaxLinksPerPage)
	envInt("MAX_URLS_PER_DOMAIN", &cr.MaxURLsPerDomain)
	envSeconds("REQUEST_DELAY", &cr.RequestDelay)
	envSeconds("COLLECTION_TIMEOUT", &cr.CollectionTimeout)
	envBool("RESPECT_ROBOTS_TXT", &cr.RespectRobots)
	envInt("PARALLEL_WORKERS", &cr.Workers)

	en := &Config.Enrich
	envBool("DATA_COLLECT_WHOIS", &en.Whois)
	envBool("DATA_COLLECT_SSL", &en.SSL)
	envBool("DATA_COLLECT_GEOLOCATION", &en.Geolocation)
	envBool("DATA_COLLECT_SCREENSHOTS", &en.Screenshots)
	envString("MAXMIND_DB_PATH", &en.MaxmindDBPath)
	envBool("DATA_COLLECT_IPINFO_FALLBACK", &en.IPInfoFallback)
	envString("DATA_COLLECT_IPINFO_TOKEN", &en.IPInfoToken)

	envInt("CONSOLE_PORT", &Config.Console.Port)
	envString("LOG_LEVEL", &Config.Logging.Level)
}

func envString(name string, target *string) {
	if v, ok := os.LookupEnv(name); ok {
		*target = v
	}
}

func envInt(name string, target *int) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

func envBool(name string, target *bool) {
	if v, ok := os.LookupEnv(name); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*target = true
		case "0", "false", "no", "off":
			*target = false
		}
	}
}

// envSeconds accepts either a Go duration string ("1.5s") or a bare number of
// seconds ("30"), which is what the original env files contain.
func envSeconds(name string, target *string) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		*target = v + "s"
		return
	}
	if _, err := time.ParseDuration(v); err == nil {
		*target = v
	}
}

func assertConfigInvariants() error {
	var errs []string
	var err error

	db := &Config.Database
	if db.Port < 1 || db.Port > 65535 {
		errs = append(errs, "Database.Port must be between 1 and 65535")
	}
	if db.Name == "" {
		errs = append(errs, "Database.Name must not be empty")
	}
	if db.QueryRetries < 1 {
		errs = append(errs, "Database.QueryRetries must be greater than 0")
	}
	_, err = time.ParseDuration(db.ConnMaxLifetime)
	if err != nil {
		errs = append(errs, fmt.Sprintf("Database.ConnMaxLifetime failed to parse: %v", err))
	}

	cr := &Config.Crawler
	if cr.Workers < 1 {
		errs = append(errs, "Crawler.Workers must be greater than 0")
	}
	if cr.BatchSize < 1 {
		errs = append(errs, "Crawler.BatchSize must be greater than 0")
	}
	if cr.MaxDepth < 0 {
		errs = append(errs, "Crawler.MaxDepth must not be negative")
	}
	if cr.MaxLinksPerPage < 1 {
		errs = append(errs, "Crawler.MaxLinksPerPage must be greater than 0")
	}
	if cr.MaxURLsPerDomain < 1 {
		errs = append(errs, "Crawler.MaxURLsPerDomain must be greater than 0")
	}
	if cr.MaxHTTPContentSizeBytes < 1 {
		errs = append(errs, "Crawler.MaxHTTPContentSizeBytes must be greater than 0")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Crawler.RequestDelay", cr.RequestDelay},
		{"Crawler.MaxCrawlDelay", cr.MaxCrawlDelay},
		{"Crawler.CollectionTimeout", cr.CollectionTimeout},
		{"Crawler.QueueWait", cr.QueueWait},
		{"Crawler.ItemTimeout", cr.ItemTimeout},
		{"Crawler.StuckThreshold", cr.StuckThreshold},
	} {
		_, err = time.ParseDuration(field.value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%v failed to parse: %v", field.name, err))
		}
	}
	delay, derr := time.ParseDuration(cr.RequestDelay)
	maxDelay, merr := time.ParseDuration(cr.MaxCrawlDelay)
	if derr == nil && merr == nil && delay > maxDelay {
		errs = append(errs, "consistency problem: Crawler.RequestDelay > Crawler.MaxCrawlDelay")
	}
	_, err = aggregateRegex(cr.ExcludeLinkPatterns, "exclude_link_patterns")
	if err != nil {
		errs = append(errs, err.Error())
	}

	if Config.Console.Port < 1 || Config.Console.Port > 65535 {
		errs = append(errs, "Console.Port must be between 1 and 65535")
	}

	_, err = zapcore.ParseLevel(Config.Logging.Level)
	if err != nil {
		errs = append(errs, fmt.Sprintf("Logging.Level failed to parse: %v", err))
	}

	if len(errs) > 0 {
		em := ""
		for _, e := range errs {
			em += "\t"
			em += e
			em += "\n"
		}
		return fmt.Errorf("config error:\n%v", em)
	}

	return nil
}

// PostConfigHooks sets up data structures that depend on the config. It is
// always called right after the config is consumed. It is also public so if
// you modify the config in a test, you may need to call this function. This
// function is idempotent; you can call it as many times as you like.
func PostConfigHooks() {
	err := setupLinkFilter()
	if err != nil {
		panic(err)
	}
}

// Duration parses a config duration field that assertConfigInvariants has
// already validated. Unparseable input yields the fallback so callers stay
// total even when tests poke raw values into Config.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// AgentName returns the configured worker identity, defaulting to
// hostname-pid so parallel agents on one box stay distinguishable.
func AgentName() string {
	if Config.Crawler.AgentName != "" {
		return Config.Crawler.AgentName
	}
	host, err := os.Hostname()
	if err != nil {
		host = "agent"
	}
	return fmt.Sprintf("%v-%v", host, os.Getpid())
}

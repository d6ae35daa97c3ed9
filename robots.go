package crawler

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RobotsPolicy is the evaluated robots.txt ruleset for one host, reduced to
// the rules that apply to our user agent.
//
// Evaluation follows the longest-match rule: among all allow and disallow
// rules whose path prefixes the request path, the longest one wins, and on
// equal length allow wins. A `Disallow:` line with an empty value blocks the
// whole host. User-agent lines accumulate into the current agent set, even
// after rules; any directive other than user-agent/allow/disallow clears the
// set, so rules below it apply to nobody until a new user-agent line.
type RobotsPolicy struct {
	allow    []string
	disallow []string
	delay    time.Duration
	allowAll bool
}

var allowAllPolicy = &RobotsPolicy{allowAll: true}

// ParseRobots evaluates a robots.txt body against the given user agent and
// returns the policy of the rules that apply to it.
func ParseRobots(body string, userAgent string) *RobotsPolicy {
	p := &RobotsPolicy{}
	agentLower := strings.ToLower(userAgent)

	var agents []string
	applies := func() bool {
		for _, a := range agents {
			if a == "*" || a == agentLower {
				return true
			}
		}
		return false
	}

	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directive, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			agents = append(agents, strings.ToLower(value))
		case "disallow":
			if !applies() {
				continue
			}
			if value == "" {
				// An empty Disallow blocks the whole host here. That is
				// the original evaluator's reading and the one our
				// operators rely on, not the standard's.
				p.disallow = append(p.disallow, "/")
			} else {
				p.disallow = append(p.disallow, value)
			}
		case "allow":
			if !applies() || value == "" {
				continue
			}
			p.allow = append(p.allow, value)
		case "crawl-delay":
			if applies() {
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
					p.delay = time.Duration(secs * float64(time.Second))
				}
			}
			agents = agents[:0]
		default:
			agents = agents[:0]
		}
	}

	return p
}

// Allowed reports whether the policy permits fetching the given path.
func (p *RobotsPolicy) Allowed(urlPath string) bool {
	if p == nil || p.allowAll {
		return true
	}
	if urlPath == "" {
		urlPath = "/"
	}

	longestAllow := -1
	for _, rule := range p.allow {
		if strings.HasPrefix(urlPath, rule) && len(rule) > longestAllow {
			longestAllow = len(rule)
		}
	}
	longestDisallow := -1
	for _, rule := range p.disallow {
		if strings.HasPrefix(urlPath, rule) && len(rule) > longestDisallow {
			longestDisallow = len(rule)
		}
	}
	return longestDisallow <= longestAllow
}

// CrawlDelay returns the crawl-delay requested for our agent, or zero.
func (p *RobotsPolicy) CrawlDelay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

// RobotsCache fetches and caches one RobotsPolicy per host for the lifetime
// of a worker. It is not safe for concurrent use; every worker owns its own
// cache, which also bounds how stale a policy can get to one worker run.
type RobotsCache struct {
	fetcher  *Fetcher
	agent    string
	respect  bool
	policies map[string]*RobotsPolicy
}

// NewRobotsCache builds a cache around the given fetcher using the
// configured user agent and respect toggle.
func NewRobotsCache(f *Fetcher) *RobotsCache {
	return &RobotsCache{
		fetcher:  f,
		agent:    Config.Crawler.UserAgent,
		respect:  Config.Crawler.RespectRobots,
		policies: make(map[string]*RobotsPolicy),
	}
}

// PolicyFor returns the robots policy governing the given URL's host,
// fetching /robots.txt on first sight of the host. Disabled robots,
// non-200 responses and fetch errors all produce an allow-everything
// policy; a site without a working robots.txt is crawlable.
func (rc *RobotsCache) PolicyFor(ctx context.Context, u *URL) *RobotsPolicy {
	if !rc.respect {
		return allowAllPolicy
	}
	key := u.Scheme + "://" + u.Host
	if policy, ok := rc.policies[key]; ok {
		return policy
	}

	policy := allowAllPolicy
	robotsURL := &URL{URL: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}}
	res, err := rc.fetcher.Get(ctx, robotsURL)
	if err == nil && res.StatusCode == 200 {
		policy = ParseRobots(string(res.Body), rc.agent)
	}
	rc.policies[key] = policy
	return policy
}

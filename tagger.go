package crawler

import (
	"encoding/json"
	"strings"
)

// categoryRules map keyword hits to a coarse category. Order matters: the
// first rule with a hit wins, so the more specific buckets sit above the
// generic ones.
var categoryRules = []struct {
	name     string
	keywords []string
}{
	{"technology", []string{"tech", "software", "programming", "developer", "code", "computer", "digital", "app", "startup"}},
	{"news", []string{"news", "media", "journal", "press", "daily", "times", "herald"}},
	{"ecommerce", []string{"shop", "store", "buy", "market", "retail", "commerce", "cart", "deal"}},
	{"social", []string{"social", "community", "forum", "chat", "network", "connect"}},
	{"education", []string{"school", "university", "college", "learn", "course", "academy", "education"}},
	{"government", []string{"government", "official", "ministry", "federal", "municipal"}},
	{"health", []string{"health", "medical", "doctor", "hospital", "clinic", "pharma"}},
	{"finance", []string{"bank", "finance", "invest", "money", "capital", "insurance"}},
	{"entertainment", []string{"game", "movie", "music", "video", "entertainment", "stream"}},
	{"sports", []string{"sport", "football", "soccer", "basketball", "baseball", "athletic"}},
	{"travel", []string{"travel", "hotel", "flight", "tour", "vacation", "trip"}},
	{"food", []string{"food", "recipe", "restaurant", "cook", "kitchen"}},
}

// CategorizeDomain guesses a coarse category from the page title,
// description and the domain name itself. Returns "" when nothing matches;
// the column stays NULL in that case.
func CategorizeDomain(title, description, domainName string) string {
	haystack := strings.ToLower(title + " " + description + " " + domainName)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.name
			}
		}
	}
	return ""
}

const maxTags = 10

// domainTokenStopwords are domain-name tokens that carry no meaning as tags.
var domainTokenStopwords = map[string]bool{
	"www": true, "com": true, "net": true, "org": true, "info": true,
	"online": true, "site": true, "web": true,
}

// ExtractTags builds the tags column value from the page's meta keywords
// plus informative tokens of the domain name. The result is a JSON array
// string capped at maxTags entries, or "" when there is nothing worth
// tagging.
func ExtractTags(metaKeywords, domainName string) string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if len(tag) < 2 || len(tag) > 30 || seen[tag] || len(tags) >= maxTags {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, kw := range strings.Split(metaKeywords, ",") {
		add(kw)
	}
	for _, token := range strings.FieldsFunc(domainName, func(r rune) bool {
		return r == '.' || r == '-'
	}) {
		if len(token) > 3 && !domainTokenStopwords[strings.ToLower(token)] {
			add(token)
		}
	}

	if len(tags) == 0 {
		return ""
	}
	out, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(out)
}

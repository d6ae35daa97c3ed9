package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ipinfoResponse is the subset of the ipinfo.io JSON answer the enricher
// uses: the org field carries "AS#### Org Name", loc carries "lat,lon".
type ipinfoResponse struct {
	Org     string `json:"org"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// ipinfo fetches the metadata for an IP from ipinfo.io. The configured token
// raises the rate limit; without one the free tier applies.
func (e *Enricher) ipinfo(ctx context.Context, ip string) (*ipinfoResponse, error) {
	url := fmt.Sprintf("https://ipinfo.io/%v/json", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if e.ipinfoToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.ipinfoToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipinfo returned status %v", resp.StatusCode)
	}

	var info ipinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// parseASNOrg splits an ipinfo org string like "AS13335 Cloudflare, Inc."
// into the ASN token and the organization description. Returns empty strings
// when the field does not start with an AS number.
func parseASNOrg(org string) (asn, description string) {
	org = strings.TrimSpace(org)
	if org == "" {
		return "", ""
	}
	token, rest, _ := strings.Cut(org, " ")
	if len(token) < 3 || !strings.HasPrefix(token, "AS") {
		return "", ""
	}
	for _, r := range token[2:] {
		if r < '0' || r > '9' {
			return "", ""
		}
	}
	return token, strings.TrimSpace(rest)
}

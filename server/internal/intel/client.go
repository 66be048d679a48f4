package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cyberpulse/cyberpulse/server/internal/config"
)

// ErrNoAPIKey is returned by Client.Lookup when no API key is configured.
var ErrNoAPIKey = errors.New("intel: no API key configured")

// UnknownCountry is the country code reported when a lookup fails.
const UnknownCountry = "??"

// Reputation is the enrichment attached to a source IP.
type Reputation struct {
	IP        string `json:"ip"`
	Score     int    `json:"score"`
	Country   string `json:"country"`
	RiskLevel string `json:"risk_level"`
}

// Risk levels.
const (
	RiskHigh = "HIGH"
	RiskLow  = "LOW"
)

// RiskLevel classifies a reputation score: HIGH when score is strictly
// greater than threshold, else LOW.
func RiskLevel(score, threshold int) string {
	if score > threshold {
		return RiskHigh
	}
	return RiskLow
}

// Client queries the reputation service.
type Client struct {
	endpoint   string
	apiKey     string
	maxAgeDays int
	http       *http.Client
}

// NewClient builds a Client from the intel configuration.
func NewClient(cfg config.IntelConfig) *Client {
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey(),
		maxAgeDays: cfg.MaxAgeDays,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// checkResponse is the subset of the AbuseIPDB v2 check response we read.
type checkResponse struct {
	Data struct {
		AbuseConfidenceScore *int   `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
	} `json:"data"`
}

// Lookup fetches the reputation of ip. RiskLevel is left empty; the Enricher
// fills it from its threshold.
func (c *Client) Lookup(ctx context.Context, ip string) (Reputation, error) {
	if c.apiKey == "" {
		return Reputation{}, ErrNoAPIKey
	}

	q := url.Values{}
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(c.maxAgeDays))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Reputation{}, fmt.Errorf("intel: build request: %w", err)
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reputation{}, fmt.Errorf("intel: GET %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reputation{}, fmt.Errorf("intel: HTTP %d for %s", resp.StatusCode, ip)
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Reputation{}, fmt.Errorf("intel: decode response: %w", err)
	}

	rep := Reputation{IP: ip, Country: body.Data.CountryCode}
	if body.Data.AbuseConfidenceScore != nil {
		rep.Score = *body.Data.AbuseConfidenceScore
	}
	if rep.Country == "" {
		rep.Country = UnknownCountry
	}
	return rep, nil
}

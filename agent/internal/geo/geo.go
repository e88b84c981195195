package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/pkg/types"
)

const lookupTimeout = 10 * time.Second

// maxBody caps the response size; ipapi answers are well under 2 KiB.
const maxBody = 64 << 10

// Client queries the lookup endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a Client for cfg.Endpoint.
func New(cfg config.GeoConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: lookupTimeout},
	}
}

// response is the subset of the ipapi.co JSON we read.
type response struct {
	Org         string `json:"org"`
	City        string `json:"city"`
	CountryName string `json:"country_name"`
	ASN         string `json:"asn"`

	// ipapi reports quota and input problems in-band with HTTP 200.
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Lookup returns the ISP details of the caller's public IP. Empty fields are
// replaced by types.UnknownISP / types.UnknownLocation.
func (c *Client) Lookup(ctx context.Context) (types.ISPInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return types.UnknownISPInfo, fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "speedscope-agent")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.UnknownISPInfo, fmt.Errorf("geo: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.UnknownISPInfo, fmt.Errorf("geo: unexpected status %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&r); err != nil {
		return types.UnknownISPInfo, fmt.Errorf("geo: decode: %w", err)
	}
	if r.Error {
		return types.UnknownISPInfo, fmt.Errorf("geo: lookup refused: %s", r.Reason)
	}
	return toInfo(r), nil
}

func toInfo(r response) types.ISPInfo {
	info := types.UnknownISPInfo
	if r.Org != "" {
		info.ISP = r.Org
	}
	if r.ASN != "" {
		info.ASN = r.ASN
	}
	city := strings.TrimSpace(r.City)
	country := strings.TrimSpace(r.CountryName)
	switch {
	case city != "" && country != "":
		info.Location = city + ", " + country
	case city != "":
		info.Location = city
	case country != "":
		info.Location = country
	}
	return info
}

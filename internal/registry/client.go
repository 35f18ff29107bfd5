// Package registry does best-effort enrichment of a configured chain's
// pretty name and logo from the public Cosmos Chain Registry, purely
// additive and never blocking startup on failure.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zmazz/govwatcher-cosmos-vultr/config"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
)

// chainRegistryResponse is the subset of chain.json this package reads.
type chainRegistryResponse struct {
	PrettyName string `json:"pretty_name"`
	LogoURIs   struct {
		PNG string `json:"png"`
		SVG string `json:"svg"`
	} `json:"logo_URIs"`
}

// Client fetches and caches chain.json lookups against the public registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	cache      map[string]*config.ChainRegistryInfo
}

// NewClient builds a Client against the upstream cosmos/chain-registry repo.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		baseURL:    "https://raw.githubusercontent.com/cosmos/chain-registry/master",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		cache:      make(map[string]*config.ChainRegistryInfo),
	}
}

// Lookup fetches pretty-name/logo enrichment for chainName, caching results
// for the process lifetime.
func (c *Client) Lookup(ctx context.Context, chainName string) (*config.ChainRegistryInfo, error) {
	if info, ok := c.cache[chainName]; ok {
		return info, nil
	}

	url := fmt.Sprintf("%s/%s/chain.json", c.baseURL, chainName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build chain registry request for %s: %w", chainName, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chain registry entry for %s: %w", chainName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain registry returned status %d for %s", resp.StatusCode, chainName)
	}

	var body chainRegistryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode chain registry entry for %s: %w", chainName, err)
	}

	logoURL := body.LogoURIs.PNG
	if logoURL == "" {
		logoURL = body.LogoURIs.SVG
	}

	info := &config.ChainRegistryInfo{PrettyName: body.PrettyName, LogoURL: logoURL}
	c.cache[chainName] = info
	return info, nil
}

// PopulateChainConfigs enriches every chain in chains that opted into Chain
// Registry lookups; a failure on one chain is logged and skipped, never
// fatal, since this enrichment is cosmetic only.
func (c *Client) PopulateChainConfigs(ctx context.Context, chains []config.ChainConfig) {
	for i := range chains {
		chain := &chains[i]
		if !chain.UsesChainRegistry() {
			continue
		}

		info, err := c.Lookup(ctx, chain.ChainRegistryName)
		if err != nil {
			c.logger.Warn("chain registry lookup failed, continuing without enrichment",
				govlog.Chain(chain.GetChainID()), zap.Error(err))
			continue
		}
		chain.PopulateFromRegistry(info)
	}
}

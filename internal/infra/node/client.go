package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/ratelimit"

	"github.com/vietddude/watcher/internal/core/domain"
)

// Client is the shared node HTTP client (spec §5: "one node HTTP client,
// shared, with a global concurrency cap of 50"). The cap is a buffered
// channel semaphore; pacing on top of it uses go.uber.org/ratelimit, the
// same dependency goodnatureofminers-blockinsight7000-backend's
// pkg/batcher reaches for to pace flushes under load.
type Client struct {
	httpClient *http.Client
	baseURL    string
	network    domain.Network
	limiter    ratelimit.Limiter
	sem        chan struct{}
}

// Config configures the shared node client.
type Config struct {
	BaseURL            string
	Network            domain.Network
	MaxConcurrency     int
	RateLimitPerSecond int
}

// New builds a Client bounded by cfg.MaxConcurrency in-flight requests.
func New(cfg Config) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		network:    cfg.Network,
		limiter:    ratelimit.New(cfg.RateLimitPerSecond),
		sem:        make(chan struct{}, cfg.MaxConcurrency),
	}
}

func (c *Client) acquire(ctx context.Context) error {
	c.limiter.Take()
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

func (c *Client) do(ctx context.Context, method, path string, body []byte, accept string) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	url := c.baseURL + path
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// Cut is the `{hashes: {chainId -> {hash, height}}}` response from
// GET /chainweb/0.0/{network}/cut (spec §6).
type Cut struct {
	Hashes map[string]struct {
		Hash   string `json:"hash"`
		Height uint64 `json:"height"`
	} `json:"hashes"`
}

// GetCut fetches the current multi-chain frontier.
func (c *Client) GetCut(ctx context.Context) (*Cut, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chainweb/0.0/%s/cut", c.network), nil, "application/json")
	if err != nil {
		return nil, err
	}
	var cut Cut
	if err := json.Unmarshal(data, &cut); err != nil {
		return nil, fmt.Errorf("decode cut: %w", err)
	}
	return &cut, nil
}

// TipHeight returns the current height of chainID from the latest cut.
func (c *Client) TipHeight(ctx context.Context, chainID domain.ChainID) (uint64, error) {
	cut, err := c.GetCut(ctx)
	if err != nil {
		return 0, err
	}
	entry, ok := cut.Hashes[strconv.Itoa(int(chainID))]
	if !ok {
		return 0, fmt.Errorf("chain %d missing from cut", chainID)
	}
	return entry.Height, nil
}

// FetchHeaders fetches headers for chainID in [fromHeight, toHeight] via
// GET .../chain/{chainId}/header/branch?minheight=L&maxheight=H, then each
// header's payload via .../payload/{hash}/outputs (spec §6).
func (c *Client) FetchHeaders(ctx context.Context, chainID domain.ChainID, fromHeight, toHeight uint64) ([]Envelope, error) {
	path := fmt.Sprintf("/chainweb/0.0/%s/chain/%d/header/branch?minheight=%d&maxheight=%d",
		c.network, chainID, fromHeight, toHeight)
	data, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch headers: %w", err)
	}

	var headers []Header
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}

	envelopes := make([]Envelope, 0, len(headers))
	for _, h := range headers {
		payload, err := c.fetchPayload(ctx, chainID, h.PayloadHash)
		if err != nil {
			return nil, fmt.Errorf("fetch payload for %s: %w", h.Hash, err)
		}
		envelopes = append(envelopes, Envelope{Header: h, PayloadWithOutputs: *payload})
	}
	return envelopes, nil
}

func (c *Client) fetchPayload(ctx context.Context, chainID domain.ChainID, payloadHash string) (*PayloadWithOutputs, error) {
	path := fmt.Sprintf("/chainweb/0.0/%s/chain/%d/payload/%s/outputs", c.network, chainID, payloadHash)
	data, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return nil, err
	}
	var payload PayloadWithOutputs
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &payload, nil
}

// PactLocal issues POST .../pact/api/v1/local, used by the Guards
// Reconciler to query an account's current guard (spec §4.6, §6).
func (c *Client) PactLocal(ctx context.Context, chainID domain.ChainID, cmd json.RawMessage) (json.RawMessage, error) {
	path := fmt.Sprintf("/chainweb/0.0/%s/chain/%d/pact/api/v1/local", c.network, chainID)
	data, err := c.do(ctx, http.MethodPost, path, cmd, "application/json")
	if err != nil {
		return nil, fmt.Errorf("pact local: %w", err)
	}
	return data, nil
}

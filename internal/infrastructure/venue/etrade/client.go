package etrade

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

const venueName = "etrade"

const defaultHTTPURL = "https://api.etrade.com"

// apiClient E*TRADE REST 客户端，每个请求都带 OAuth 1.0a 签名头
type apiClient struct {
	baseURL string
	signer  *oauthSigner
	hc      *http.Client
	limiter *venue.RateLimiter
}

func newAPIClient(baseURL string, creds venue.Credentials) *apiClient {
	if baseURL == "" {
		baseURL = defaultHTTPURL
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  newOAuthSigner(creds),
		hc:      venue.NewHTTPClient(),
		limiter: venue.NewRateLimiter(4, 2),
	}
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.request(ctx, http.MethodGet, path, query, nil, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload, out any) error {
	return c.request(ctx, http.MethodPost, path, nil, payload, out)
}

func (c *apiClient) request(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	auth, err := c.signer.header(method, endpoint)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return venue.WrapTransport(venueName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.WrapTransport(venueName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return venue.ClassifyStatus(venueName, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &port.MappingError{Venue: venueName, What: strings.TrimPrefix(path, "/"), Err: err}
	}
	return nil
}

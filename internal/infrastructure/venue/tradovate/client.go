// Package tradovate adapts a Tradovate-style futures venue onto the broker
// contract: username/password token exchange, Bearer REST calls and
// fixed-interval quote polling for market data.
package tradovate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

const venueName = "tradovate"

const defaultHTTPURL = "https://demo.tradovateapi.com/v1"

// apiClient Tradovate REST 客户端，持有换取的访问令牌
type apiClient struct {
	baseURL string
	creds   venue.Credentials
	hc      *http.Client
	limiter *venue.RateLimiter

	mu    sync.Mutex
	token string
}

func newAPIClient(baseURL string, creds venue.Credentials) *apiClient {
	if baseURL == "" {
		baseURL = defaultHTTPURL
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		hc:      venue.NewHTTPClient(),
		limiter: venue.NewRateLimiter(5, 3),
	}
}

type accessTokenRequest struct {
	Name       string `json:"name"`
	Password   string `json:"password"`
	AppID      string `json:"appId"`
	AppVersion string `json:"appVersion"`
	CID        string `json:"cid,omitempty"`
	Sec        string `json:"sec,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
}

type accessTokenResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	UserID         int64  `json:"userId"`
	PTicket        string `json:"p-ticket"`
	ErrorText      string `json:"errorText"`
}

// authenticate 用用户名密码换取访问令牌
func (c *apiClient) authenticate(ctx context.Context) error {
	payload := accessTokenRequest{
		Name:       c.creds.Username,
		Password:   c.creds.Password,
		AppID:      c.creds.AppID,
		AppVersion: c.creds.AppVersion,
		CID:        c.creds.ClientID,
		Sec:        c.creds.ClientSecret,
		DeviceID:   c.creds.DeviceID,
	}

	var resp accessTokenResponse
	if err := c.request(ctx, http.MethodPost, "/auth/accesstokenrequest", nil, payload, &resp); err != nil {
		return err
	}
	if resp.ErrorText != "" {
		return &port.AuthenticationError{Venue: venueName, Err: errors.New(resp.ErrorText)}
	}
	if resp.PTicket != "" {
		// 场所要求验证码确认，对无人值守客户端等同于认证失败
		return &port.AuthenticationError{Venue: venueName, Err: errors.New("venue requires captcha ticket")}
	}
	if resp.AccessToken == "" {
		return &port.AuthenticationError{Venue: venueName, Err: errors.New("empty access token")}
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *apiClient) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// request 发送一次 REST 调用；已认证时附加 Bearer 头
func (c *apiClient) request(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
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
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
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

// ===== REST Resources =====

type account struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (c *apiClient) accounts(ctx context.Context) ([]account, error) {
	var out []account
	if err := c.request(ctx, http.MethodGet, "/account/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type cashBalanceSnapshot struct {
	TotalCashValue      float64 `json:"totalCashValue"`
	NetLiquidatingValue float64 `json:"netLiquidatingValue"`
	RealizedPnL         float64 `json:"realizedPnL"`
	OpenPnL             float64 `json:"openPnL"`
}

func (c *apiClient) cashSnapshot(ctx context.Context, accountID int64) (cashBalanceSnapshot, error) {
	payload := map[string]int64{"accountId": accountID}
	var out cashBalanceSnapshot
	if err := c.request(ctx, http.MethodPost, "/cashBalance/getcashbalancesnapshot", nil, payload, &out); err != nil {
		return cashBalanceSnapshot{}, err
	}
	return out, nil
}

type positionRow struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	NetPos     float64 `json:"netPos"`
	NetPrice   float64 `json:"netPrice"`
}

func (c *apiClient) positions(ctx context.Context) ([]positionRow, error) {
	var out []positionRow
	if err := c.request(ctx, http.MethodGet, "/position/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type contractItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// contractName 把合约 id 解析为交易代码，带每次调用级别的缓存
func (c *apiClient) contractName(ctx context.Context, id int64, cache map[int64]string) (string, error) {
	if name, ok := cache[id]; ok {
		return name, nil
	}

	query := url.Values{}
	query.Set("id", strconv.FormatInt(id, 10))
	var item contractItem
	if err := c.request(ctx, http.MethodGet, "/contract/item", query, nil, &item); err != nil {
		return "", err
	}
	if item.Name == "" {
		return "", &port.MappingError{Venue: venueName, What: "contract item", Err: errors.New("empty contract name")}
	}
	cache[id] = item.Name
	return item.Name, nil
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Open   float64 `json:"open"`
	Volume float64 `json:"volume"`
}

func (c *apiClient) quote(ctx context.Context, symbol string) (quoteResponse, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	var out quoteResponse
	if err := c.request(ctx, http.MethodGet, "/md/getquote", query, nil, &out); err != nil {
		return quoteResponse{}, err
	}
	return out, nil
}

type placeOrderRequest struct {
	AccountID   int64   `json:"accountId"`
	AccountSpec string  `json:"accountSpec,omitempty"`
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	OrderQty    float64 `json:"orderQty"`
	OrderType   string  `json:"orderType"`
	Price       float64 `json:"price,omitempty"`
	IsAutomated bool    `json:"isAutomated"`
}

type placeOrderResponse struct {
	OrderID     int64  `json:"orderId"`
	FailureText string `json:"failureText"`
}

func (c *apiClient) placeOrder(ctx context.Context, req placeOrderRequest) (placeOrderResponse, error) {
	var out placeOrderResponse
	if err := c.request(ctx, http.MethodPost, "/order/placeorder", nil, req, &out); err != nil {
		return placeOrderResponse{}, err
	}
	return out, nil
}

type orderRow struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	Action     string  `json:"action"`
	OrdStatus  string  `json:"ordStatus"`
	OrderQty   float64 `json:"orderQty"`
	Price      float64 `json:"price"`
	Timestamp  string  `json:"timestamp"`
}

func (c *apiClient) orders(ctx context.Context) ([]orderRow, error) {
	var out []orderRow
	if err := c.request(ctx, http.MethodGet, "/order/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package binance adapts Binance spot onto the broker contract: signed REST
// for account, orders and history, miniTicker WebSocket streams for market
// data.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

const venueName = "binance"

const (
	defaultHTTPURL = "https://api.binance.com"
	defaultWSURL   = "wss://stream.binance.com:9443"
)

// ===== Credentials 凭证 =====

// Credentials 包含 API 凭证和签名方法
type Credentials struct {
	apiKey    string
	apiSecret string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Sign 生成 HMAC-SHA256 签名
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// ===== REST Client =====

// APIClient Binance 现货 REST 客户端
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
	limiter     *venue.RateLimiter
	nowFunc     func() time.Time
}

func newAPIClient(baseURL string, creds *Credentials) *APIClient {
	if baseURL == "" {
		baseURL = defaultHTTPURL
	}
	return &APIClient{
		credentials: creds,
		httpClient:  venue.NewHTTPClient(),
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     venue.NewRateLimiter(10, 5),
		nowFunc:     time.Now,
	}
}

// signedRequest is shared helper for signed REST calls.
func (c *APIClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.nowFunc().UnixMilli(), 10))
	if params.Get("recvWindow") == "" {
		params.Set("recvWindow", "5000")
	}

	query := params.Encode()
	signature := c.credentials.Sign(query)
	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, path, query, signature)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.credentials.APIKey())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.send(req)
}

// publicRequest 无签名的行情类请求
func (c *APIClient) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *APIClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, venue.WrapTransport(venueName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, venue.WrapTransport(venueName, err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && isAuthErrorCode(ae.Code) {
			return nil, &port.AuthenticationError{Venue: venueName, Err: fmt.Errorf("code %d: %s", ae.Code, ae.Msg)}
		}
		return nil, venue.ClassifyStatus(venueName, resp.StatusCode, body)
	}
	return body, nil
}

// apiError Binance 错误响应体
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// isAuthErrorCode 鉴权类错误码：-1022 签名无效，-2014 API key 格式错误，
// -2015 API key、IP 或权限被拒
func isAuthErrorCode(code int) bool {
	switch code {
	case -1022, -2014, -2015:
		return true
	default:
		return false
	}
}

// spotAccountResponse 现货账户响应结构
type spotAccountResponse struct {
	AccountType string `json:"accountType"`
	CanTrade    bool   `json:"canTrade"`
	UpdateTime  int64  `json:"updateTime"`
	UID         int64  `json:"uid"`
	Balances    []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// fetchAccount 调用 Binance 现货账户接口
func (c *APIClient) fetchAccount(ctx context.Context) (*spotAccountResponse, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}

	var resp spotAccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &port.MappingError{Venue: venueName, What: "account response", Err: err}
	}
	return &resp, nil
}

// tickerPrice 获取现货 ticker 价格，带每次调用级别的缓存
func (c *APIClient) tickerPrice(ctx context.Context, symbol string, cache map[string]float64) (float64, error) {
	if price, ok := cache[symbol]; ok {
		return price, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.publicRequest(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("get ticker %s failed: %w", symbol, err)
	}

	var data struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, &port.MappingError{Venue: venueName, What: "ticker response", Err: err}
	}

	price, err := strconv.ParseFloat(data.Price, 64)
	if err != nil {
		return 0, &port.MappingError{Venue: venueName, What: "ticker price", Err: err}
	}
	cache[symbol] = price
	return price, nil
}

func isUSDStableCoin(asset string) bool {
	switch asset {
	case "USDT", "USDC", "BUSD", "FDUSD", "TUSD", "DAI", "USDD":
		return true
	default:
		return false
	}
}

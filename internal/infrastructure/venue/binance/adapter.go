package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/marketdata"
	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
	"brokerhub/internal/infrastructure/venue"
)

// Adapter 是 Binance 现货的 broker 适配器
type Adapter struct {
	name    string
	client  *APIClient
	symbols []string
	subs    *marketdata.Registry

	mu        sync.Mutex
	connected bool
	accountID string
}

var _ port.Broker = (*Adapter)(nil)

// NewAdapter 创建 Binance 适配器，凭证只保存在客户端实例里
func NewAdapter(cfg venue.Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = venueName
	}

	wsURL := cfg.Settings.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	a := &Adapter{
		name:    name,
		client:  newAPIClient(cfg.Settings.HTTPURL, NewCredentials(cfg.Credentials.APIKey, cfg.Credentials.APISecret)),
		symbols: normalizeSymbols(cfg.Settings.Symbols),
	}
	a.subs = marketdata.NewRegistry(name, streamOpener(wsURL), marketdata.DefaultReconnectPolicy())
	return a
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) VenueType() domain.VenueType { return domain.VenueCrypto }

// AccountID 返回连接后解析出的账户标识
func (a *Adapter) AccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect 通过签名的账户接口验证凭证
func (a *Adapter) Connect(ctx context.Context) error {
	acct, err := a.client.fetchAccount(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.connected = true
	switch {
	case acct.UID != 0:
		a.accountID = strconv.FormatInt(acct.UID, 10)
	case acct.AccountType != "":
		// 部分账户（子账户、测试网）不带 uid
		a.accountID = acct.AccountType
	}
	a.mu.Unlock()

	log.Info().
		Str("venue", venueName).
		Str("name", a.name).
		Str("account", a.AccountID()).
		Bool("can_trade", acct.CanTrade).
		Msg("✓ broker connected")
	return nil
}

// GetBalance 把稳定币归为现金，其余资产按 USDT ticker 估值
func (a *Adapter) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	if !a.isConnected() {
		return domain.AccountBalance{}, port.ErrNotConnected
	}

	acct, err := a.client.fetchAccount(ctx)
	if err != nil {
		return domain.AccountBalance{}, err
	}

	priceCache := make(map[string]float64)
	var cash, positions float64

	for _, balance := range acct.Balances {
		free, err := strconv.ParseFloat(balance.Free, 64)
		if err != nil {
			return domain.AccountBalance{}, &port.MappingError{Venue: venueName, What: "free balance for " + balance.Asset, Err: err}
		}
		locked, err := strconv.ParseFloat(balance.Locked, 64)
		if err != nil {
			return domain.AccountBalance{}, &port.MappingError{Venue: venueName, What: "locked balance for " + balance.Asset, Err: err}
		}

		amount := free + locked
		if amount <= 0 {
			continue
		}

		asset := strings.ToUpper(balance.Asset)
		if isUSDStableCoin(asset) {
			cash += amount
			continue
		}

		price, err := a.client.tickerPrice(ctx, asset+"USDT", priceCache)
		if err != nil {
			if port.IsVenueUnavailable(err) || port.IsAuthentication(err) {
				return domain.AccountBalance{}, err
			}
			// 没有 USDT 交易对的资产无法估值，跳过
			log.Warn().Str("venue", venueName).Str("asset", asset).Err(err).Msg("asset skipped, no USDT ticker")
			continue
		}
		positions += amount * price
	}

	return domain.AccountBalance{
		Total:     cash + positions,
		Cash:      cash,
		Positions: positions,
	}, nil
}

// GetPositions 把非稳定币钱包余额作为持仓返回。现货没有开仓成本，
// 所以均价等于现价，浮动盈亏为零。
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}

	acct, err := a.client.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	priceCache := make(map[string]float64)
	var out []domain.Position

	for _, balance := range acct.Balances {
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		amount := free + locked
		if amount <= 0 {
			continue
		}

		asset := strings.ToUpper(balance.Asset)
		if isUSDStableCoin(asset) {
			continue
		}

		price, err := a.client.tickerPrice(ctx, asset+"USDT", priceCache)
		if err != nil {
			if port.IsVenueUnavailable(err) || port.IsAuthentication(err) {
				return nil, err
			}
			log.Warn().Str("venue", venueName).Str("asset", asset).Err(err).Msg("asset skipped, no USDT ticker")
			continue
		}

		out = append(out, domain.Position{
			Symbol:       asset + "USDT",
			Quantity:     amount,
			AveragePrice: price,
			CurrentPrice: price,
			PnL:          0,
		})
	}

	return out, nil
}

// orderResponse 下单响应
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
}

// PlaceOrder 下单
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !a.isConnected() {
		return "", port.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", fmt.Sprintf("%.8g", req.Quantity))

	if req.Type == domain.OrderMarket {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC") // Good Till Cancel
		params.Set("price", fmt.Sprintf("%.8g", req.LimitPrice))
	}

	body, err := a.client.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &port.MappingError{Venue: venueName, What: "order response", Err: err}
	}
	if resp.OrderID == 0 {
		return "", fmt.Errorf("order rejected: %s", string(body))
	}

	log.Info().
		Str("venue", venueName).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Int64("orderID", resp.OrderID).
		Str("status", resp.Status).
		Msg("order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// orderHistoryEntry 订单历史响应
type orderHistoryEntry struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
}

// GetOrderHistory 扫描配置的交易对并合并订单历史，按时间倒序
func (a *Adapter) GetOrderHistory(ctx context.Context) ([]domain.OrderRecord, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}
	if len(a.symbols) == 0 {
		return nil, nil
	}

	var out []domain.OrderRecord
	for _, symbol := range a.symbols {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("limit", "50")

		body, err := a.client.signedRequest(ctx, http.MethodGet, "/api/v3/allOrders", params)
		if err != nil {
			if port.IsVenueUnavailable(err) || port.IsAuthentication(err) {
				return nil, err
			}
			// 未交易过的交易对会被场所拒绝，跳过
			log.Warn().Str("venue", venueName).Str("symbol", symbol).Err(err).Msg("order history skipped for symbol")
			continue
		}

		var entries []orderHistoryEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, &port.MappingError{Venue: venueName, What: "order history", Err: err}
		}
		for _, e := range entries {
			out = append(out, mapOrderRecord(a.name, e))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func mapOrderRecord(broker string, e orderHistoryEntry) domain.OrderRecord {
	qty, _ := strconv.ParseFloat(e.OrigQty, 64)
	price, _ := strconv.ParseFloat(e.Price, 64)
	if price == 0 {
		// 市价单的 price 字段为 0，用成交额反推均价
		executed, _ := strconv.ParseFloat(e.ExecutedQty, 64)
		quote, _ := strconv.ParseFloat(e.CummulativeQuoteQty, 64)
		if executed > 0 {
			price = quote / executed
		}
	}

	return domain.OrderRecord{
		OrderID:   strconv.FormatInt(e.OrderID, 10),
		Symbol:    e.Symbol,
		Side:      domain.Side(strings.ToLower(e.Side)),
		Quantity:  qty,
		Price:     price,
		Status:    mapOrderStatus(e.Status),
		Timestamp: time.UnixMilli(e.Time),
		Broker:    broker,
	}
}

// mapOrderStatus 把 Binance 订单状态映射到统一状态
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "FILLED":
		return domain.StatusFilled
	case "NEW", "PARTIALLY_FILLED", "PENDING_NEW":
		return domain.StatusPending
	case "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

// SubscribeMarketData 注册行情回调，按需启动交易对的 WebSocket 流
func (a *Adapter) SubscribeMarketData(symbol string, fn port.TickFunc) (port.SubscriptionID, error) {
	if !a.isConnected() {
		return 0, port.ErrNotConnected
	}
	return a.subs.Subscribe(strings.ToUpper(strings.TrimSpace(symbol)), fn)
}

func (a *Adapter) Unsubscribe(symbol string, id port.SubscriptionID) {
	a.subs.Unsubscribe(strings.ToUpper(strings.TrimSpace(symbol)), id)
}

func (a *Adapter) UnsubscribeMarketData(symbol string) {
	a.subs.UnsubscribeAll(strings.ToUpper(strings.TrimSpace(symbol)))
}

// Close 断开所有行情流并标记未连接
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.subs.Close()
	log.Info().Str("venue", venueName).Str("name", a.name).Msg("broker closed")
	return nil
}

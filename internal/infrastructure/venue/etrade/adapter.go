package etrade

import (
	"context"
	"fmt"
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

const defaultPollInterval = 5 * time.Second

// Adapter 是 E*TRADE 风格股票场所的 broker 适配器
type Adapter struct {
	name   string
	client *apiClient
	subs   *marketdata.Registry

	mu           sync.Mutex
	connected    bool
	accountIDKey string
}

var _ port.Broker = (*Adapter)(nil)

// NewAdapter 创建适配器；OAuth 凭证只进入签名器，不做持久化
func NewAdapter(cfg venue.Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = venueName
	}

	interval := cfg.Settings.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	a := &Adapter{
		name:   name,
		client: newAPIClient(cfg.Settings.HTTPURL, cfg.Credentials),
	}
	a.subs = marketdata.NewRegistry(name, marketdata.PollOpener(venueName, interval, a.fetchQuote), marketdata.DefaultReconnectPolicy())
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) VenueType() domain.VenueType { return domain.VenueStocks }

// AccountID 返回连接后解析出的 accountIdKey
func (a *Adapter) AccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountIDKey
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ===== Wire Shapes =====

type accountListResponse struct {
	AccountListResponse struct {
		Accounts struct {
			Account []struct {
				AccountID     string `json:"accountId"`
				AccountIDKey  string `json:"accountIdKey"`
				AccountStatus string `json:"accountStatus"`
			} `json:"Account"`
		} `json:"Accounts"`
	} `json:"AccountListResponse"`
}

type balanceResponse struct {
	BalanceResponse struct {
		Computed struct {
			RealTimeValues struct {
				TotalAccountValue float64 `json:"totalAccountValue"`
			} `json:"RealTimeValues"`
			NetCash float64 `json:"netCash"`
		} `json:"Computed"`
	} `json:"BalanceResponse"`
}

type portfolioPosition struct {
	SymbolDescription string  `json:"symbolDescription"`
	Quantity          float64 `json:"quantity"`
	PricePaid         float64 `json:"pricePaid"`
	Product           struct {
		Symbol string `json:"symbol"`
	} `json:"Product"`
	Quick struct {
		LastTrade float64 `json:"lastTrade"`
	} `json:"Quick"`
}

type portfolioResponse struct {
	PortfolioResponse struct {
		AccountPortfolio []struct {
			Position []portfolioPosition `json:"Position"`
		} `json:"AccountPortfolio"`
	} `json:"PortfolioResponse"`
}

type placeOrderRequest struct {
	Symbol        string  `json:"symbol"`
	OrderAction   string  `json:"orderAction"`
	Quantity      float64 `json:"quantity"`
	PriceType     string  `json:"priceType"`
	LimitPrice    float64 `json:"limitPrice,omitempty"`
	OrderTerm     string  `json:"orderTerm"`
	MarketSession string  `json:"marketSession"`
}

type placeOrderResponse struct {
	PlaceOrderResponse struct {
		OrderIDs []struct {
			OrderID int64 `json:"orderId"`
		} `json:"OrderIds"`
	} `json:"PlaceOrderResponse"`
}

type orderEntry struct {
	OrderID     int64 `json:"orderId"`
	OrderDetail []struct {
		Status     string  `json:"status"`
		PlacedTime int64   `json:"placedTime"`
		LimitPrice float64 `json:"limitPrice"`
		Instrument []struct {
			OrderAction           string  `json:"orderAction"`
			OrderedQuantity       float64 `json:"orderedQuantity"`
			AverageExecutionPrice float64 `json:"averageExecutionPrice"`
			Product               struct {
				Symbol string `json:"symbol"`
			} `json:"Product"`
		} `json:"Instrument"`
	} `json:"OrderDetail"`
}

type ordersResponse struct {
	OrdersResponse struct {
		Order []orderEntry `json:"Order"`
	} `json:"OrdersResponse"`
}

type quoteResponse struct {
	QuoteResponse struct {
		QuoteData []struct {
			All struct {
				LastTrade   float64 `json:"lastTrade"`
				High        float64 `json:"high"`
				Low         float64 `json:"low"`
				Open        float64 `json:"open"`
				TotalVolume float64 `json:"totalVolume"`
			} `json:"All"`
			Product struct {
				Symbol string `json:"symbol"`
			} `json:"Product"`
		} `json:"QuoteData"`
	} `json:"QuoteResponse"`
}

// ===== Broker Contract =====

// Connect 拉取账户列表并记录首个账户的 accountIdKey
func (a *Adapter) Connect(ctx context.Context) error {
	var resp accountListResponse
	if err := a.client.get(ctx, "/v1/accounts/list", nil, &resp); err != nil {
		return err
	}

	accounts := resp.AccountListResponse.Accounts.Account
	if len(accounts) == 0 || accounts[0].AccountIDKey == "" {
		return &port.MappingError{Venue: venueName, What: "account list", Err: fmt.Errorf("no usable account")}
	}

	a.mu.Lock()
	a.connected = true
	a.accountIDKey = accounts[0].AccountIDKey
	a.mu.Unlock()

	log.Info().
		Str("venue", venueName).
		Str("name", a.name).
		Str("account", accounts[0].AccountID).
		Msg("✓ broker connected")
	return nil
}

// GetBalance 读实时估值：Total 取 totalAccountValue，Cash 取 netCash
func (a *Adapter) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	if !a.isConnected() {
		return domain.AccountBalance{}, port.ErrNotConnected
	}

	query := url.Values{}
	query.Set("instType", "BROKERAGE")
	query.Set("realTimeNAV", "true")

	var resp balanceResponse
	if err := a.client.get(ctx, "/v1/accounts/"+url.PathEscape(a.AccountID())+"/balance", query, &resp); err != nil {
		return domain.AccountBalance{}, err
	}

	total := resp.BalanceResponse.Computed.RealTimeValues.TotalAccountValue
	cash := resp.BalanceResponse.Computed.NetCash
	return domain.AccountBalance{
		Total:     total,
		Cash:      cash,
		Positions: total - cash,
	}, nil
}

// GetPositions 读组合持仓；行情内嵌在行里，不需要二次查询
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}

	var resp portfolioResponse
	if err := a.client.get(ctx, "/v1/accounts/"+url.PathEscape(a.AccountID())+"/portfolio", nil, &resp); err != nil {
		return nil, err
	}

	var out []domain.Position
	for _, ap := range resp.PortfolioResponse.AccountPortfolio {
		for _, row := range ap.Position {
			if row.Quantity == 0 {
				continue
			}

			symbol := row.Product.Symbol
			if symbol == "" {
				symbol = row.SymbolDescription
			}

			current := row.Quick.LastTrade
			if current <= 0 {
				current = row.PricePaid
			}

			p := domain.Position{
				Symbol:       symbol,
				Quantity:     row.Quantity,
				AveragePrice: row.PricePaid,
				CurrentPrice: current,
			}
			p.RecomputePnL()
			out = append(out, p)
		}
	}

	return out, nil
}

// PlaceOrder 下单
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !a.isConnected() {
		return "", port.ErrNotConnected
	}

	order := placeOrderRequest{
		Symbol:        strings.ToUpper(req.Symbol),
		OrderAction:   strings.ToUpper(string(req.Side)),
		Quantity:      req.Quantity,
		PriceType:     "MARKET",
		OrderTerm:     "GOOD_FOR_DAY",
		MarketSession: "REGULAR",
	}
	if req.Type == domain.OrderLimit {
		order.PriceType = "LIMIT"
		order.LimitPrice = req.LimitPrice
	}

	var resp placeOrderResponse
	if err := a.client.postJSON(ctx, "/v1/accounts/"+url.PathEscape(a.AccountID())+"/orders/place", order, &resp); err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	ids := resp.PlaceOrderResponse.OrderIDs
	if len(ids) == 0 || ids[0].OrderID == 0 {
		return "", fmt.Errorf("order rejected by venue")
	}

	log.Info().
		Str("venue", venueName).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Int64("orderID", ids[0].OrderID).
		Msg("order placed")

	return strconv.FormatInt(ids[0].OrderID, 10), nil
}

// GetOrderHistory 读订单列表并映射状态，按时间倒序
func (a *Adapter) GetOrderHistory(ctx context.Context) ([]domain.OrderRecord, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}

	query := url.Values{}
	query.Set("count", "50")

	var resp ordersResponse
	if err := a.client.get(ctx, "/v1/accounts/"+url.PathEscape(a.AccountID())+"/orders", query, &resp); err != nil {
		return nil, err
	}

	var out []domain.OrderRecord
	for _, entry := range resp.OrdersResponse.Order {
		if len(entry.OrderDetail) == 0 {
			continue
		}
		detail := entry.OrderDetail[0]
		if len(detail.Instrument) == 0 {
			continue
		}
		inst := detail.Instrument[0]

		price := inst.AverageExecutionPrice
		if price == 0 {
			price = detail.LimitPrice
		}

		out = append(out, domain.OrderRecord{
			OrderID:   strconv.FormatInt(entry.OrderID, 10),
			Symbol:    inst.Product.Symbol,
			Side:      mapSide(inst.OrderAction),
			Quantity:  inst.OrderedQuantity,
			Price:     price,
			Status:    mapOrderStatus(detail.Status),
			Timestamp: time.UnixMilli(detail.PlacedTime),
			Broker:    a.name,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func mapSide(action string) domain.Side {
	if strings.EqualFold(action, "SELL") {
		return domain.SideSell
	}
	return domain.SideBuy
}

// mapOrderStatus 把 E*TRADE 订单状态映射到统一状态
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "EXECUTED":
		return domain.StatusFilled
	case "OPEN", "PARTIAL", "CANCEL_REQUESTED", "DO_NOT_EXERCISE":
		return domain.StatusPending
	case "CANCELLED", "REJECTED", "EXPIRED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

// fetchQuote 行情轮询的单次拉取
func (a *Adapter) fetchQuote(ctx context.Context, symbol string) (domain.MarketData, error) {
	var resp quoteResponse
	if err := a.client.get(ctx, "/v1/market/quote/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return domain.MarketData{}, err
	}

	data := resp.QuoteResponse.QuoteData
	if len(data) == 0 || data[0].All.LastTrade <= 0 {
		return domain.MarketData{}, fmt.Errorf("empty quote for %s", symbol)
	}

	q := data[0]
	sym := q.Product.Symbol
	if sym == "" {
		sym = strings.ToUpper(symbol)
	}
	return domain.MarketData{
		Symbol: sym,
		Price:  q.All.LastTrade,
		Close:  q.All.LastTrade,
		High:   q.All.High,
		Low:    q.All.Low,
		Open:   q.All.Open,
		Volume: q.All.TotalVolume,
	}, nil
}

// SubscribeMarketData 注册行情回调，按需启动该股票的轮询任务
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

// Close 停掉所有轮询任务并标记未连接
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.subs.Close()
	log.Info().Str("venue", venueName).Str("name", a.name).Msg("broker closed")
	return nil
}

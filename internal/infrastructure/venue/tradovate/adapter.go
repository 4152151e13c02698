package tradovate

import (
	"context"
	"fmt"
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

const (
	defaultPollInterval = 2 * time.Second
	orderHistoryLimit   = 50
)

// Adapter 是 Tradovate 风格期货场所的 broker 适配器
type Adapter struct {
	name   string
	client *apiClient
	subs   *marketdata.Registry

	mu          sync.Mutex
	connected   bool
	accountID   int64
	accountName string
}

var _ port.Broker = (*Adapter)(nil)

// NewAdapter 创建适配器；凭证只进入客户端实例，不做持久化
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

func (a *Adapter) VenueType() domain.VenueType { return domain.VenueFutures }

// AccountID 返回连接后解析出的账户标识
func (a *Adapter) AccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accountID == 0 {
		return ""
	}
	return strconv.FormatInt(a.accountID, 10)
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect 换取访问令牌并解析首个交易账户
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.client.authenticate(ctx); err != nil {
		return err
	}

	accounts, err := a.client.accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("%s: user has no trading accounts", venueName)
	}

	a.mu.Lock()
	a.connected = true
	a.accountID = accounts[0].ID
	a.accountName = accounts[0].Name
	a.mu.Unlock()

	log.Info().
		Str("venue", venueName).
		Str("name", a.name).
		Str("account", a.AccountID()).
		Msg("✓ broker connected")
	return nil
}

// GetBalance 两次往返：账户列表，然后现金快照。
// Cash 取 totalCashValue，Total 取净清算价值，持仓市值是两者之差。
func (a *Adapter) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	if !a.isConnected() {
		return domain.AccountBalance{}, port.ErrNotConnected
	}

	accounts, err := a.client.accounts(ctx)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	if len(accounts) == 0 {
		return domain.AccountBalance{}, fmt.Errorf("%s: user has no trading accounts", venueName)
	}

	snap, err := a.client.cashSnapshot(ctx, accounts[0].ID)
	if err != nil {
		return domain.AccountBalance{}, err
	}

	total := snap.NetLiquidatingValue
	if total == 0 {
		total = snap.TotalCashValue
	}
	return domain.AccountBalance{
		Total:     total,
		Cash:      snap.TotalCashValue,
		Positions: total - snap.TotalCashValue,
	}, nil
}

// GetPositions 拉取净持仓，合约 id 解析为代码，现价用行情快照，
// 拿不到行情时退回成交均价。
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}

	rows, err := a.client.positions(ctx)
	if err != nil {
		return nil, err
	}

	contractCache := make(map[int64]string)
	var out []domain.Position

	for _, row := range rows {
		if row.NetPos == 0 {
			continue
		}

		symbol, err := a.client.contractName(ctx, row.ContractID, contractCache)
		if err != nil {
			if port.IsVenueUnavailable(err) || port.IsAuthentication(err) {
				return nil, err
			}
			log.Warn().Str("venue", venueName).Int64("contract_id", row.ContractID).Err(err).Msg("position skipped, contract not resolvable")
			continue
		}

		current := row.NetPrice
		if q, err := a.client.quote(ctx, symbol); err == nil && q.Last > 0 {
			current = q.Last
		} else if err != nil {
			log.Debug().Str("venue", venueName).Str("symbol", symbol).Err(err).Msg("quote lookup failed, using net price")
		}

		p := domain.Position{
			Symbol:       symbol,
			Quantity:     row.NetPos,
			AveragePrice: row.NetPrice,
			CurrentPrice: current,
		}
		p.RecomputePnL()
		out = append(out, p)
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

	a.mu.Lock()
	accountID := a.accountID
	accountName := a.accountName
	a.mu.Unlock()

	order := placeOrderRequest{
		AccountID:   accountID,
		AccountSpec: accountName,
		Action:      mapAction(req.Side),
		Symbol:      strings.ToUpper(req.Symbol),
		OrderQty:    req.Quantity,
		OrderType:   "Market",
		IsAutomated: true,
	}
	if req.Type == domain.OrderLimit {
		order.OrderType = "Limit"
		order.Price = req.LimitPrice
	}

	resp, err := a.client.placeOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}
	if resp.OrderID == 0 {
		if resp.FailureText != "" {
			return "", fmt.Errorf("order rejected: %s", resp.FailureText)
		}
		return "", fmt.Errorf("order rejected by venue")
	}

	log.Info().
		Str("venue", venueName).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Int64("orderID", resp.OrderID).
		Msg("order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// GetOrderHistory 拉取订单列表并映射状态，按时间倒序，截断到场所页大小
func (a *Adapter) GetOrderHistory(ctx context.Context) ([]domain.OrderRecord, error) {
	if !a.isConnected() {
		return nil, port.ErrNotConnected
	}

	rows, err := a.client.orders(ctx)
	if err != nil {
		return nil, err
	}

	contractCache := make(map[int64]string)
	out := make([]domain.OrderRecord, 0, len(rows))

	for _, row := range rows {
		symbol := ""
		if row.ContractID > 0 {
			symbol, err = a.client.contractName(ctx, row.ContractID, contractCache)
			if err != nil {
				if port.IsVenueUnavailable(err) || port.IsAuthentication(err) {
					return nil, err
				}
				log.Warn().Str("venue", venueName).Int64("contract_id", row.ContractID).Err(err).Msg("order row skipped, contract not resolvable")
				continue
			}
		}

		ts, _ := time.Parse(time.RFC3339, row.Timestamp)
		out = append(out, domain.OrderRecord{
			OrderID:   strconv.FormatInt(row.ID, 10),
			Symbol:    symbol,
			Side:      mapSide(row.Action),
			Quantity:  row.OrderQty,
			Price:     row.Price,
			Status:    mapOrderStatus(row.OrdStatus),
			Timestamp: ts,
			Broker:    a.name,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > orderHistoryLimit {
		out = out[:orderHistoryLimit]
	}
	return out, nil
}

func mapAction(side domain.Side) string {
	if side == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func mapSide(action string) domain.Side {
	if strings.EqualFold(action, "Sell") {
		return domain.SideSell
	}
	return domain.SideBuy
}

// mapOrderStatus 把 Tradovate 订单状态映射到统一状态
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "Filled":
		return domain.StatusFilled
	case "Working", "Accepted", "Suspended", "PendingNew", "PendingReplace":
		return domain.StatusPending
	case "Canceled", "Rejected", "Expired":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

// fetchQuote 行情轮询的单次拉取
func (a *Adapter) fetchQuote(ctx context.Context, symbol string) (domain.MarketData, error) {
	q, err := a.client.quote(ctx, symbol)
	if err != nil {
		return domain.MarketData{}, err
	}
	if q.Last <= 0 {
		return domain.MarketData{}, fmt.Errorf("empty quote for %s", symbol)
	}

	return domain.MarketData{
		Symbol: strings.ToUpper(symbol),
		Price:  q.Last,
		Close:  q.Last,
		High:   q.High,
		Low:    q.Low,
		Open:   q.Open,
		Volume: q.Volume,
	}, nil
}

// SubscribeMarketData 注册行情回调，按需启动该合约的轮询任务
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

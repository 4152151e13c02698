package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/marketdata"
	"brokerhub/internal/domain"
	"brokerhub/internal/infrastructure/venue"
)

// streamOpener 返回单交易对 miniTicker 流的打开函数。一次调用对应一条
// 连接的生命周期，重连由订阅注册表按退避策略驱动。
func streamOpener(wsURL string) marketdata.OpenChannelFunc {
	return func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		streamURL, err := buildStreamURL(wsURL, symbol)
		if err != nil {
			return err
		}

		conn, err := venue.DialWS(ctx, streamURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		log.Info().Str("venue", venueName).Str("symbol", symbol).Msg("ws connected")

		return venue.ReadWithPing(ctx, conn, func(b []byte) {
			var msg miniTickerEvent
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("venue", venueName).Err(e).Msg("json unmarshal failed")
				return
			}
			md, ok := msg.toMarketData()
			if !ok {
				return
			}
			emit(md)
		})
	}
}

func buildStreamURL(base, symbol string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("binance ws url empty")
	}
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errors.New("symbol empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/ws/" + symbol + "@miniTicker"
	return u.String(), nil
}

type miniTickerEvent struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Volume string `json:"v"`
}

func (m miniTickerEvent) toMarketData() (domain.MarketData, bool) {
	sym := strings.ToUpper(m.Symbol)
	pxs := strings.TrimSpace(m.Close)
	if sym == "" || pxs == "" {
		return domain.MarketData{}, false
	}
	price, err := strconv.ParseFloat(pxs, 64)
	if err != nil || price <= 0 {
		return domain.MarketData{}, false
	}

	md := domain.MarketData{
		Symbol: sym,
		Price:  price,
		Close:  price,
	}
	if m.Time > 0 {
		md.Timestamp = time.UnixMilli(m.Time)
	}
	md.Open, _ = strconv.ParseFloat(m.Open, 64)
	md.High, _ = strconv.ParseFloat(m.High, 64)
	md.Low, _ = strconv.ParseFloat(m.Low, 64)
	md.Volume, _ = strconv.ParseFloat(m.Volume, 64)
	return md, true
}

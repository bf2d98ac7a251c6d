// Package binance adapts Binance USDT-margined futures to the engine's market
// and broker contracts through the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/scheduler"
)

const maxHistoryLimit = 1500

// Source implements market.Source over the futures REST API.
type Source struct {
	cfg    Config
	client *futures.Client

	statsMu sync.Mutex
	stats   market.SourceStats
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = dropUnclosed(out, dur)
	}
	return out, nil
}

func (s *Source) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	symbol = cleanSymbol(symbol)
	books, err := s.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		s.recordError(err)
		return market.Quote{}, err
	}
	if len(books) == 0 || books[0] == nil {
		return market.Quote{}, fmt.Errorf("no book ticker for %s", symbol)
	}
	book := books[0]
	q := market.Quote{
		Symbol:    symbol,
		Bid:       parseFloat(book.BidPrice),
		Ask:       parseFloat(book.AskPrice),
		UpdatedAt: time.Now().UTC(),
	}
	if q.Bid > 0 && q.Ask > 0 {
		q.Last = (q.Bid + q.Ask) / 2
	}
	return q, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error { return nil }

func (s *Source) recordError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.FetchErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

// dropUnclosed removes a trailing candle whose bar has not closed yet; the
// exchange includes the forming bar in kline responses.
func dropUnclosed(candles []market.Candle, interval time.Duration) []market.Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if time.UnixMilli(last.OpenTime).Add(interval).After(time.Now()) {
		return candles[:len(candles)-1]
	}
	return candles
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// Package yahoo fetches daily OHLCV bars and quotes from Yahoo Finance.
package yahoo

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"paperbot/internal/domain"
)

// Client wraps the Yahoo Finance API for daily bar and quote retrieval
type Client struct {
	log zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		log: log.With().Str("component", "yahoo").Logger(),
	}
}

// GetDailyBars downloads daily bars for a batch of symbols covering at least
// the requested number of calendar days. Symbols that fail are logged and
// omitted; an empty overall result is an error.
func (c *Client) GetDailyBars(symbols []string, days int) (map[string][]domain.Bar, error) {
	if len(symbols) == 0 {
		return map[string][]domain.Bar{}, nil
	}

	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = periodForDays(days)
	params.Interval = "1d"

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to download daily bars: %w", err)
	}

	bars := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		if symbolBars, ok := result.Data[symbol]; ok && len(symbolBars) > 0 {
			bars[symbol] = toDomainBars(symbol, symbolBars)
		} else if symbolErr, ok := result.Errors[symbol]; ok {
			c.log.Warn().Err(symbolErr).Str("symbol", symbol).Msg("Failed to download bars for symbol")
		}
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no historical bars returned for %d symbols: %w",
			len(symbols), domain.ErrInsufficientData)
	}

	return bars, nil
}

// GetHistoricalBars fetches daily bars for a single symbol with retries
func (c *Client) GetHistoricalBars(symbol string, days int, maxRetries int) ([]domain.Bar, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	params := models.HistoryParams{
		Period:     periodForDays(days),
		Interval:   "1d",
		AutoAdjust: true,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		t, err := ticker.New(symbol)
		if err != nil {
			lastErr = fmt.Errorf("failed to create ticker: %w", err)
		} else {
			bars, histErr := t.History(params)
			t.Close()
			if histErr == nil && len(bars) > 0 {
				return toDomainBars(symbol, bars), nil
			}
			if histErr != nil {
				lastErr = fmt.Errorf("failed to get historical prices: %w", histErr)
			} else {
				lastErr = fmt.Errorf("no historical bars returned for %s: %w", symbol, domain.ErrInsufficientData)
			}
		}

		if attempt < maxRetries-1 {
			waitTime := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Warn().Err(lastErr).Str("symbol", symbol).
				Int("attempt", attempt+1).Dur("wait", waitTime).Msg("Retrying")
			time.Sleep(waitTime)
		}
	}

	return nil, lastErr
}

// GetLatestClose returns the most recent price for a symbol, or nil when
// Yahoo has no usable quote.
func (c *Client) GetLatestClose(symbol string) (*float64, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	quote, err := t.Quote()
	if err == nil && quote != nil {
		if quote.RegularMarketPrice > 0 {
			price := quote.RegularMarketPrice
			return &price, nil
		}
		if quote.PostMarketPrice > 0 {
			price := quote.PostMarketPrice
			return &price, nil
		}
	}

	// Fall back to the last daily close
	bars, err := t.History(models.HistoryParams{Period: "5d", Interval: "1d", AutoAdjust: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get quote or recent bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	price := bars[len(bars)-1].Close
	return &price, nil
}

func toDomainBars(symbol string, bars []models.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, domain.Bar{
			Timestamp: bar.Date,
			Symbol:    symbol,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// periodForDays maps a calendar-day span onto the smallest Yahoo period
// string that covers it. Supported periods: 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, max.
func periodForDays(days int) string {
	switch {
	case days <= 0:
		return "1y"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 730:
		return "2y"
	case days <= 1825:
		return "5y"
	case days <= 3650:
		return "10y"
	default:
		return "max"
	}
}

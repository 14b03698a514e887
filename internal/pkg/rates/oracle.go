package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stacksgate/stacksgate/internal/pkg/cache"
)

const (
	rateCacheKey     = "btc_usd_exchange_rate"
	previousRateKey  = "btc_usd_previous_rate"
	rateCacheTTL     = 300 * time.Second
	previousRateTTL  = 3600 * time.Second
	sourceTimeout    = 5 * time.Second
	fallbackRate     = 43000.0
	trendThresholdPC = 0.1
)

// Currency units accepted by conversion and validity checks.
const (
	UnitUSD  = "usd"
	UnitSBTC = "sbtc"
)

// Source is one independent BTC/USD price feed. Sources are queried in
// priority order; the first well-formed positive rate wins.
type Source struct {
	Name  string
	URL   string
	Parse func([]byte) (float64, error)
}

// Snapshot is a cached exchange rate tagged with where it came from.
type Snapshot struct {
	BTCUSD      float64   `json:"btc_usd"`
	LastUpdated time.Time `json:"last_updated"`
	Source      string    `json:"source"`
	Trend       string    `json:"trend,omitempty"`
}

// Conversion is the result of one unit conversion at a rate snapshot.
type Conversion struct {
	AmountSBTC   float64   `json:"amount_sbtc"`
	AmountUSD    float64   `json:"amount_usd"`
	ExchangeRate float64   `json:"exchange_rate"`
	Timestamp    time.Time `json:"timestamp"`
}

// DefaultSources returns the production price feeds in priority order.
func DefaultSources() []Source {
	return []Source{
		{
			Name: "CoinGecko",
			URL:  "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
			Parse: func(data []byte) (float64, error) {
				var body struct {
					Bitcoin struct {
						USD float64 `json:"usd"`
					} `json:"bitcoin"`
				}
				if err := json.Unmarshal(data, &body); err != nil {
					return 0, err
				}
				return body.Bitcoin.USD, nil
			},
		},
		{
			Name: "CoinDesk",
			URL:  "https://api.coindesk.com/v1/bpi/currentprice/USD.json",
			Parse: func(data []byte) (float64, error) {
				var body struct {
					BPI struct {
						USD struct {
							Rate string `json:"rate"`
						} `json:"USD"`
					} `json:"bpi"`
				}
				if err := json.Unmarshal(data, &body); err != nil {
					return 0, err
				}
				return strconv.ParseFloat(strings.ReplaceAll(body.BPI.USD.Rate, ",", ""), 64)
			},
		},
		{
			Name: "Binance",
			URL:  "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT",
			Parse: func(data []byte) (float64, error) {
				var body struct {
					Price string `json:"price"`
				}
				if err := json.Unmarshal(data, &body); err != nil {
					return 0, err
				}
				return strconv.ParseFloat(body.Price, 64)
			},
		},
	}
}

// Oracle produces the current BTC/USD rate with bounded staleness. It caches
// successful lookups, falls back across sources in order and finally to a
// hardcoded constant so conversions never block on a dead upstream.
type Oracle struct {
	sources    []Source
	store      cache.Store
	httpClient *http.Client
	now        func() time.Time
}

// NewOracle creates an oracle over the given price sources.
func NewOracle(sources []Source, store cache.Store) *Oracle {
	return &Oracle{
		sources:    sources,
		store:      store,
		httpClient: &http.Client{Timeout: sourceTimeout},
		now:        time.Now,
	}
}

// WithClock replaces the oracle's clock. Tests use this to advance time.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// WithHTTPClient replaces the oracle's HTTP client.
func (o *Oracle) WithHTTPClient(client *http.Client) *Oracle {
	o.httpClient = client
	return o
}

// CurrentRate returns the cached snapshot or queries the sources in priority
// order. When every source fails the fallback constant is returned untagged
// by any cache write, so the next call probes the sources again.
func (o *Oracle) CurrentRate(ctx context.Context) *Snapshot {
	var cached Snapshot
	if err := o.store.GetJSON(rateCacheKey, &cached); err == nil {
		return &cached
	}

	for _, source := range o.sources {
		rate, err := o.fetchFromSource(ctx, source)
		if err != nil {
			log.Warnf("[RateOracle] Failed to fetch exchange rate from %s: %v", source.Name, err)
			continue
		}
		snapshot := &Snapshot{
			BTCUSD:      rate,
			LastUpdated: o.now(),
			Source:      source.Name,
		}
		if err := o.store.SetJSON(rateCacheKey, snapshot, rateCacheTTL); err != nil {
			log.Warnf("[RateOracle] Failed to cache exchange rate: %v", err)
		}
		log.Infof("[RateOracle] BTC/USD rate from %s: $%.2f", source.Name, rate)
		return snapshot
	}

	log.Errorf("[RateOracle] All exchange rate sources failed, using fallback rate %.2f", fallbackRate)
	return &Snapshot{
		BTCUSD:      fallbackRate,
		LastUpdated: o.now(),
		Source:      "fallback",
	}
}

// WithTrend returns the current rate classified against a slower-cadence
// previous sample: up/down beyond a ±0.1% move, stable within it.
func (o *Oracle) WithTrend(ctx context.Context) *Snapshot {
	current := o.CurrentRate(ctx)

	trend := "stable"
	var previous float64
	if err := o.store.GetJSON(previousRateKey, &previous); err == nil && previous > 0 {
		changePercent := (current.BTCUSD - previous) / previous * 100
		if changePercent > trendThresholdPC {
			trend = "up"
		} else if changePercent < -trendThresholdPC {
			trend = "down"
		}
	}
	if err := o.store.SetJSON(previousRateKey, current.BTCUSD, previousRateTTL); err != nil {
		log.Warnf("[RateOracle] Failed to cache previous rate: %v", err)
	}

	current.Trend = trend
	return current
}

// ConvertSBTCToUSD converts a fractional sBTC amount to USD, rounded to cents.
func (o *Oracle) ConvertSBTCToUSD(ctx context.Context, amountSBTC float64) *Conversion {
	snapshot := o.CurrentRate(ctx)
	return &Conversion{
		AmountSBTC:   amountSBTC,
		AmountUSD:    math.Round(amountSBTC*snapshot.BTCUSD*100) / 100,
		ExchangeRate: snapshot.BTCUSD,
		Timestamp:    o.now(),
	}
}

// ConvertUSDToSBTC converts a USD amount to sBTC, rounded to 8 decimals.
func (o *Oracle) ConvertUSDToSBTC(ctx context.Context, amountUSD float64) *Conversion {
	snapshot := o.CurrentRate(ctx)
	return &Conversion{
		AmountSBTC:   math.Round(amountUSD/snapshot.BTCUSD*1e8) / 1e8,
		AmountUSD:    amountUSD,
		ExchangeRate: snapshot.BTCUSD,
		Timestamp:    o.now(),
	}
}

// FormatCurrency renders an amount for display in the given unit.
func FormatCurrency(amount float64, unit string) string {
	if unit == UnitUSD {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("%.8f sBTC", amount)
}

// IsValidAmount rejects malformed conversion requests before they reach the
// oracle: finite positive numbers within a unit-specific bound.
func IsValidAmount(amount float64, unit string) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return false
	}
	if unit == UnitUSD {
		return amount >= 0.01 && amount <= 1000000
	}
	return amount >= 0.00000001 && amount <= 1000
}

func (o *Oracle) fetchFromSource(ctx context.Context, source Source) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "StacksGate-Payment-Gateway/1.0")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := readBody(resp)
	if err != nil {
		return 0, err
	}
	rate, err := source.Parse(data)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("invalid exchange rate %v", rate)
	}
	return rate, nil
}

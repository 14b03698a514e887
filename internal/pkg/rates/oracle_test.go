package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksgate/stacksgate/internal/pkg/cache"
)

func plainSource(name, url string) Source {
	return Source{
		Name: name,
		URL:  url,
		Parse: func(data []byte) (float64, error) {
			return strconv.ParseFloat(string(data), 64)
		},
	}
}

func rateServer(t *testing.T, rate *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := rate.Load()
		if v == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "%v", v)
	}))
}

func TestCurrentRateSourcePriority(t *testing.T) {
	var primaryRate, backupRate atomic.Value
	backupRate.Store(65000.0)

	primary := rateServer(t, &primaryRate) // responds 500
	defer primary.Close()
	backup := rateServer(t, &backupRate)
	defer backup.Close()

	oracle := NewOracle([]Source{
		plainSource("Primary", primary.URL),
		plainSource("Backup", backup.URL),
	}, cache.NewMemoryStore())

	snapshot := oracle.CurrentRate(context.Background())
	assert.Equal(t, 65000.0, snapshot.BTCUSD)
	assert.Equal(t, "Backup", snapshot.Source)
}

func TestCurrentRateServesCache(t *testing.T) {
	var rate atomic.Value
	rate.Store(64000.0)
	server := rateServer(t, &rate)

	oracle := NewOracle([]Source{plainSource("Primary", server.URL)}, cache.NewMemoryStore())

	first := oracle.CurrentRate(context.Background())
	require.Equal(t, 64000.0, first.BTCUSD)

	// Source goes away; the cached snapshot keeps serving.
	server.Close()
	second := oracle.CurrentRate(context.Background())
	assert.Equal(t, 64000.0, second.BTCUSD)
	assert.Equal(t, "Primary", second.Source)
}

func TestCurrentRateFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	oracle := NewOracle([]Source{plainSource("Primary", server.URL)}, cache.NewMemoryStore())

	snapshot := oracle.CurrentRate(context.Background())
	assert.Equal(t, fallbackRate, snapshot.BTCUSD)
	assert.Equal(t, "fallback", snapshot.Source)
}

func TestCurrentRateRejectsNonsenseRates(t *testing.T) {
	var badRate, goodRate atomic.Value
	badRate.Store(-5.0)
	goodRate.Store(50000.0)

	bad := rateServer(t, &badRate)
	defer bad.Close()
	good := rateServer(t, &goodRate)
	defer good.Close()

	oracle := NewOracle([]Source{
		plainSource("Bad", bad.URL),
		plainSource("Good", good.URL),
	}, cache.NewMemoryStore())

	snapshot := oracle.CurrentRate(context.Background())
	assert.Equal(t, 50000.0, snapshot.BTCUSD)
	assert.Equal(t, "Good", snapshot.Source)
}

func TestConversions(t *testing.T) {
	var rate atomic.Value
	rate.Store(50000.0)
	server := rateServer(t, &rate)
	defer server.Close()

	oracle := NewOracle([]Source{plainSource("Primary", server.URL)}, cache.NewMemoryStore())
	ctx := context.Background()

	toSBTC := oracle.ConvertUSDToSBTC(ctx, 100)
	assert.InDelta(t, 0.002, toSBTC.AmountSBTC, 1e-12)
	assert.Equal(t, 50000.0, toSBTC.ExchangeRate)

	toUSD := oracle.ConvertSBTCToUSD(ctx, 0.002)
	assert.InDelta(t, 100.0, toUSD.AmountUSD, 1e-9)

	// USD result rounds to cents.
	cents := oracle.ConvertSBTCToUSD(ctx, 0.00000123)
	assert.InDelta(t, 0.06, cents.AmountUSD, 1e-9)

	// sBTC result rounds to 8 decimals.
	sats := oracle.ConvertUSDToSBTC(ctx, 0.07)
	assert.InDelta(t, 0.0000014, sats.AmountSBTC, 1e-12)
}

func TestWithTrend(t *testing.T) {
	var rate atomic.Value
	rate.Store(50000.0)
	server := rateServer(t, &rate)
	defer server.Close()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	store := cache.NewMemoryStoreWithClock(clock)
	oracle := NewOracle([]Source{plainSource("Primary", server.URL)}, store).WithClock(clock)
	ctx := context.Background()

	// No previous sample yet.
	first := oracle.WithTrend(ctx)
	assert.Equal(t, "stable", first.Trend)

	// Expire the rate cache, move the source up more than 0.1%.
	rate.Store(50100.0)
	current = current.Add(6 * time.Minute)
	second := oracle.WithTrend(ctx)
	assert.Equal(t, 50100.0, second.BTCUSD)
	assert.Equal(t, "up", second.Trend)

	// And back down.
	rate.Store(50000.0)
	current = current.Add(6 * time.Minute)
	third := oracle.WithTrend(ctx)
	assert.Equal(t, "down", third.Trend)
}

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		amount float64
		unit   string
		want   bool
	}{
		{10, UnitUSD, true},
		{0.01, UnitUSD, true},
		{0.001, UnitUSD, false},
		{1000000, UnitUSD, true},
		{1000001, UnitUSD, false},
		{0.5, UnitSBTC, true},
		{0.00000001, UnitSBTC, true},
		{0.000000001, UnitSBTC, false},
		{1000, UnitSBTC, true},
		{1001, UnitSBTC, false},
		{-1, UnitUSD, false},
		{0, UnitSBTC, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidAmount(tt.amount, tt.unit), "amount=%v unit=%s", tt.amount, tt.unit)
	}
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$97.50", FormatCurrency(97.5, UnitUSD))
	assert.Equal(t, "0.00150000 sBTC", FormatCurrency(0.0015, UnitSBTC))
}

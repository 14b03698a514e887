package rates

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Refresher re-warms the exchange rate cache on a fixed cadence so request
// paths mostly hit the cache. Failures are logged and never stop the loop.
type Refresher struct {
	oracle   *Oracle
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewRefresher creates a refresher around oracle with the given interval.
func NewRefresher(oracle *Oracle, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Refresher{
		oracle:   oracle,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the refresh loop.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.stopCh = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go r.loop()
	log.Infof("[RateOracle] Price refresher started (interval=%s)", r.interval)
}

// Stop terminates the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
	r.wg.Wait()
	log.Info("[RateOracle] Price refresher stopped")
}

func (r *Refresher) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			snapshot := r.oracle.CurrentRate(ctx)
			cancel()
			log.Debugf("[RateOracle] Rate refreshed: %.2f (source=%s)", snapshot.BTCUSD, snapshot.Source)
		}
	}
}

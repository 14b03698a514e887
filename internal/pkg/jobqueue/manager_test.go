package jobqueue

import (
	"testing"
	"time"
)

// The manager stops its ticker before closing the stop channel; the worker
// must still observe the close and exit, or Stop blocks forever on wg.Wait.
func TestRetryWorkerStopsAfterTickerHalt(t *testing.T) {
	m := &Manager{}
	stopCh := make(chan struct{})
	ticker := time.NewTicker(time.Hour)

	m.wg.Add(1)
	go m.retryWorker(stopCh, ticker, time.Hour)

	// Mirror Stop's ordering.
	ticker.Stop()
	close(stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry worker did not exit after stop channel close")
	}
}

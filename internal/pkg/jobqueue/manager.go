package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stacksgate/stacksgate/app/repository"
	"github.com/stacksgate/stacksgate/internal/pkg/env"
	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

const defaultRetryBatchInterval = 5 * time.Minute

// Manager manages the global webhook job queue and background tasks
type Manager struct {
	queue       *Queue
	retryTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// SetupManager initializes the global job queue manager with its
// collaborators. Must be called before GetManager.
func SetupManager(dispatcher *webhooks.Dispatcher, merchants repository.MerchantRepository) *Manager {
	managerOnce.Do(func() {
		workerCount := 3
		if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_WORKERS", "3")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount, dispatcher, merchants),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager (singleton). Returns nil
// until SetupManager has been called.
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting webhook job queue and background tasks")

	m.queue.Start()

	// Periodically sweep undelivered webhooks back into the queue. This is
	// the recovery path for deliveries whose in-process retry chain was lost
	// to a restart.
	retryInterval := defaultRetryBatchInterval
	if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_RETRY_INTERVAL_MINUTES", "")); err == nil && v > 0 {
		retryInterval = time.Duration(v) * time.Minute
	}
	m.retryTicker = time.NewTicker(retryInterval)
	m.wg.Add(1)
	go m.retryWorker(m.stopCh, m.retryTicker, retryInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping webhook job queue and background tasks...")

	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// retryWorker runs periodically to re-deliver failed webhooks. The stop
// channel and ticker are passed in rather than re-read from the manager:
// Stop closes the channel while holding the mutex the worker never takes.
func (m *Manager) retryWorker(stopCh chan struct{}, ticker *time.Ticker, interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook retry worker (interval: %s)", interval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Webhook retry worker stopping")
			return
		case <-ticker.C:
			log.Debug("[JobQueue Manager] Enqueuing webhook retry batch")
			if _, err := m.queue.EnqueueJob(JobTypeWebhookRetryBatch, map[string]interface{}{}); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing webhook retry batch: %v", err)
			}
		}
	}
}

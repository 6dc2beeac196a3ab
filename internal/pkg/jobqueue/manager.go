package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/env"
)

// EventSource is the ledger view the replay sweep needs: list what is still
// unprocessed and replay a single event. *billing.Service satisfies it.
type EventSource interface {
	Replayer
	ListUnprocessedEvents(limit int) ([]models.WebhookEvent, error)
}

const (
	replaySweepBatchSize = 50
	// Events younger than this are left to Stripe's own HTTP retries.
	replayMinEventAge = 2 * time.Minute
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue       *Queue
	events      EventSource
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 3
		if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKERS", "3")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetEventSource wires the billing backend used for webhook replays.
// Must be called before Start.
func (m *Manager) SetEventSource(src EventSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = src
	m.queue.SetReplayer(src)
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
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	sweepInterval := 5 * time.Minute
	if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_REPLAY_INTERVAL", "5")); err == nil && v > 0 {
		sweepInterval = time.Duration(v) * time.Minute
	}

	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.replaySweepWorker(sweepInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// replaySweepWorker periodically picks up webhook events that failed during
// live delivery and queues them for replay.
func (m *Manager) replaySweepWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook replay sweep (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Replay sweep stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.runReplaySweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Replay sweep error: %v", err)
			}
		}
	}
}

func (m *Manager) runReplaySweepOnce() error {
	if m.events == nil {
		return nil
	}

	events, err := m.events.ListUnprocessedEvents(replaySweepBatchSize)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-replayMinEventAge)
	queued := 0
	for _, evt := range events {
		if evt.CreatedAt.After(cutoff) {
			continue
		}
		job, err := m.queue.EnqueueWebhookReplay(evt.ID, evt.Type)
		if err != nil {
			log.Errorf("[JobQueue Manager] Failed to queue replay for event %s: %v", evt.ID, err)
			continue
		}
		if job != nil {
			queued++
		}
	}

	if queued > 0 {
		log.Infof("[JobQueue Manager] Queued %d webhook replays", queued)
	}
	return nil
}

// RunReplaySweepOnce exposes a manual trigger for a single replay sweep (admin use).
func (m *Manager) RunReplaySweepOnce() error {
	return m.runReplaySweepOnce()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

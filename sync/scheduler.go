package sync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pretalx-rt-sync/database"
	"pretalx-rt-sync/utils"
)

// passBudget is the soft wall-clock budget of one reconciliation pass. The
// pass returns early once it is exceeded between tickets; an in-flight remote
// call is never interrupted. Staleness ordering makes the next run resume
// where this one left off.
const passBudget = time.Minute

// SchedulerStatus reports the scheduler's current state.
type SchedulerStatus struct {
	Running    bool      `json:"running"`
	Interval   int       `json:"interval_seconds"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
	RunCount   int       `json:"run_count"`
	LastPulled int       `json:"last_pulled"`
}

// Scheduler periodically pulls stale tickets across all events.
type Scheduler struct {
	db     *database.Adapter
	engine *Engine
	ws     *WebSocketManager

	mutex      sync.RWMutex
	running    bool
	stopChan   chan struct{}
	interval   int
	lastRun    time.Time
	runCount   int
	lastPulled int

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a reconciliation scheduler.
func NewScheduler(db *database.Adapter, engine *Engine, ws *WebSocketManager) *Scheduler {
	return &Scheduler{db: db, engine: engine, ws: ws, now: time.Now}
}

// Start begins the periodic reconciliation loop.
func (s *Scheduler) Start(intervalSeconds int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}

	s.stopChan = make(chan struct{})
	s.interval = intervalSeconds
	s.running = true

	utils.LogInfo("SCHEDULER_STARTED", map[string]interface{}{
		"interval_seconds": intervalSeconds,
	})

	go s.loop(s.stopChan, time.Duration(intervalSeconds)*time.Second)
	return nil
}

// Stop halts the loop.
func (s *Scheduler) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler not running")
	}
	close(s.stopChan)
	s.running = false

	utils.LogInfo("SCHEDULER_STOPPED", nil)
	return nil
}

// Status reports the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	status := SchedulerStatus{
		Running:    s.running,
		Interval:   s.interval,
		LastRun:    s.lastRun,
		RunCount:   s.runCount,
		LastPulled: s.lastPulled,
	}
	if s.running && !s.lastRun.IsZero() {
		status.NextRun = s.lastRun.Add(time.Duration(s.interval) * time.Second)
	}
	return status
}

func (s *Scheduler) loop(stopChan chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			pulled := s.RunOnce()

			s.mutex.Lock()
			s.lastRun = s.now()
			s.runCount++
			s.lastPulled = pulled
			s.mutex.Unlock()
		}
	}
}

// RunOnce executes a single reconciliation pass and returns the number of
// tickets pulled. Tickets are visited oldest-synced first (never-synced
// ahead of everything); events with the integration disabled and tickets
// synced within their event's minimum interval are skipped.
func (s *Scheduler) RunOnce() int {
	runID := uuid.NewString()
	started := s.now()

	tickets, err := s.db.ListTicketsByStaleness(0)
	if err != nil {
		utils.LogError("SCHEDULE_LIST_FAILED", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		return 0
	}

	settingsByEvent := make(map[int]*database.EventSettings)
	pulled, failed := 0, 0

	for _, ticket := range tickets {
		if s.now().Sub(started) > passBudget {
			utils.LogWarn("SCHEDULE_BUDGET_EXCEEDED", map[string]interface{}{
				"run_id":    runID,
				"remaining": len(tickets) - pulled - failed,
			})
			break
		}

		settings, ok := settingsByEvent[ticket.EventID]
		if !ok {
			settings, err = s.db.GetEventSettings(ticket.EventID)
			if errors.Is(err, database.ErrSettingsNotFound) {
				settings = nil
			} else if err != nil {
				utils.LogError("SCHEDULE_SETTINGS_FAILED", map[string]interface{}{
					"run_id":   runID,
					"event_id": ticket.EventID,
					"error":    err.Error(),
				})
				continue
			}
			settingsByEvent[ticket.EventID] = settings
		}
		if settings == nil || !settings.Enabled {
			continue
		}

		if ticket.SyncedAt != nil && s.now().Sub(*ticket.SyncedAt) < settings.MinSyncInterval() {
			continue
		}

		if err := s.engine.Pull(ticket.EventID, ticket.ID); err != nil {
			failed++
			utils.LogError("SCHEDULE_PULL_FAILED", map[string]interface{}{
				"run_id":    runID,
				"event_id":  ticket.EventID,
				"ticket_id": ticket.ID,
				"error":     err.Error(),
			})
			continue
		}
		pulled++
	}

	result := map[string]interface{}{
		"run_id":   runID,
		"pulled":   pulled,
		"failed":   failed,
		"duration": s.now().Sub(started).String(),
	}
	utils.LogInfo("SCHEDULE_RUN_COMPLETE", result)
	s.ws.Broadcast(MsgTypeScheduleRun, result)
	return pulled
}

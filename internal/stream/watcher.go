package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"option-planner/internal/logging"
	"option-planner/internal/metrics"
	"option-planner/internal/schedule"
	"option-planner/pkg/utils"
)

// GateStatus is the payload of a gate_status event.
type GateStatus struct {
	SchedulingAllowed bool       `json:"schedulingAllowed"`
	Cutoff            time.Time  `json:"cutoff"`
	DefaultRunAt      *time.Time `json:"defaultRunAt,omitempty"`
	Label             string     `json:"label"`
	// Weekend is informational: the gate itself does not close on weekends.
	Weekend bool `json:"weekend"`
}

// StatusAt evaluates the gate at now.
func StatusAt(gate *schedule.Gate, now time.Time) GateStatus {
	st := GateStatus{
		SchedulingAllowed: gate.SchedulingAllowed(now),
		Cutoff:            gate.Cutoff(now),
		Weekend:           utils.IsWeekend(now),
	}
	if t, ok := gate.DefaultRunAt(now); ok {
		st.DefaultRunAt = &t
	}
	st.Label = utils.FormatScheduleLabel(st.DefaultRunAt, st.SchedulingAllowed)
	return st
}

// GateWatcher polls the scheduling gate and publishes a gate_status event
// whenever scheduling opens or closes. Open forms rely on it to hide their
// run-time picker at the cutoff without being re-rendered by the user.
type GateWatcher struct {
	gate     *schedule.Gate
	hub      *Hub
	interval time.Duration
	clock    func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	known   bool
	allowed bool
}

// NewGateWatcher creates a watcher. A nil clock uses time.Now.
func NewGateWatcher(gate *schedule.Gate, hub *Hub, interval time.Duration, clock func() time.Time, logger zerolog.Logger) *GateWatcher {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &GateWatcher{
		gate:     gate,
		hub:      hub,
		interval: interval,
		clock:    clock,
		logger:   logger.With().Str("component", "gate_watcher").Logger(),
	}
}

// Check evaluates the gate at now and publishes if the state changed since
// the last check. The first check always publishes.
func (w *GateWatcher) Check(now time.Time) (GateStatus, bool) {
	if _, err := utils.Normalize(now); err != nil {
		w.logger.Error().Err(err).Msg("Clock returned a malformed instant, skipping gate check")
		return GateStatus{}, false
	}
	st := StatusAt(w.gate, now)

	w.mu.Lock()
	changed := !w.known || w.allowed != st.SchedulingAllowed
	w.known = true
	w.allowed = st.SchedulingAllowed
	w.mu.Unlock()

	if !changed {
		return st, false
	}

	metrics.SetSchedulingAllowed(st.SchedulingAllowed)
	logging.LogGate(w.logger, st.SchedulingAllowed, st.Cutoff)
	w.hub.Publish(Event{Type: EventGateStatus, Time: utils.InIST(now), Data: st})
	return st, true
}

// Run checks the gate every interval until ctx is done.
func (w *GateWatcher) Run(ctx context.Context) {
	w.Check(w.clock())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(w.clock())
		}
	}
}

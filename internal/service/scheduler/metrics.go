package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
)

type alerter interface {
	Alert(subject, body string) error
}

// Metrics is the rolling SLA aggregate of the delivery pipeline. Counters
// sit behind atomics so workers update them without contention; violations
// and status transitions take a mutex.
type Metrics struct {
	cfg   config.Scheduler
	alert alerter
	clock clock.Clock

	totalScheduled atomic.Int64
	totalDelivered atomic.Int64
	totalFailed    atomic.Int64
	totalLatencyMs atomic.Int64
	peak           atomic.Int64

	mu              sync.Mutex
	status          model.SLAStatus
	violations      []model.SLAViolation
	criticalAlerted bool
}

// NewMetrics creates the SLA tracker. alert may be nil when operator alerts
// are not configured.
func NewMetrics(cfg config.Scheduler, alert alerter, clk clock.Clock) *Metrics {
	if cfg.SLAThreshold <= 0 {
		cfg.SLAThreshold = 99
	}
	if cfg.SLAFailMargin <= 0 {
		cfg.SLAFailMargin = 2
	}
	if cfg.CriticalFailureThreshold <= 0 {
		cfg.CriticalFailureThreshold = 2
	}

	return &Metrics{cfg: cfg, alert: alert, clock: clk, status: model.SLAPass}
}

// AddScheduled counts newly enqueued jobs.
func (m *Metrics) AddScheduled(n int64) {
	m.totalScheduled.Add(n)
}

// RecordDelivered counts one successful send and its processing latency.
func (m *Metrics) RecordDelivered(latency time.Duration) {
	m.totalDelivered.Add(1)
	m.totalLatencyMs.Add(latency.Milliseconds())
	m.evaluate()
}

// RecordFailed counts one terminally failed job.
func (m *Metrics) RecordFailed() {
	m.totalFailed.Add(1)
	m.evaluate()
}

// SamplePeak records the current number of in-flight sends if it is a new
// high-water mark.
func (m *Metrics) SamplePeak(active int64) {
	for {
		cur := m.peak.Load()
		if active <= cur || m.peak.CompareAndSwap(cur, active) {
			return
		}
	}
}

// Snapshot returns a point-in-time copy of the aggregate.
func (m *Metrics) Snapshot() model.SLAMetrics {
	delivered := m.totalDelivered.Load()
	failed := m.totalFailed.Load()
	completed := delivered + failed

	snap := model.SLAMetrics{
		TotalScheduled:  m.totalScheduled.Load(),
		TotalDelivered:  delivered,
		TotalFailed:     failed,
		PeakConcurrency: m.peak.Load(),
	}
	if completed > 0 {
		snap.DeliveryRate = float64(delivered) / float64(completed) * 100
	}
	if delivered > 0 {
		snap.AvgDeliveryTime = time.Duration(m.totalLatencyMs.Load()/delivered) * time.Millisecond
	}

	m.mu.Lock()
	snap.Status = m.status
	snap.Violations = append([]model.SLAViolation(nil), m.violations...)
	m.mu.Unlock()

	return snap
}

// evaluate recomputes the SLA verdict over completed attempts and raises
// alerts on downward transitions and critical failure rates.
func (m *Metrics) evaluate() {
	delivered := m.totalDelivered.Load()
	failed := m.totalFailed.Load()
	completed := delivered + failed
	if completed == 0 {
		return
	}

	deliveryRate := float64(delivered) / float64(completed) * 100
	failureRate := float64(failed) / float64(completed) * 100

	status := model.SLAPass
	switch {
	case deliveryRate >= m.cfg.SLAThreshold:
		status = model.SLAPass
	case deliveryRate >= m.cfg.SLAThreshold-m.cfg.SLAFailMargin:
		status = model.SLAAtRisk
	default:
		status = model.SLAFail
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if status != m.status {
		prev := m.status
		m.status = status

		if status != model.SLAPass {
			m.addViolation("delivery_rate", deliveryRate, m.cfg.SLAThreshold)
			m.notify(
				fmt.Sprintf("delivery SLA %s", status),
				fmt.Sprintf("delivery rate %.2f%% dropped below threshold %.2f%% (was %s)", deliveryRate, m.cfg.SLAThreshold, prev),
			)
		}
	}

	if failureRate > m.cfg.CriticalFailureThreshold {
		if !m.criticalAlerted {
			m.criticalAlerted = true
			m.addViolation("failure_rate", failureRate, m.cfg.CriticalFailureThreshold)
			m.notify(
				"critical delivery failure rate",
				fmt.Sprintf("failure rate %.2f%% exceeds critical threshold %.2f%%", failureRate, m.cfg.CriticalFailureThreshold),
			)
		}
	} else {
		m.criticalAlerted = false
	}
}

func (m *Metrics) addViolation(metric string, value, threshold float64) {
	m.violations = append(m.violations, model.SLAViolation{
		Time:      m.clock.Now(),
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
	})
}

func (m *Metrics) notify(subject, body string) {
	zlog.Logger.Warn().Str("subject", subject).Msg(body)

	if m.alert == nil {
		return
	}
	if err := m.alert.Alert(subject, body); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to send alert")
	}
}

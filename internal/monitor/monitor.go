package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safevision/internal/alert"
	"safevision/internal/config"
	"safevision/pkg/log"
)

const (
	MetricCPU           = "cpu_percent"
	MetricMemory        = "memory_percent"
	MetricDisk          = "disk_percent"
	MetricQueueSize     = "queue_size"
	MetricProcessingLag = "processing_lag"
)

var metricAlertTypes = map[string]alert.Type{
	MetricCPU:           alert.TypeCPU,
	MetricMemory:        alert.TypeMemory,
	MetricDisk:          alert.TypeDisk,
	MetricQueueSize:     alert.TypeQueueSize,
	MetricProcessingLag: alert.TypeProcessingLag,
}

var metricDescriptions = map[string]string{
	MetricCPU:           "CPU usage",
	MetricMemory:        "Memory usage",
	MetricDisk:          "Disk usage",
	MetricQueueSize:     "Queue size",
	MetricProcessingLag: "Processing lag",
}

// Raiser is the part of the alert dispatcher the monitor reports to.
type Raiser interface {
	Raise(a alert.Alert) bool
}

// ThresholdPatch carries the levels to change for one metric. Nil levels are
// left as they are.
type ThresholdPatch struct {
	Warning  *float64 `json:"warning"`
	Critical *float64 `json:"critical"`
}

// Status is the on-demand health snapshot of the host.
type Status struct {
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskPercent       float64   `json:"disk_percent"`
	DiskFreeGB        float64   `json:"disk_free_gb"`
	IsMonitoring      bool      `json:"is_monitoring"`
	Timestamp         time.Time `json:"timestamp"`
}

// Trends holds parallel series, one entry per retained sample.
type Trends struct {
	CPU        []float64   `json:"cpu"`
	Memory     []float64   `json:"memory"`
	Disk       []float64   `json:"disk"`
	QueueSizes []*int      `json:"queue_sizes"`
	Timestamps []time.Time `json:"timestamps"`
}

type point struct {
	at     time.Time
	cpu    float64
	memory float64
	disk   float64
	queue  *int
}

type Monitor struct {
	mu         sync.Mutex
	thresholds map[string]config.Threshold
	history    []point
	head       int
	size       int
	lastQueue  *int

	sampler  Sampler
	raiser   Raiser
	interval time.Duration
	now      func() time.Time
	logger   *logrus.Entry

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor(conf config.MonitorConfig, sampler Sampler, raiser Raiser) *Monitor {
	thresholds := config.DefaultThresholds()
	for metric, t := range conf.Thresholds {
		thresholds[metric] = t
	}
	historySize := conf.HistorySize
	if historySize <= 0 {
		historySize = 288
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		thresholds: thresholds,
		history:    make([]point, historySize),
		sampler:    sampler,
		raiser:     raiser,
		interval:   interval,
		now:        time.Now,
		logger:     log.ComponentLogger("monitor"),
	}
}

// Start launches the periodic sampling loop. Calling it on a running monitor
// is a no-op.
func (m *Monitor) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Infof("performance monitoring started, interval %s", m.interval)
		m.loop(ctx)
		m.logger.Info("performance monitoring stopped")
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.CheckSystem(ctx); err != nil && ctx.Err() == nil {
			m.logger.WithError(err).Error("failed to sample system performance")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckSystem takes one host sample, appends it to the history and checks it
// against the thresholds.
func (m *Monitor) CheckSystem(ctx context.Context) error {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.history[m.head] = point{
		at:     m.now(),
		cpu:    s.CPUPercent,
		memory: s.MemoryPercent,
		disk:   s.DiskPercent,
		queue:  m.lastQueue,
	}
	m.head = (m.head + 1) % len(m.history)
	if m.size < len(m.history) {
		m.size++
	}
	m.lastQueue = nil
	m.mu.Unlock()

	m.checkThreshold(MetricCPU, s.CPUPercent)
	m.checkThreshold(MetricMemory, s.MemoryPercent)
	m.checkThreshold(MetricDisk, s.DiskPercent)
	return nil
}

// CheckQueuePerformance checks the deeper of the two pipeline queues. The
// depth is also kept for the next history sample.
func (m *Monitor) CheckQueuePerformance(incoming, outgoing int) {
	depth := max(incoming, outgoing)
	m.mu.Lock()
	m.lastQueue = &depth
	m.mu.Unlock()
	m.checkThreshold(MetricQueueSize, float64(depth))
}

// CheckProcessingLag checks how long a frame waited between receipt and
// analysis, in seconds.
func (m *Monitor) CheckProcessingLag(seconds float64) {
	m.checkThreshold(MetricProcessingLag, seconds)
}

func (m *Monitor) checkThreshold(metric string, value float64) {
	m.mu.Lock()
	t, ok := m.thresholds[metric]
	m.mu.Unlock()
	if !ok {
		return
	}

	var severity alert.Severity
	var limit float64
	var level string
	switch {
	case value >= t.Critical:
		severity, limit, level = alert.SeverityCritical, t.Critical, "critically high"
	case value >= t.Warning:
		severity, limit, level = alert.SeverityWarning, t.Warning, "high"
	default:
		return
	}

	m.raiser.Raise(alert.Alert{
		Type:      metricAlertTypes[metric],
		Severity:  severity,
		Message:   fmt.Sprintf("%s is %s: %.1f%s", metricDescriptions[metric], level, value, unit(metric)),
		Value:     value,
		Threshold: limit,
		Source:    alert.SourceSystem,
	})
}

func unit(metric string) string {
	switch {
	case strings.HasSuffix(metric, "_percent"):
		return "%"
	case metric == MetricProcessingLag:
		return "s"
	}
	return ""
}

// UpdateThresholds merges patch into the threshold table. Metrics the monitor
// does not know are ignored.
func (m *Monitor) UpdateThresholds(patch map[string]ThresholdPatch) map[string]config.Threshold {
	m.mu.Lock()
	defer m.mu.Unlock()
	for metric, p := range patch {
		t, ok := m.thresholds[metric]
		if !ok {
			m.logger.Warnf("ignoring thresholds for unknown metric %q", metric)
			continue
		}
		if p.Warning != nil {
			t.Warning = *p.Warning
		}
		if p.Critical != nil {
			t.Critical = *p.Critical
		}
		m.thresholds[metric] = t
	}
	m.logger.Infof("performance thresholds updated: %v", m.thresholds)
	return m.thresholdsLocked()
}

func (m *Monitor) Thresholds() map[string]config.Threshold {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholdsLocked()
}

func (m *Monitor) thresholdsLocked() map[string]config.Threshold {
	out := make(map[string]config.Threshold, len(m.thresholds))
	for k, v := range m.thresholds {
		out[k] = v
	}
	return out
}

// GetTrends returns the samples taken within the last hours, oldest first.
func (m *Monitor) GetTrends(hours float64) Trends {
	cutoff := m.now().Add(-time.Duration(hours * float64(time.Hour)))

	m.mu.Lock()
	defer m.mu.Unlock()

	tr := Trends{
		CPU:        []float64{},
		Memory:     []float64{},
		Disk:       []float64{},
		QueueSizes: []*int{},
		Timestamps: []time.Time{},
	}
	start := (m.head - m.size + len(m.history)) % len(m.history)
	for i := 0; i < m.size; i++ {
		p := m.history[(start+i)%len(m.history)]
		if p.at.Before(cutoff) {
			continue
		}
		tr.CPU = append(tr.CPU, p.cpu)
		tr.Memory = append(tr.Memory, p.memory)
		tr.Disk = append(tr.Disk, p.disk)
		tr.QueueSizes = append(tr.QueueSizes, p.queue)
		tr.Timestamps = append(tr.Timestamps, p.at)
	}
	return tr
}

// CurrentStatus samples the host once without touching the history.
func (m *Monitor) CurrentStatus(ctx context.Context) (Status, error) {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		CPUPercent:        s.CPUPercent,
		MemoryPercent:     s.MemoryPercent,
		MemoryAvailableGB: round2(float64(s.MemoryAvailable) / gib),
		DiskPercent:       s.DiskPercent,
		DiskFreeGB:        round2(float64(s.DiskFree) / gib),
		IsMonitoring:      m.IsMonitoring(),
		Timestamp:         m.now(),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

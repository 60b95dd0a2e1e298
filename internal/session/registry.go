package session

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/metrics"
	"safevision/pkg/log"
)

// Worker is the inference pipeline the registry starts for the first session
// and stops after the last one leaves.
type Worker interface {
	StartProcessing()
	StopProcessing() error
	IsProcessing() bool
}

// SummarySink receives the summary of every finished session.
type SummarySink interface {
	SaveSessionSummary(ctx context.Context, summary dao.SessionSummary) error
}

type Registry struct {
	store  Store
	worker Worker
	sink   SummarySink
	conf   config.SessionConfig
	logger *logrus.Entry
	now    func() time.Time

	// lifecycleMu orders connect and disconnect so that the worker start and
	// stop decisions see a consistent session count.
	lifecycleMu sync.Mutex

	mu                   sync.Mutex
	totalSessions        int64
	totalFramesProcessed int64
	lastActivity         time.Time
}

func NewRegistry(conf config.SessionConfig, store Store, worker Worker, sink SummarySink) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		store:  store,
		worker: worker,
		sink:   sink,
		conf:   conf,
		logger: log.ComponentLogger("session"),
		now:    time.Now,
	}
}

// Connect registers a new active session. An empty id gets a generated one.
// The first active session starts the worker.
func (r *Registry) Connect(id, userAgent, clientAddr string) (Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if userAgent == "" {
		userAgent = "Unknown"
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.conf.MaxConcurrent > 0 && r.store.Len() >= r.conf.MaxConcurrent {
		return Session{}, ErrTooManySessions
	}

	now := r.now()
	s := Session{
		Id:           id,
		StartTime:    now,
		LastActivity: now,
		UserAgent:    userAgent,
		ClientAddr:   clientAddr,
	}
	if err := r.store.Create(s); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.totalSessions++
	r.lastActivity = now
	r.mu.Unlock()

	active := r.store.Len()
	metrics.ActiveSessions.Set(float64(active))
	r.logger.WithFields(logrus.Fields{
		log.CtxSessionId: id,
		"addr":           clientAddr,
	}).Infof("client connected, %d active", active)

	if r.worker != nil && !r.worker.IsProcessing() {
		r.worker.StartProcessing()
		r.logger.Info("frame processing started for new session")
	}
	return s, nil
}

// Disconnect removes the session, hands its summary to the sink and stops the
// worker when no session is left.
func (r *Registry) Disconnect(ctx context.Context, id string) (dao.SessionSummary, error) {
	r.lifecycleMu.Lock()
	s, err := r.store.Remove(id)
	if err != nil {
		r.lifecycleMu.Unlock()
		return dao.SessionSummary{}, err
	}
	active := r.store.Len()
	metrics.ActiveSessions.Set(float64(active))
	if active == 0 && r.worker != nil {
		r.logger.Info("no active sessions, stopping frame processing")
		if err := r.worker.StopProcessing(); err != nil {
			r.logger.WithError(err).Error("failed to stop frame processing")
		}
	}
	r.lifecycleMu.Unlock()

	end := r.now()
	summary := dao.SessionSummary{
		SessionId:       s.Id,
		StartTime:       s.StartTime,
		EndTime:         end,
		FramesSent:      s.FramesSent,
		FramesProcessed: s.FramesProcessed,
		AlertsGenerated: s.AlertsGenerated,
		UserAgent:       s.UserAgent,
		IpAddress:       s.ClientAddr,
		DurationSeconds: int64(end.Sub(s.StartTime).Seconds()),
	}
	r.logger.WithField(log.CtxSessionId, id).Infof("session lasted %.1f seconds, processed %d frames",
		end.Sub(s.StartTime).Seconds(), s.FramesProcessed)

	if r.sink != nil {
		if err := r.sink.SaveSessionSummary(ctx, summary); err != nil {
			r.logger.WithError(err).WithField(log.CtxSessionId, id).Error("failed to save session summary")
		}
	}
	return summary, nil
}

// RecordFrame notes one inbound frame for the session.
func (r *Registry) RecordFrame(id string) error {
	now := r.now()
	err := r.store.Update(id, func(s *Session) {
		s.LastActivity = now
		s.FramesSent++
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastActivity = now
	r.mu.Unlock()
	return nil
}

// MarkProcessed counts one analyzed frame. It never lets frames processed
// overtake frames sent, and ignores sessions that already left.
func (r *Registry) MarkProcessed(id string) {
	counted := false
	_ = r.store.Update(id, func(s *Session) {
		if s.FramesProcessed < s.FramesSent {
			s.FramesProcessed++
			counted = true
		}
	})
	if !counted {
		return
	}
	r.mu.Lock()
	r.totalFramesProcessed++
	r.lastActivity = r.now()
	r.mu.Unlock()
}

// RecordAlert counts one behavior alert for the session.
func (r *Registry) RecordAlert(id string) {
	_ = r.store.Update(id, func(s *Session) {
		s.AlertsGenerated++
	})
}

func (r *Registry) Get(id string) (Session, bool) {
	return r.store.Get(id)
}

func (r *Registry) ActiveCount() int {
	return r.store.Len()
}

// GetStats reports aggregate counters and a view of every active session.
func (r *Registry) GetStats() dao.SessionStats {
	now := r.now()
	sessions := r.store.Snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	views := make([]dao.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, dao.SessionView{
			Id:                truncateId(s.Id),
			Duration:          round1(now.Sub(s.StartTime).Seconds()),
			FramesSent:        s.FramesSent,
			FramesProcessed:   s.FramesProcessed,
			AlertsGenerated:   s.AlertsGenerated,
			TimeSinceActivity: round1(now.Sub(s.LastActivity).Seconds()),
			UserAgent:         s.UserAgent,
		})
	}

	r.mu.Lock()
	stats := dao.SessionStats{
		TotalSessions:        r.totalSessions,
		ActiveCount:          len(sessions),
		TotalFramesProcessed: r.totalFramesProcessed,
		ActiveSessions:       views,
		AvgFramesPerSession:  float64(r.totalFramesProcessed) / float64(max(r.totalSessions, 1)),
	}
	if !r.lastActivity.IsZero() {
		last := r.lastActivity
		stats.LastActivity = &last
	}
	r.mu.Unlock()

	if r.worker != nil {
		stats.ProcessingStatus = r.worker.IsProcessing()
	}
	return stats
}

// ReapIdle disconnects every session idle for longer than the configured
// timeout and returns their ids.
func (r *Registry) ReapIdle(ctx context.Context) []string {
	if r.conf.IdleTimeout <= 0 {
		return nil
	}
	cutoff := r.now().Add(-r.conf.IdleTimeout)
	var reaped []string
	for _, s := range r.store.Snapshot() {
		if !s.LastActivity.Before(cutoff) {
			continue
		}
		if _, err := r.Disconnect(ctx, s.Id); err != nil {
			continue
		}
		r.logger.WithField(log.CtxSessionId, s.Id).Warnf("session idle since %s, disconnected", s.LastActivity.Format(time.RFC3339))
		reaped = append(reaped, s.Id)
	}
	return reaped
}

// RunReaper calls ReapIdle on every reap interval until ctx is done. onReap
// is told about every reaped session so the transport can close it.
func (r *Registry) RunReaper(ctx context.Context, onReap func(id string)) {
	interval := r.conf.ReapInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.ReapIdle(ctx) {
				if onReap != nil {
					onReap(id)
				}
			}
		}
	}
}

func truncateId(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

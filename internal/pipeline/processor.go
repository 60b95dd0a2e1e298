package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"safevision/internal/alert"
	"safevision/internal/analyzer"
	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/frame"
	"safevision/internal/metrics"
	"safevision/pkg/log"
)

var ErrStopTimeout = errors.New("worker did not stop in time")

// Renderer draws the overlays for analysis onto a copy of payload and encodes
// the result in format at quality.
type Renderer interface {
	Render(payload []byte, analysis dao.AnalysisResult, suspicion int, format string, quality int) ([]byte, error)
}

// Tracker is told about per-session progress of the worker.
type Tracker interface {
	MarkProcessed(sessionID string)
	RecordAlert(sessionID string)
}

type Raiser interface {
	Raise(a alert.Alert) bool
}

// LoadChecker receives queue depth and lag readings from the worker.
type LoadChecker interface {
	CheckQueuePerformance(incoming, outgoing int)
	CheckProcessingLag(seconds float64)
}

// DetectionRecorder keeps a record of every analyzed frame.
type DetectionRecorder interface {
	RecordDetection(ctx context.Context, sessionID string, analysis dao.AnalysisResult, frameSize int) error
}

// Deps are the collaborators of a Processor. Only Analyzer and Validate are
// required.
type Deps struct {
	Analyzer   analyzer.Analyzer
	Validate   frame.Validator
	Renderer   Renderer
	Alerts     Raiser
	Monitor    LoadChecker
	Detections DetectionRecorder
}

// Processor owns the two frame queues and the single inference worker that
// moves frames between them.
type Processor struct {
	conf        config.PipelineConfig
	snapshotDir string
	incoming    *frame.Queue[*frame.Envelope]
	outgoing    *frame.Queue[*frame.ProcessedFrame]
	analyzer    analyzer.Analyzer
	validate    frame.Validator
	renderer    Renderer
	alerts      Raiser
	monitor     LoadChecker
	detections  DetectionRecorder
	tracker     Tracker
	logger      *logrus.Entry
	now         func() time.Time

	suspicion atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewProcessor(conf config.PipelineConfig, snapshotDir string, deps Deps) (*Processor, error) {
	if deps.Analyzer == nil {
		return nil, errors.New("pipeline needs an analyzer")
	}
	if deps.Validate == nil {
		return nil, errors.New("pipeline needs a frame validator")
	}
	if conf.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", conf.QueueSize)
	}
	policy, err := frame.ParseDropPolicy(conf.DropPolicy)
	if err != nil {
		return nil, err
	}
	if conf.DequeueTimeout <= 0 {
		conf.DequeueTimeout = time.Second
	}
	if conf.StopTimeout <= 0 {
		conf.StopTimeout = 5 * time.Second
	}
	if conf.DeliveryFormat == "" {
		conf.DeliveryFormat = "jpeg"
	}
	if conf.Quality <= 0 || conf.Quality > 100 {
		conf.Quality = 80
	}

	return &Processor{
		conf:        conf,
		snapshotDir: snapshotDir,
		incoming:    frame.NewQueue[*frame.Envelope](conf.QueueSize, policy),
		outgoing:    frame.NewQueue[*frame.ProcessedFrame](conf.QueueSize, policy),
		analyzer:    analyzer.NewSerialized(deps.Analyzer),
		validate:    deps.Validate,
		renderer:    deps.Renderer,
		alerts:      deps.Alerts,
		monitor:     deps.Monitor,
		detections:  deps.Detections,
		logger:      log.ComponentLogger("pipeline"),
		now:         time.Now,
	}, nil
}

// SetTracker attaches the session tracker. It must be called before the
// worker is started.
func (p *Processor) SetTracker(t Tracker) {
	p.tracker = t
}

// Submit validates the client input and offers it to the incoming queue
// without blocking. A full queue is reported as (false, nil).
func (p *Processor) Submit(in frame.Input, sessionID string) (bool, error) {
	payload := frame.Payload(in)
	format, err := p.validate(payload)
	if err != nil {
		metrics.FramesSubmitted.WithLabelValues("invalid").Inc()
		if !errors.Is(err, frame.ErrInvalidFrame) {
			err = fmt.Errorf("%w: %v", frame.ErrInvalidFrame, err)
		}
		return false, err
	}

	env := frame.NewEnvelope(sessionID, in, format)
	env.ReceivedAt = p.now()
	if !p.incoming.TryPush(env) {
		metrics.FramesSubmitted.WithLabelValues("dropped").Inc()
		metrics.FramesDropped.WithLabelValues("incoming").Inc()
		p.logger.WithField(log.CtxSessionId, sessionID).Debug("incoming queue full, frame dropped")
		return false, nil
	}
	metrics.FramesSubmitted.WithLabelValues("accepted").Inc()
	metrics.QueueDepth.WithLabelValues("incoming").Set(float64(p.incoming.Len()))
	return true, nil
}

// Retrieve takes one processed frame if one is ready.
func (p *Processor) Retrieve() (*frame.ProcessedFrame, bool) {
	pf, ok := p.outgoing.TryPop()
	if ok {
		metrics.QueueDepth.WithLabelValues("outgoing").Set(float64(p.outgoing.Len()))
	}
	return pf, ok
}

// Next blocks until a processed frame is ready or ctx is done.
func (p *Processor) Next(ctx context.Context) (*frame.ProcessedFrame, error) {
	pf, err := p.outgoing.Next(ctx)
	if err == nil {
		metrics.QueueDepth.WithLabelValues("outgoing").Set(float64(p.outgoing.Len()))
	}
	return pf, err
}

// StartProcessing launches the worker. It is a no-op while the worker runs.
// After a stop that timed out, the new worker waits for the old one to exit.
func (p *Processor) StartProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev, done := p.done, make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true
	metrics.WorkerRunning.Set(1)

	go func() {
		defer close(done)
		// a worker that outlived a timed out stop keeps the queue to itself
		if prev != nil {
			<-prev
		}
		p.logger.Info("frame processing started")
		p.loop(ctx)
		p.logger.Info("frame processing stopped")
	}()
}

// StopProcessing signals the worker and waits up to the stop timeout for it to
// exit. Both queues are drained once the worker is gone. Calling it on a
// stopped processor is a no-op.
func (p *Processor) StopProcessing() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	metrics.WorkerRunning.Set(0)

	timer := time.NewTimer(p.conf.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return ErrStopTimeout
	}

	in, out := p.incoming.Drain(), p.outgoing.Drain()
	metrics.QueueDepth.WithLabelValues("incoming").Set(0)
	metrics.QueueDepth.WithLabelValues("outgoing").Set(0)
	if in+out > 0 {
		p.logger.Infof("discarded %d incoming and %d processed frames", in, out)
	}
	return nil
}

func (p *Processor) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SuspicionLevel is the running 0..100 level shown on the overlay.
func (p *Processor) SuspicionLevel() int {
	return int(p.suspicion.Load())
}

func (p *Processor) QueueStatus() dao.QueueStatus {
	return dao.QueueStatus{
		IsProcessing:       p.IsProcessing(),
		IncomingQueueSize:  p.incoming.Len(),
		ProcessedQueueSize: p.outgoing.Len(),
		MaxQueueSize:       p.incoming.Cap(),
		IncomingDropped:    p.incoming.Dropped(),
		OutgoingDropped:    p.outgoing.Dropped(),
	}
}

func (p *Processor) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := p.incoming.Pop(ctx, p.conf.DequeueTimeout)
		if !ok {
			continue
		}
		// a dequeued frame runs to completion even if a stop arrives meanwhile
		p.process(context.WithoutCancel(ctx), env)
	}
}

func (p *Processor) process(ctx context.Context, env *frame.Envelope) {
	logger := p.logger.WithField(log.CtxSessionId, env.SessionID)
	start := p.now()
	if p.monitor != nil && !env.ReceivedAt.IsZero() {
		p.monitor.CheckProcessingLag(start.Sub(env.ReceivedAt).Seconds())
	}

	res := p.analyzer.Analyze(ctx, env.Payload)
	elapsed := p.now().Sub(start)
	metrics.InferenceSeconds.Observe(elapsed.Seconds())
	if res.Err != nil {
		metrics.AnalysisFailures.Inc()
		logger.WithError(res.Err).Warn("analysis failed, treating frame as no detection")
	}
	analysis := res.OrNeutral()
	if analysis.ProcessingTimeMs == 0 {
		analysis.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000
	}
	level := p.updateSuspicion(analysis.BehaviorDetected)
	metrics.FramesProcessed.Inc()

	encoded, format := p.render(logger, env, analysis, level)
	pf := &frame.ProcessedFrame{
		SessionID: env.SessionID,
		Encoded:   encoded,
		Format:    format,
		Analysis:  analysis,
		Timestamp: env.Timestamp,
		FrameID:   env.FrameID,
	}
	if !p.outgoing.TryPush(pf) {
		metrics.FramesDropped.WithLabelValues("outgoing").Inc()
		logger.Debug("outgoing queue full, processed frame dropped")
	}

	if analysis.BehaviorDetected {
		if p.conf.SaveSnapshots && p.snapshotDir != "" {
			if _, err := p.saveSnapshot(env, analysis); err != nil {
				logger.WithError(err).Error("failed to save behavior snapshot")
			}
		}
		if p.alerts != nil {
			p.alerts.Raise(alert.Behavior(env.SessionID, analysis))
		}
		if p.tracker != nil {
			p.tracker.RecordAlert(env.SessionID)
		}
	}

	if p.detections != nil {
		if err := p.detections.RecordDetection(ctx, env.SessionID, analysis, len(env.Payload)); err != nil {
			logger.WithError(err).Warn("failed to record detection")
		}
	}
	if p.tracker != nil {
		p.tracker.MarkProcessed(env.SessionID)
	}

	in, out := p.incoming.Len(), p.outgoing.Len()
	metrics.QueueDepth.WithLabelValues("incoming").Set(float64(in))
	metrics.QueueDepth.WithLabelValues("outgoing").Set(float64(out))
	if p.monitor != nil {
		p.monitor.CheckQueuePerformance(in, out)
	}
}

// render falls back to the raw payload when there is no renderer or when
// drawing fails, so the client still gets a frame.
func (p *Processor) render(logger *logrus.Entry, env *frame.Envelope, analysis dao.AnalysisResult, level int) ([]byte, string) {
	if p.renderer == nil {
		return env.Payload, env.Format
	}
	encoded, err := p.renderer.Render(env.Payload, analysis, level, p.conf.DeliveryFormat, env.Quality(p.conf.Quality))
	if err != nil {
		logger.WithError(err).Warn("failed to render overlays, delivering raw frame")
		return env.Payload, env.Format
	}
	return encoded, p.conf.DeliveryFormat
}

func (p *Processor) updateSuspicion(detected bool) int {
	delta := int32(-1)
	if detected {
		delta = 5
	}
	for {
		cur := p.suspicion.Load()
		next := min(max(cur+delta, 0), 100)
		if p.suspicion.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

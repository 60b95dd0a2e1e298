package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"safevision/internal/config"
	"safevision/internal/dao"
)

type fakeWorker struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (w *fakeWorker) StartProcessing() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	w.starts++
}

func (w *fakeWorker) StopProcessing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.stops++
	return nil
}

func (w *fakeWorker) IsProcessing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

type fakeSink struct {
	mu        sync.Mutex
	summaries []dao.SessionSummary
	err       error
}

func (f *fakeSink) SaveSessionSummary(ctx context.Context, s dao.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return f.err
}

func newTestRegistry(conf config.SessionConfig) (*Registry, *fakeWorker, *fakeSink, *time.Time) {
	w := &fakeWorker{}
	sink := &fakeSink{}
	r := NewRegistry(conf, NewMemoryStore(), w, sink)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, w, sink, &now
}

func TestWorkerFollowsSessionCount(t *testing.T) {
	r, w, sink, _ := newTestRegistry(config.SessionConfig{})
	ctx := context.Background()

	_, err := r.Connect("a", "ua", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, w.IsProcessing())

	_, err = r.Connect("b", "ua", "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, 1, w.starts)

	_, err = r.Disconnect(ctx, "a")
	require.NoError(t, err)
	require.True(t, w.IsProcessing())

	_, err = r.Disconnect(ctx, "b")
	require.NoError(t, err)
	require.False(t, w.IsProcessing())
	require.Equal(t, 1, w.stops)
	require.Len(t, sink.summaries, 2)
}

func TestConnectRejectsDuplicateAndOverCap(t *testing.T) {
	r, _, _, _ := newTestRegistry(config.SessionConfig{MaxConcurrent: 2})

	_, err := r.Connect("a", "", "")
	require.NoError(t, err)
	_, err = r.Connect("a", "", "")
	require.ErrorIs(t, err, ErrSessionExists)
	_, err = r.Connect("b", "", "")
	require.NoError(t, err)
	_, err = r.Connect("c", "", "")
	require.ErrorIs(t, err, ErrTooManySessions)

	require.Equal(t, int64(2), r.GetStats().TotalSessions)
}

func TestConnectGeneratesId(t *testing.T) {
	r, _, _, _ := newTestRegistry(config.SessionConfig{})
	s, err := r.Connect("", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, s.Id)
	require.Equal(t, "Unknown", s.UserAgent)
}

func TestDisconnectUnknownSession(t *testing.T) {
	r, w, sink, _ := newTestRegistry(config.SessionConfig{})
	_, err := r.Disconnect(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Zero(t, w.stops)
	require.Empty(t, sink.summaries)
}

func TestSessionSummary(t *testing.T) {
	r, _, sink, now := newTestRegistry(config.SessionConfig{})
	t0 := *now
	_, err := r.Connect("session-1", "Mozilla", "10.0.0.9")
	require.NoError(t, err)

	require.NoError(t, r.RecordFrame("session-1"))
	require.NoError(t, r.RecordFrame("session-1"))
	r.MarkProcessed("session-1")
	r.RecordAlert("session-1")

	*now = t0.Add(90 * time.Second)
	sink.err = errors.New("db down")
	summary, err := r.Disconnect(context.Background(), "session-1")
	require.NoError(t, err)
	require.Equal(t, dao.SessionSummary{
		SessionId:       "session-1",
		StartTime:       t0,
		EndTime:         t0.Add(90 * time.Second),
		FramesSent:      2,
		FramesProcessed: 1,
		AlertsGenerated: 1,
		UserAgent:       "Mozilla",
		IpAddress:       "10.0.0.9",
		DurationSeconds: 90,
	}, summary)
	require.Equal(t, []dao.SessionSummary{summary}, sink.summaries)
}

func TestFramesProcessedNeverExceedsSent(t *testing.T) {
	r, _, _, _ := newTestRegistry(config.SessionConfig{})
	_, err := r.Connect("a", "", "")
	require.NoError(t, err)

	r.MarkProcessed("a")
	require.NoError(t, r.RecordFrame("a"))
	r.MarkProcessed("a")
	r.MarkProcessed("a")
	r.MarkProcessed("gone")

	s, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), s.FramesSent)
	require.Equal(t, int64(1), s.FramesProcessed)
	require.Equal(t, int64(1), r.GetStats().TotalFramesProcessed)

	require.ErrorIs(t, r.RecordFrame("gone"), ErrSessionNotFound)
}

func TestConcurrentCountersKeepInvariant(t *testing.T) {
	r, _, _, _ := newTestRegistry(config.SessionConfig{})
	r.now = time.Now
	for i := 0; i < 4; i++ {
		_, err := r.Connect(fmt.Sprintf("s%d", i), "", "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("s%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.RecordFrame(id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 300; j++ {
				r.MarkProcessed(id)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	violated := false
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		for _, v := range r.GetStats().ActiveSessions {
			if v.FramesProcessed > v.FramesSent {
				violated = true
			}
		}
	}
	require.False(t, violated)
	for _, v := range r.GetStats().ActiveSessions {
		require.Equal(t, int64(200), v.FramesSent)
	}
}

func TestGetStats(t *testing.T) {
	r, w, _, now := newTestRegistry(config.SessionConfig{})
	t0 := *now

	_, err := r.Connect("0123456789abcdef", "Firefox", "")
	require.NoError(t, err)
	*now = t0.Add(10 * time.Second)
	require.NoError(t, r.RecordFrame("0123456789abcdef"))
	r.MarkProcessed("0123456789abcdef")
	*now = t0.Add(15 * time.Second)

	stats := r.GetStats()
	require.Equal(t, int64(1), stats.TotalSessions)
	require.Equal(t, 1, stats.ActiveCount)
	require.Equal(t, 1.0, stats.AvgFramesPerSession)
	require.True(t, stats.ProcessingStatus)
	require.Equal(t, w.IsProcessing(), stats.ProcessingStatus)
	require.NotNil(t, stats.LastActivity)
	require.Equal(t, t0.Add(10*time.Second), *stats.LastActivity)
	require.Equal(t, []dao.SessionView{{
		Id:                "01234567...",
		Duration:          15,
		FramesSent:        1,
		FramesProcessed:   1,
		TimeSinceActivity: 5,
		UserAgent:         "Firefox",
	}}, stats.ActiveSessions)
}

func TestReapIdle(t *testing.T) {
	r, w, sink, now := newTestRegistry(config.SessionConfig{IdleTimeout: 30 * time.Minute})
	t0 := *now

	_, err := r.Connect("idle", "", "")
	require.NoError(t, err)
	_, err = r.Connect("busy", "", "")
	require.NoError(t, err)

	*now = t0.Add(20 * time.Minute)
	require.NoError(t, r.RecordFrame("busy"))

	*now = t0.Add(31 * time.Minute)
	require.Equal(t, []string{"idle"}, r.ReapIdle(context.Background()))
	require.Equal(t, 1, r.ActiveCount())
	require.True(t, w.IsProcessing())
	require.Len(t, sink.summaries, 1)

	*now = t0.Add(60 * time.Minute)
	require.Equal(t, []string{"busy"}, r.ReapIdle(context.Background()))
	require.False(t, w.IsProcessing())
}

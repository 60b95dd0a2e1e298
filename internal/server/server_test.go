package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"safevision/internal/alert"
	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/frame"
	"safevision/internal/monitor"
	"safevision/internal/recording"
	"safevision/internal/session"
)

type fakeSessions struct {
	mu           sync.Mutex
	connectErr   error
	connected    []string
	disconnected []string
	frames       map[string]int
}

func (f *fakeSessions) Connect(id, userAgent, clientAddr string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return session.Session{}, f.connectErr
	}
	if id == "" {
		id = "generated-id"
	}
	f.connected = append(f.connected, id)
	return session.Session{Id: id, UserAgent: userAgent, ClientAddr: clientAddr}, nil
}

func (f *fakeSessions) Disconnect(ctx context.Context, id string) (dao.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return dao.SessionSummary{SessionId: id}, nil
}

func (f *fakeSessions) RecordFrame(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames == nil {
		f.frames = map[string]int{}
	}
	f.frames[id]++
	return nil
}

func (f *fakeSessions) GetStats() dao.SessionStats {
	return dao.SessionStats{TotalSessions: 3, ActiveCount: 1, ProcessingStatus: true}
}

func (f *fakeSessions) disconnectedIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

type submitted struct {
	sessionID string
	payload   []byte
}

type fakePipeline struct {
	mu        sync.Mutex
	submitted []submitted
	out       chan *frame.ProcessedFrame
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{out: make(chan *frame.ProcessedFrame, 4)}
}

func (f *fakePipeline) Submit(in frame.Input, sessionID string) (bool, error) {
	payload := frame.Payload(in)
	if string(payload) == "not an image" {
		return false, frame.ErrInvalidFrame
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, submitted{sessionID: sessionID, payload: payload})
	return true, nil
}

func (f *fakePipeline) Next(ctx context.Context) (*frame.ProcessedFrame, error) {
	select {
	case pf := <-f.out:
		return pf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakePipeline) QueueStatus() dao.QueueStatus {
	return dao.QueueStatus{IsProcessing: true, IncomingQueueSize: 4, ProcessedQueueSize: 7, MaxQueueSize: 10}
}

func (f *fakePipeline) SuspicionLevel() int { return 35 }

func (f *fakePipeline) submissions() []submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitted(nil), f.submitted...)
}

type fakeAlerts struct {
	limit int
}

func (f *fakeAlerts) GetRecent(limit int) []alert.Alert {
	f.limit = limit
	return []alert.Alert{{ID: "cpu_1", Type: alert.TypeCPU, Severity: alert.SeverityWarning}}
}

type fakeMonitor struct {
	mu        sync.Mutex
	running   bool
	queue     [2]int
	hours     float64
	patched   map[string]monitor.ThresholdPatch
	statusErr error
}

func (f *fakeMonitor) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeMonitor) CurrentStatus(ctx context.Context) (monitor.Status, error) {
	if f.statusErr != nil {
		return monitor.Status{}, f.statusErr
	}
	return monitor.Status{CPUPercent: 12.5, MemoryPercent: 40, IsMonitoring: true}, nil
}

func (f *fakeMonitor) CheckQueuePerformance(incoming, outgoing int) {
	f.queue = [2]int{incoming, outgoing}
}

func (f *fakeMonitor) GetTrends(hours float64) monitor.Trends {
	f.hours = hours
	return monitor.Trends{CPU: []float64{1, 2}}
}

func (f *fakeMonitor) Thresholds() map[string]config.Threshold {
	return config.DefaultThresholds()
}

func (f *fakeMonitor) UpdateThresholds(patch map[string]monitor.ThresholdPatch) map[string]config.Threshold {
	f.patched = patch
	merged := config.DefaultThresholds()
	for metric, p := range patch {
		if t, ok := merged[metric]; ok && p.Warning != nil {
			t.Warning = *p.Warning
			merged[metric] = t
		}
	}
	return merged
}

type fakeRecordings struct {
	mu        sync.Mutex
	recording map[string]bool
	frames    map[string]int
	stopped   []string
	cleanup   time.Duration
}

func newFakeRecordings() *fakeRecordings {
	return &fakeRecordings{recording: map[string]bool{}, frames: map[string]int{}}
}

func (f *fakeRecordings) StartRecording(sessionID string) (dao.RecordingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording[sessionID] {
		return dao.RecordingInfo{}, recording.ErrRecordingConflict
	}
	f.recording[sessionID] = true
	return dao.RecordingInfo{SessionId: sessionID, Filename: "surveillance_" + sessionID + ".mp4", Status: dao.RecordingStatusRecording}, nil
}

func (f *fakeRecordings) StopRecording(sessionID string) (dao.RecordingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording[sessionID] {
		return dao.RecordingInfo{}, recording.ErrRecordingNotFound
	}
	delete(f.recording, sessionID)
	f.stopped = append(f.stopped, sessionID)
	return dao.RecordingInfo{SessionId: sessionID, Status: dao.RecordingStatusCompleted, FrameCount: f.frames[sessionID]}, nil
}

func (f *fakeRecordings) Status(sessionID string) (dao.RecordingInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording[sessionID] {
		return dao.RecordingInfo{}, false
	}
	return dao.RecordingInfo{SessionId: sessionID, Status: dao.RecordingStatusRecording}, true
}

func (f *fakeRecordings) IsRecording(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording[sessionID]
}

func (f *fakeRecordings) AddFrame(sessionID string, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[sessionID]++
	return true, nil
}

func (f *fakeRecordings) List() ([]dao.RecordingInfo, error) {
	return []dao.RecordingInfo{{Filename: "b.mp4"}, {Filename: "a.mp4"}}, nil
}

func (f *fakeRecordings) Path(filename string) (string, error) {
	if strings.Contains(filename, "..") {
		return "", recording.ErrInvalidFilename
	}
	return "", recording.ErrFileNotFound
}

func (f *fakeRecordings) ThumbnailPath(filename string) (string, error) {
	return "", recording.ErrFileNotFound
}

func (f *fakeRecordings) StorageInfo() (dao.StorageInfo, error) {
	return dao.StorageInfo{Directory: "/data/recordings", FileCount: 2, TotalSizeMB: 3.5}, nil
}

func (f *fakeRecordings) Delete(filename string) error {
	if filename == "bad.txt" {
		return recording.ErrInvalidFilename
	}
	if filename == "missing.mp4" {
		return recording.ErrFileNotFound
	}
	return nil
}

func (f *fakeRecordings) Cleanup(maxAge time.Duration) (dao.CleanupResult, error) {
	f.cleanup = maxAge
	return dao.CleanupResult{DeletedCount: 1, FreedMB: 2}, nil
}

type testServer struct {
	*Server
	sessions   *fakeSessions
	pipeline   *fakePipeline
	alerts     *fakeAlerts
	monitor    *fakeMonitor
	recordings *fakeRecordings
	router     *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		sessions:   &fakeSessions{},
		pipeline:   newFakePipeline(),
		alerts:     &fakeAlerts{},
		monitor:    &fakeMonitor{},
		recordings: newFakeRecordings(),
	}
	ts.Server = NewServer(config.DefaultConfig(), Deps{
		Sessions:   ts.sessions,
		Pipeline:   ts.pipeline,
		Alerts:     ts.alerts,
		Monitor:    ts.monitor,
		Recordings: ts.recordings,
	})
	ts.router = ts.SetUpRouter()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthzAndRequestId(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, w.Header().Get("X-Request-Id"), 32)

	w = ts.do(http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/system_status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		System     monitor.Status   `json:"system"`
		Processing dao.QueueStatus  `json:"processing"`
		Sessions   dao.SessionStats `json:"sessions"`
	}
	decode(t, w, &body)
	require.Equal(t, 12.5, body.System.CPUPercent)
	require.Equal(t, 7, body.Processing.ProcessedQueueSize)
	require.EqualValues(t, 3, body.Sessions.TotalSessions)
	require.Equal(t, [2]int{4, 7}, ts.monitor.queue)

	ts.monitor.statusErr = errors.New("sampling failed")
	w = ts.do(http.MethodGet, "/api/v1/system_status", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionStatsAndConfidence(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/session_stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats dao.SessionStats
	decode(t, w, &stats)
	require.True(t, stats.ProcessingStatus)

	w = ts.do(http.MethodGet, "/api/v1/confidence", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"confidence":35}`, w.Body.String())
}

func TestPerformanceAlerts(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/performance/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 10, ts.alerts.limit)
	var body struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	decode(t, w, &body)
	require.Len(t, body.Alerts, 1)

	ts.do(http.MethodGet, "/api/v1/performance/alerts?limit=3", "")
	require.Equal(t, 3, ts.alerts.limit)

	w = ts.do(http.MethodGet, "/api/v1/performance/alerts?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPerformanceTrends(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/performance/trends", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 24.0, ts.monitor.hours)

	ts.do(http.MethodGet, "/api/v1/performance/trends?hours=0.5", "")
	require.Equal(t, 0.5, ts.monitor.hours)
}

func TestThresholds(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/performance/thresholds", "")
	require.Equal(t, http.StatusOK, w.Code)
	var current map[string]config.Threshold
	decode(t, w, &current)
	require.Equal(t, 80.0, current["cpu_percent"].Warning)

	w = ts.do(http.MethodPut, "/api/v1/performance/thresholds", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPut, "/api/v1/performance/thresholds", `{"cpu_percent":{"warning":70}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success    bool                        `json:"success"`
		Thresholds map[string]config.Threshold `json:"thresholds"`
	}
	decode(t, w, &body)
	require.True(t, body.Success)
	require.Equal(t, 70.0, body.Thresholds["cpu_percent"].Warning)
	require.Equal(t, 95.0, body.Thresholds["cpu_percent"].Critical)
	require.Nil(t, ts.monitor.patched["cpu_percent"].Critical)
}

func TestMonitoringStartStop(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/performance/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, ts.monitor.running)

	w = ts.do(http.MethodPost, "/api/v1/performance/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, ts.monitor.running)
}

func TestRecordingStartStop(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/recording/start", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(http.MethodPost, "/api/v1/recording/start", `{"session_id":"../../etc"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/recording/start", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodPost, "/api/v1/recording/start", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	require.JSONEq(t, `{"error":"recording already active for this session"}`, w.Body.String())

	w = ts.do(http.MethodGet, "/api/v1/recording/status/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info dao.RecordingInfo
	decode(t, w, &info)
	require.Equal(t, dao.RecordingStatusRecording, info.Status)

	w = ts.do(http.MethodPost, "/api/v1/recording/stop", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodPost, "/api/v1/recording/stop", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/recording/status/s1", "")
	require.JSONEq(t, `{"session_id":"s1","status":"not_recording"}`, w.Body.String())
}

func TestRecordingFiles(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/recordings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list dao.RecordingList
	decode(t, w, &list)
	require.Len(t, list.Recordings, 2)

	w = ts.do(http.MethodGet, "/api/v1/recordings/missing.mp4", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(http.MethodGet, "/api/v1/recordings/missing.mp4/thumbnail", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodDelete, "/api/v1/recordings/bad.txt", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(http.MethodDelete, "/api/v1/recordings/missing.mp4", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(http.MethodDelete, "/api/v1/recordings/a.mp4", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/recording/storage_info", "")
	require.Equal(t, http.StatusOK, w.Code)
	var storage dao.StorageInfo
	decode(t, w, &storage)
	require.Equal(t, 2, storage.FileCount)
}

func TestCleanupRecordings(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/recordings/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 30*24*time.Hour, ts.recordings.cleanup)

	w = ts.do(http.MethodPost, "/api/v1/recordings/cleanup", `{"max_age_days":7}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 7*24*time.Hour, ts.recordings.cleanup)
	require.JSONEq(t, `{"deleted_count":1,"freed_mb":2}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/v1/recordings/cleanup", `{"max_age_days":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(frame.ErrInvalidFrame))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(session.ErrTooManySessions))
	require.Equal(t, http.StatusConflict, statusFor(errors.Join(errors.New("x"), recording.ErrRecordingConflict)))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/metadata"
	"safevision/pkg/log"
)

type fakeWriter struct {
	mu     sync.Mutex
	path   string
	frames int
	closed bool
}

func (w *fakeWriter) WriteFrame(payload []byte) error {
	if string(payload) == "corrupt" {
		return errors.New("failed to decode image")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return os.WriteFile(w.path, make([]byte, w.frames*1024), 0644)
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (f *fakeArchiver) ArchiveRecording(ctx context.Context, info dao.RecordingInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, info.Filename)
	return nil
}

type testManager struct {
	*Manager
	writers map[string]*fakeWriter
	thumbs  map[string][]byte
	now     *time.Time
}

func newTestManager(t *testing.T, maxFrames int, failOpen bool) *testManager {
	t.Helper()
	catalog, err := metadata.NewInMemoryMetadataDB(log.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	m, err := NewManager(t.TempDir(), config.RecordingConfig{
		FPS:             5,
		Width:           640,
		Height:          480,
		Codec:           "mp4v",
		MaxFrames:       maxFrames,
		BufferSize:      3,
		ThumbnailWidth:  160,
		ThumbnailHeight: 120,
	}, catalog, nil)
	require.NoError(t, err)

	tm := &testManager{Manager: m, writers: map[string]*fakeWriter{}, thumbs: map[string][]byte{}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tm.now = &now
	m.now = func() time.Time { return *tm.now }
	m.newWriter = func(path, codec string, fps float64, width, height int) (Writer, error) {
		if failOpen {
			return nil, errors.New("codec not available")
		}
		w := &fakeWriter{path: path}
		tm.writers[filepath.Base(path)] = w
		return w, nil
	}
	m.thumbnail = func(payload []byte, path string, width, height int) error {
		tm.thumbs[path] = payload
		return os.WriteFile(path, payload, 0644)
	}
	return tm
}

func TestStartRecordingConflict(t *testing.T) {
	m := newTestManager(t, 1500, false)

	info, err := m.StartRecording("0123456789")
	require.NoError(t, err)
	require.Equal(t, "surveillance_01234567_20240501_120000.mp4", info.Filename)
	require.Equal(t, dao.RecordingStatusRecording, info.Status)

	ok, err := m.AddFrame("0123456789", []byte("f1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.StartRecording("0123456789")
	require.ErrorIs(t, err, ErrRecordingConflict)

	st, ok := m.Status("0123456789")
	require.True(t, ok)
	require.Equal(t, 1, st.FrameCount)
}

func TestStartRecordingWriterFailure(t *testing.T) {
	m := newTestManager(t, 1500, true)

	_, err := m.StartRecording("s1")
	require.ErrorIs(t, err, ErrWriterInit)
	require.False(t, m.IsRecording("s1"))
	_, ok := m.Status("s1")
	require.False(t, ok)
}

func TestUnknownSession(t *testing.T) {
	m := newTestManager(t, 1500, false)

	ok, err := m.AddFrame("ghost", []byte("f"))
	require.False(t, ok)
	require.ErrorIs(t, err, ErrRecordingNotFound)

	_, err = m.StopRecording("ghost")
	require.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestStopRecording(t *testing.T) {
	m := newTestManager(t, 1500, false)
	t0 := *m.now

	info, err := m.StartRecording("s1")
	require.NoError(t, err)
	for _, f := range []string{"f1", "f2", "f3", "f4"} {
		ok, err := m.AddFrame("s1", []byte(f))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := m.AddFrame("s1", []byte("corrupt"))
	require.Error(t, err)
	require.False(t, ok)

	*m.now = t0.Add(12 * time.Second)
	done, err := m.StopRecording("s1")
	require.NoError(t, err)
	require.Equal(t, dao.RecordingStatusCompleted, done.Status)
	require.Equal(t, 4, done.FrameCount)
	require.Equal(t, 12.0, done.DurationSeconds)
	require.False(t, done.AutoStopped)
	require.True(t, m.writers[info.Filename].closed)

	thumb := filepath.Join(m.dir, "surveillance_s1_20240501_120000_thumb.jpg")
	require.Equal(t, thumb, done.ThumbnailPath)
	require.Equal(t, []byte("f4"), m.thumbs[thumb])

	_, err = m.StopRecording("s1")
	require.ErrorIs(t, err, ErrRecordingNotFound)

	*m.now = t0.Add(time.Minute)
	again, err := m.StartRecording("s1")
	require.NoError(t, err)
	require.Equal(t, "surveillance_s1_20240501_120100.mp4", again.Filename)
}

func TestAutoStopAtMaxFrames(t *testing.T) {
	m := newTestManager(t, 3, false)

	_, err := m.StartRecording("s1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ok, err := m.AddFrame("s1", []byte("f"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.False(t, m.IsRecording("s1"))

	ok, err := m.AddFrame("s1", []byte("f"))
	require.False(t, ok)
	require.ErrorIs(t, err, ErrRecordingNotFound)

	st, found := m.Status("s1")
	require.True(t, found)
	require.True(t, st.AutoStopped)
	require.Equal(t, 3, st.FrameCount)
	require.Equal(t, dao.RecordingStatusCompleted, st.Status)
}

func TestConcurrentAddFrameRespectsCap(t *testing.T) {
	m := newTestManager(t, 50, false)
	info, err := m.StartRecording("s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				_, _ = m.AddFrame("s1", []byte("f"))
			}
		}()
	}
	wg.Wait()

	w := m.writers[info.Filename]
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Equal(t, 50, w.frames)
	require.True(t, w.closed)
}

func TestListMergesDiskAndCatalog(t *testing.T) {
	m := newTestManager(t, 1500, false)
	t0 := *m.now

	_, err := m.StartRecording("s1")
	require.NoError(t, err)
	_, err = m.AddFrame("s1", []byte("f"))
	require.NoError(t, err)
	_, err = m.StopRecording("s1")
	require.NoError(t, err)

	*m.now = t0.Add(time.Hour)
	_, err = m.StartRecording("s2")
	require.NoError(t, err)

	legacy := filepath.Join(m.dir, "surveillance_legacy_20230101_000000.mp4")
	require.NoError(t, os.WriteFile(legacy, []byte("old"), 0644))
	old := t0.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(legacy, old, old))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "surveillance_s1_20240501_120000.mp4", list[0].Filename)
	require.Equal(t, dao.RecordingStatusCompleted, list[0].Status)
	require.Equal(t, dao.RecordingStatusArchived, list[1].Status)

	// a restarted manager still knows the finished recording through the catalog
	m.completed = map[string]dao.RecordingInfo{}
	list, err = m.List()
	require.NoError(t, err)
	require.Equal(t, dao.RecordingStatusCompleted, list[0].Status)
}

func TestDelete(t *testing.T) {
	m := newTestManager(t, 1500, false)

	_, err := m.StartRecording("s1")
	require.NoError(t, err)
	_, err = m.AddFrame("s1", []byte("f"))
	require.NoError(t, err)
	done, err := m.StopRecording("s1")
	require.NoError(t, err)

	for _, bad := range []string{"../etc/passwd.mp4", "a/b.mp4", "..", "notes.txt", ""} {
		require.ErrorIs(t, m.Delete(bad), ErrInvalidFilename, bad)
	}
	require.ErrorIs(t, m.Delete("missing.mp4"), ErrFileNotFound)

	require.NoError(t, m.Delete(done.Filename))
	_, err = os.Stat(done.Filepath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(done.ThumbnailPath)
	require.True(t, os.IsNotExist(err))

	list, err := m.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCleanup(t *testing.T) {
	m := newTestManager(t, 1500, false)
	*m.now = time.Now()

	oldPath := filepath.Join(m.dir, "surveillance_old_20230101_000000.mp4")
	require.NoError(t, os.WriteFile(oldPath, make([]byte, 1024*1024), 0644))
	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))
	freshPath := filepath.Join(m.dir, "surveillance_new_20240101_000000.mp4")
	require.NoError(t, os.WriteFile(freshPath, []byte("x"), 0644))

	res, err := m.Cleanup(30 * 24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedCount)
	require.Equal(t, 1.0, res.FreedMB)
	_, err = os.Stat(freshPath)
	require.NoError(t, err)
}

func TestArchiveAfterStop(t *testing.T) {
	m := newTestManager(t, 1500, false)
	archiver := &fakeArchiver{}
	m.archiver = archiver
	m.conf.Archive = true

	_, err := m.StartRecording("s1")
	require.NoError(t, err)
	_, err = m.AddFrame("s1", []byte("f"))
	require.NoError(t, err)
	_, err = m.StartRecording("s2")
	require.NoError(t, err)
	_, err = m.AddFrame("s2", []byte("f"))
	require.NoError(t, err)

	m.Close()
	require.False(t, m.IsRecording("s1"))
	require.False(t, m.IsRecording("s2"))
	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.archived, 2)
}

func TestThumbnailAndStorageInfo(t *testing.T) {
	m := newTestManager(t, 1500, false)

	_, err := m.StartRecording("s1")
	require.NoError(t, err)
	_, err = m.AddFrame("s1", []byte("f"))
	require.NoError(t, err)
	done, err := m.StopRecording("s1")
	require.NoError(t, err)

	thumb, err := m.ThumbnailPath(done.Filename)
	require.NoError(t, err)
	require.Equal(t, done.ThumbnailPath, thumb)
	_, err = m.ThumbnailPath("missing.mp4")
	require.ErrorIs(t, err, ErrFileNotFound)
	_, err = m.ThumbnailPath("../x.mp4")
	require.ErrorIs(t, err, ErrInvalidFilename)

	info, err := m.StorageInfo()
	require.NoError(t, err)
	require.Equal(t, 1, info.FileCount)
	require.Equal(t, m.dir, info.Directory)
	require.Nil(t, info.LastArchiveTime)

	require.NoError(t, m.catalog.(*metadata.MetadataDB).SetLastArchiveTime(1714564800))
	info, err = m.StorageInfo()
	require.NoError(t, err)
	require.NotNil(t, info.LastArchiveTime)
	require.Equal(t, int64(1714564800), *info.LastArchiveTime)
}

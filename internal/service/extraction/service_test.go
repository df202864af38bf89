package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/extract"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc/pdftest"
	"github.com/feichai0017/pdf-image-extractor/internal/utils/validator"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failKey  string
	cleanups []time.Time
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) Store(_ context.Context, r io.Reader, key string, _ int64, contentType string) (string, error) {
	if m.failKey != "" && strings.HasSuffix(key, m.failKey) {
		return "", errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return key, nil
}

func (m *memStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) CleanupBefore(_ context.Context, threshold time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, threshold)
	return nil
}

type memQueue struct {
	mu         sync.Mutex
	tasks      []*queue.Task
	statuses   map[string]*queue.TaskStatus
	history    []string
	cancelled  []string
	enqueueErr error
}

func newMemQueue() *memQueue {
	return &memQueue{statuses: map[string]*queue.TaskStatus{}}
}

func (q *memQueue) Enqueue(_ context.Context, task *queue.Task) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) GetTaskStatus(_ context.Context, taskID string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.statuses[taskID]
	if !ok {
		return nil, queue.ErrTaskNotFound
	}
	copied := *s
	return &copied, nil
}

func (q *memQueue) CancelTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, taskID)
	return nil
}

func (q *memQueue) SaveStatus(_ context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *status
	q.statuses[status.TaskID] = &copied
	q.history = append(q.history, status.Status)
	return nil
}

func newTestService(t *testing.T) (*ExtractionService, *memStorage, *memQueue) {
	t.Helper()
	store, q := newMemStorage(), newMemQueue()
	log := logger.NewTestLogger()
	svc := NewService(
		extract.NewExtractor(log, extract.Options{TempDir: t.TempDir()}),
		validator.NewPDFValidator(log, validator.ValidatorConfig{MaxFileSize: 1 << 20}),
		q, store, log,
		ServiceConfig{ProgressInterval: time.Millisecond},
	)
	return svc, store, q
}

func samplePDF() []byte {
	red := pdftest.Solid(3, 3, color.RGBA{R: 255, A: 255})
	blue := pdftest.Solid(3, 3, color.RGBA{B: 255, A: 255})
	return pdftest.Build(
		pdftest.Page{Images: map[string]pdftest.Image{"Im1": red, "Im2": blue}},
		pdftest.Page{Images: map[string]pdftest.Image{"Im1": red}},
	)
}

func TestSubmitAndHandle(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()
	data := samplePDF()

	task, err := svc.Submit(ctx, "scan.pdf", int64(len(data)), bytes.NewReader(data), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "png", task.Format)
	assert.Equal(t, "auto", task.Mode)
	assert.Equal(t, "uploads/"+task.ID+"/scan.pdf", task.SourceKey)
	assert.Equal(t, data, store.objects[task.SourceKey])

	require.Len(t, q.tasks, 1)
	queued := q.tasks[0]
	assert.Equal(t, queue.TaskTypeExtractImages, queued.Type)

	require.NoError(t, svc.HandleTask(ctx, queued))

	status, err := svc.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, 2, status.Written)
	assert.Equal(t, 1, status.Duplicates)
	assert.Contains(t, q.history, "running")

	archive, name, err := svc.GetArchive(ctx, task.ID)
	require.NoError(t, err)
	defer archive.Close()
	assert.Equal(t, "scan.pdf_extracted-images.zip", name)

	raw, err := io.ReadAll(archive)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"scan_page1_image1.png", "scan_page1_image2.png"}, names)
	assert.Equal(t, "application/zip", store.types[status.ArchiveKey])

	report, err := svc.GetReport(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, report.TaskID)
	assert.Len(t, report.Entries, 2)
	assert.Equal(t, 2, report.Metadata.PageCount)
}

func TestSubmitAllowDuplicates(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()
	data := samplePDF()

	task, err := svc.Submit(ctx, "scan.pdf", int64(len(data)), bytes.NewReader(data),
		SubmitOptions{Format: "JPG", AllowDuplicates: true, Mode: "parallel"})
	require.NoError(t, err)
	require.NoError(t, svc.HandleTask(ctx, q.tasks[0]))

	status, err := svc.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Written)
	assert.Equal(t, 0, status.Duplicates)
}

func TestSubmitRejects(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()
	data := samplePDF()

	_, err := svc.Submit(ctx, "scan.pdf", int64(len(data)), bytes.NewReader(data), SubmitOptions{Format: "webp"})
	assert.ErrorIs(t, err, extract.ErrInvalidRequest)

	_, err = svc.Submit(ctx, "scan.pdf", int64(len(data)), bytes.NewReader(data), SubmitOptions{Mode: "fast"})
	assert.ErrorIs(t, err, extract.ErrInvalidRequest)

	_, err = svc.Submit(ctx, "notes.txt", 5, strings.NewReader("hello"), SubmitOptions{})
	assert.ErrorIs(t, err, validator.ErrInvalidUpload)

	assert.Empty(t, store.objects)
	assert.Empty(t, q.tasks)
}

func TestSubmitEnqueueFailureRemovesUpload(t *testing.T) {
	svc, store, q := newTestService(t)
	q.enqueueErr = errors.New("redis down")
	data := samplePDF()

	_, err := svc.Submit(context.Background(), "scan.pdf", int64(len(data)), bytes.NewReader(data), SubmitOptions{})
	require.Error(t, err)
	assert.Empty(t, store.objects)
}

func TestHandleTaskFailures(t *testing.T) {
	t.Run("missing upload", func(t *testing.T) {
		svc, _, q := newTestService(t)
		task := &queue.Task{ID: "t1", Payload: queue.ExtractPayload{SourceKey: "uploads/t1/a.pdf", Filename: "a.pdf", Format: "png"}}

		require.Error(t, svc.HandleTask(context.Background(), task))
		assert.Equal(t, "failed", q.statuses["t1"].Status)
	})

	t.Run("corrupt document", func(t *testing.T) {
		svc, store, q := newTestService(t)
		store.objects["uploads/t2/a.pdf"] = []byte("%PDF-1.4 garbage")
		task := &queue.Task{ID: "t2", Payload: queue.ExtractPayload{SourceKey: "uploads/t2/a.pdf", Filename: "a.pdf", Size: 16, Format: "png"}}

		err := svc.HandleTask(context.Background(), task)
		assert.ErrorIs(t, err, extract.ErrOpenDocument)
		assert.Equal(t, "failed", q.statuses["t2"].Status)
		assert.NotEmpty(t, q.statuses["t2"].Error)
	})

	t.Run("archive store fails", func(t *testing.T) {
		svc, store, q := newTestService(t)
		data := samplePDF()
		store.objects["uploads/t3/a.pdf"] = data
		store.failKey = ".zip"
		task := &queue.Task{ID: "t3", Payload: queue.ExtractPayload{SourceKey: "uploads/t3/a.pdf", Filename: "a.pdf", Size: int64(len(data)), Format: "png"}}

		require.Error(t, svc.HandleTask(context.Background(), task))
		assert.Equal(t, "failed", q.statuses["t3"].Status)
	})

	t.Run("invalid task", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.ErrorIs(t, svc.HandleTask(context.Background(), &queue.Task{ID: "x"}), extract.ErrInvalidRequest)
	})
}

func TestResultsRequireCompletion(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()
	require.NoError(t, q.SaveStatus(ctx, &queue.TaskStatus{TaskID: "t1", Status: "running"}))

	_, _, err := svc.GetArchive(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = svc.GetReport(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = svc.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestCancelAndCleanup(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CancelTask(ctx, "t1"))
	assert.Equal(t, []string{"t1"}, q.cancelled)

	before := time.Now()
	require.NoError(t, svc.CleanupTasks(ctx))
	require.Len(t, store.cleanups, 1)
	assert.WithinDuration(t, before.Add(-24*time.Hour), store.cleanups[0], time.Minute)
}

func TestExtractorOptionsMapping(t *testing.T) {
	cfg := config.Default().Extractor
	opts := ExtractorOptions(cfg)
	require.NotNil(t, opts.CompressionLevel)
	assert.Equal(t, 9, *opts.CompressionLevel)
	assert.False(t, opts.DisableCanonicalize)
	assert.Equal(t, cfg.MaxImagePixels, opts.MaxImagePixels)

	cfg.CompressionLevel = 0
	cfg.Canonicalize = false
	opts = ExtractorOptions(cfg)
	assert.Equal(t, 0, *opts.CompressionLevel)
	assert.True(t, opts.DisableCanonicalize)
}

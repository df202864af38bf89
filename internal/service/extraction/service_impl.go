package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/extract"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/utils/validator"
	"github.com/feichai0017/pdf-image-extractor/pkg/converters"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeZIP  = "application/zip"
	contentTypeJSON = "application/json"
)

// ErrNotReady is returned when results are requested for an unfinished task.
var ErrNotReady = errors.New("task is not completed")

type ServiceConfig struct {
	DefaultFormat    string
	RetentionPeriod  time.Duration
	ProgressInterval time.Duration
}

var _ ExtractionProcessor = (*ExtractionService)(nil)

type ExtractionService struct {
	extractor *extract.Extractor
	validator *validator.PDFValidator
	queue     queue.Queue
	storage   storage.Storage
	converter *converters.ReportConverter
	logger    logger.Logger
	config    ServiceConfig
}

func NewService(
	extractor *extract.Extractor,
	v *validator.PDFValidator,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	cfg ServiceConfig,
) *ExtractionService {
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = string(extract.FormatPNG)
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	return &ExtractionService{
		extractor: extractor,
		validator: v,
		queue:     q,
		storage:   store,
		converter: converters.NewReportConverter(),
		logger:    log.Named("extraction"),
		config:    cfg,
	}
}

// ExtractorOptions maps the extractor section of the configuration.
func ExtractorOptions(cfg config.ExtractorConfig) extract.Options {
	return extract.Options{
		Workers:               cfg.Workers,
		ParallelPageThreshold: cfg.ParallelPageThreshold,
		ParallelSizeThreshold: cfg.ParallelSizeThreshold,
		ShutdownGrace:         cfg.ShutdownGrace,
		TempDir:               cfg.TempDir,
		MaxInMemoryBytes:      cfg.MaxInMemoryBytes,
		MemoryFraction:        cfg.MemoryFraction,
		JPEGQuality:           cfg.JPEGQuality,
		DisableCanonicalize:   !cfg.Canonicalize,
		CompressionLevel:      extract.CompressionLevel(cfg.CompressionLevel),
		MaxImagePixels:        cfg.MaxImagePixels,
	}
}

// GetService wires the service from the process configuration.
func GetService(ctx context.Context, cfg *config.Config, log logger.Logger) (*ExtractionService, *queue.AsynqQueue, error) {
	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	q, err := queue.NewAsynqQueue(cfg.Redis, cfg.Queue)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	svc := NewService(
		extract.NewExtractor(log, ExtractorOptions(cfg.Extractor)),
		validator.NewPDFValidator(log, validator.ValidatorConfig{MaxFileSize: cfg.Extractor.MaxUploadBytes}),
		q, store, log,
		ServiceConfig{
			DefaultFormat:   cfg.Extractor.Format,
			RetentionPeriod: cfg.Queue.Retention,
		},
	)
	return svc, q, nil
}

// Submit validates and stores an upload, then queues it for extraction.
func (s *ExtractionService) Submit(ctx context.Context, filename string, size int64, body io.Reader, opts SubmitOptions) (*models.ExtractionTask, error) {
	s.logger.Info("Submitting extraction",
		logger.String("filename", filename),
		logger.Int64("size", size))

	if opts.Format == "" {
		opts.Format = s.config.DefaultFormat
	}
	format, err := extract.ParseFormat(opts.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extract.ErrInvalidRequest, err)
	}
	mode, err := extract.ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}

	_, body, err = s.validator.Validate(filename, size, body)
	if err != nil {
		return nil, err
	}

	taskID := uuid.New().String()
	sourceKey := path.Join("uploads", taskID, path.Base(filename))
	if _, err := s.storage.Store(ctx, body, sourceKey, size, contentTypePDF); err != nil {
		s.logger.Error("Failed to store upload",
			logger.String("taskId", taskID),
			logger.Error(err))
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	now := time.Now()
	task := &models.ExtractionTask{
		ID:              taskID,
		Status:          models.StatusPending,
		Filename:        filename,
		Size:            size,
		Format:          string(format),
		AllowDuplicates: opts.AllowDuplicates,
		Mode:            string(mode),
		SourceKey:       sourceKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	queueTask := &queue.Task{
		ID:       taskID,
		Type:     queue.TaskTypeExtractImages,
		Priority: opts.Priority,
		Payload: queue.ExtractPayload{
			SourceKey:       sourceKey,
			Filename:        filename,
			Size:            size,
			Format:          string(format),
			AllowDuplicates: opts.AllowDuplicates,
			Mode:            string(mode),
		},
		CreatedAt: now,
	}
	if err := s.queue.Enqueue(ctx, queueTask); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err))
		if derr := s.storage.Delete(ctx, sourceKey); derr != nil {
			s.logger.Warn("Failed to remove orphaned upload", logger.Error(derr))
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	if err := s.queue.SaveStatus(ctx, &queue.TaskStatus{
		TaskID:    taskID,
		Status:    string(models.StatusPending),
		Filename:  filename,
		StartedAt: now,
	}); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", taskID),
			logger.Error(err))
	}

	s.logger.Info("Extraction task created",
		logger.String("taskId", taskID),
		logger.String("filename", filename))
	return task, nil
}

// HandleTask runs one queued extraction and stores its archive and report.
func (s *ExtractionService) HandleTask(ctx context.Context, task *queue.Task) error {
	if task == nil || task.ID == "" || task.Payload.SourceKey == "" {
		return fmt.Errorf("%w: missing task data", extract.ErrInvalidRequest)
	}
	log := logger.FromContext(ctx, s.logger).With(logger.String("filename", task.Payload.Filename))
	started := time.Now()

	status := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    string(models.StatusRunning),
		Filename:  task.Payload.Filename,
		StartedAt: started,
	}
	s.saveStatus(ctx, status)

	res, err := s.extract(ctx, task)
	if err != nil {
		status.Status = string(models.StatusFailed)
		if errors.Is(err, extract.ErrInterrupted) {
			status.Status = string(models.StatusCancelled)
		}
		status.Error = err.Error()
		status.FinishedAt = time.Now()
		// the task context may already be gone
		s.saveStatus(context.WithoutCancel(ctx), status)
		return err
	}

	prefix := path.Join("results", task.ID)
	archiveKey := path.Join(prefix, res.Filename)
	if _, err := s.storage.Store(ctx, bytes.NewReader(res.Archive), archiveKey, int64(len(res.Archive)), contentTypeZIP); err != nil {
		return s.fail(ctx, status, fmt.Errorf("failed to store archive: %w", err))
	}

	reportData, err := s.converter.Marshal(task.ID, res.Report)
	if err != nil {
		return s.fail(ctx, status, err)
	}
	reportKey := path.Join(prefix, "report.json")
	if _, err := s.storage.Store(ctx, bytes.NewReader(reportData), reportKey, int64(len(reportData)), contentTypeJSON); err != nil {
		return s.fail(ctx, status, fmt.Errorf("failed to store report: %w", err))
	}

	status.Status = string(models.StatusCompleted)
	status.Progress = 1.0
	status.ArchiveKey = archiveKey
	status.ReportKey = reportKey
	status.Written = res.Report.Written
	status.Duplicates = res.Report.Duplicates
	status.Skipped = res.Report.Skipped
	status.FinishedAt = time.Now()
	s.saveStatus(ctx, status)

	log.Info("Extraction task completed",
		logger.String("archive", archiveKey),
		logger.Int("written", res.Report.Written))
	return nil
}

func (s *ExtractionService) extract(ctx context.Context, task *queue.Task) (*extract.Result, error) {
	reader, err := s.storage.Get(ctx, task.Payload.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	defer reader.Close()

	return s.extractor.Extract(ctx, extract.Request{
		Filename:        task.Payload.Filename,
		Body:            reader,
		Size:            task.Payload.Size,
		Format:          extract.Format(task.Payload.Format),
		AllowDuplicates: task.Payload.AllowDuplicates,
		Mode:            extract.Mode(task.Payload.Mode),
		Observer:        s.progress(ctx, task),
	})
}

func (s *ExtractionService) fail(ctx context.Context, status *queue.TaskStatus, err error) error {
	status.Status = string(models.StatusFailed)
	status.Error = err.Error()
	status.FinishedAt = time.Now()
	s.saveStatus(context.WithoutCancel(ctx), status)
	return err
}

func (s *ExtractionService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.String("status", status.Status),
			logger.Error(err))
	}
}

// progressReporter saves running status at most once per interval.
type progressReporter struct {
	svc      *ExtractionService
	ctx      context.Context
	interval time.Duration

	mu    sync.Mutex
	last  time.Time
	state *queue.TaskStatus
}

func (s *ExtractionService) progress(ctx context.Context, task *queue.Task) *progressReporter {
	return &progressReporter{
		svc:      s,
		ctx:      ctx,
		interval: s.config.ProgressInterval,
		state: &queue.TaskStatus{
			TaskID:    task.ID,
			Status:    string(models.StatusRunning),
			Filename:  task.Payload.Filename,
			StartedAt: time.Now(),
		},
	}
}

func (p *progressReporter) StateChanged(extract.State) {}

func (p *progressReporter) PageDone(_ extract.PageOutcome, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done < total && time.Since(p.last) < p.interval {
		return
	}
	p.last = time.Now()
	if total > 0 {
		// leave headroom for storing the results
		p.state.Progress = 0.9 * float64(done) / float64(total)
	}
	p.svc.saveStatus(p.ctx, p.state)
}

// GetStatus 获取任务状态
func (s *ExtractionService) GetStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case "running", "active":
		taskStatus = models.StatusRunning
	case "completed":
		taskStatus = models.StatusCompleted
	case "failed":
		taskStatus = models.StatusFailed
	case "cancelled":
		taskStatus = models.StatusCancelled
	default:
		taskStatus = models.StatusPending
	}

	return &models.ExtractionTask{
		ID:         status.TaskID,
		Status:     taskStatus,
		Filename:   status.Filename,
		Progress:   status.Progress,
		Error:      status.Error,
		ArchiveKey: status.ArchiveKey,
		ReportKey:  status.ReportKey,
		Written:    status.Written,
		Duplicates: status.Duplicates,
		Skipped:    status.Skipped,
		CreatedAt:  status.StartedAt,
		UpdatedAt:  status.FinishedAt,
	}, nil
}

func (s *ExtractionService) completed(ctx context.Context, taskID string) (*models.ExtractionTask, error) {
	task, err := s.GetStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, task.Status)
	}
	return task, nil
}

// GetArchive returns the ZIP archive of a completed task and its file name.
func (s *ExtractionService) GetArchive(ctx context.Context, taskID string) (io.ReadCloser, string, error) {
	task, err := s.completed(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	reader, err := s.storage.Get(ctx, task.ArchiveKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get archive: %w", err)
	}
	return reader, path.Base(task.ArchiveKey), nil
}

func (s *ExtractionService) GetReport(ctx context.Context, taskID string) (*converters.ExtractionResult, error) {
	task, err := s.completed(ctx, taskID)
	if err != nil {
		return nil, err
	}
	reader, err := s.storage.Get(ctx, task.ReportKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	defer reader.Close()

	var result converters.ExtractionResult
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &result, nil
}

// CancelTask 取消任务
func (s *ExtractionService) CancelTask(ctx context.Context, taskID string) error {
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupTasks 清理过期任务
func (s *ExtractionService) CleanupTasks(ctx context.Context) error {
	threshold := time.Now().Add(-s.config.RetentionPeriod)
	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}
	s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
	return nil
}

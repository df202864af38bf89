package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/pdf-image-extractor/internal/extract"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

// TaskHandler runs one decoded extraction task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task *queue.Task) error
}

type ExtractionWorker struct {
	BaseWorker
	handler TaskHandler
}

type taskResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func NewExtractionWorker(cfg *Config, handler TaskHandler, log logger.Logger) (*ExtractionWorker, error) {
	if handler == nil {
		return nil, fmt.Errorf("extraction worker needs a task handler")
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}
	log = log.Named("worker")

	server := asynq.NewServer(
		cfg.Redis,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
			Logger: asynqLogger{log: log.Named("asynq")},
		},
	)

	w := &ExtractionWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		handler: handler,
	}
	w.registerHandlers()
	return w, nil
}

func (w *ExtractionWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeExtractImages, w.handleExtractImages)
}

func (w *ExtractionWorker) handleExtractImages(ctx context.Context, t *asynq.Task) error {
	task, err := queue.DecodeTask(t)
	if err != nil {
		w.logger.Error("Failed to decode task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	ctx = context.WithValue(ctx, logger.TaskIDKey, task.ID)
	ctx = logger.NewContext(ctx, w.logger)
	log := logger.FromContext(ctx, w.logger)
	log.Info("Processing extraction task",
		logger.String("filename", task.Payload.Filename),
		logger.String("format", task.Payload.Format),
		logger.Bool("allowDuplicates", task.Payload.AllowDuplicates))

	w.writeResult(t, taskResult{Status: "running"})

	if err := w.handler.HandleTask(ctx, task); err != nil {
		w.writeResult(t, taskResult{Status: "failed", Error: err.Error()})
		if permanent(err) {
			log.Warn("Extraction task failed permanently", logger.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.writeResult(t, taskResult{Status: "completed"})
	return nil
}

// permanent errors come from the request itself; retrying cannot fix them.
func permanent(err error) bool {
	return errors.Is(err, extract.ErrInvalidRequest) || errors.Is(err, extract.ErrOpenDocument)
}

func (w *ExtractionWorker) writeResult(t *asynq.Task, result taskResult) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.logger.Error("Failed to write task result", logger.Error(err))
	}
}

func (w *ExtractionWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// asynqLogger routes asynq's own messages through the structured logger.
type asynqLogger struct {
	log logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }

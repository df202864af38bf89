package extraction

import (
	"context"
	"io"

	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/pkg/converters"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

// SubmitOptions carries the per-request knobs of an extraction.
type SubmitOptions struct {
	Format          string
	AllowDuplicates bool
	Mode            string
	Priority        int
}

type ExtractionProcessor interface {
	Submit(ctx context.Context, filename string, size int64, body io.Reader, opts SubmitOptions) (*models.ExtractionTask, error)
	HandleTask(ctx context.Context, task *queue.Task) error
	GetStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error)
	GetArchive(ctx context.Context, taskID string) (io.ReadCloser, string, error)
	GetReport(ctx context.Context, taskID string) (*converters.ExtractionResult, error)
	CancelTask(ctx context.Context, taskID string) error
	CleanupTasks(ctx context.Context) error
}

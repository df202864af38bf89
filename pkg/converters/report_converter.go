package converters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feichai0017/pdf-image-extractor/internal/extract"
)

// ExtractionResult is the JSON document stored next to every archive.
type ExtractionResult struct {
	TaskID      string         `json:"taskId"`
	Status      string         `json:"status"`
	Archive     string         `json:"archive"`
	Entries     []EntryInfo    `json:"entries"`
	Skipped     []SkippedImage `json:"skipped,omitempty"`
	Metadata    ResultMetadata `json:"metadata"`
	ProcessedAt time.Time      `json:"processedAt"`
}

type EntryInfo struct {
	Name   string `json:"name"`
	Page   int    `json:"page"`
	Source string `json:"source"`
	Bytes  int    `json:"bytes"`
}

// SkippedImage covers duplicates, unreadable images and failed pages.
type SkippedImage struct {
	Page   int    `json:"page"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type ResultMetadata struct {
	FileName     string `json:"fileName"`
	Format       string `json:"format"`
	Mode         string `json:"mode"`
	OnDisk       bool   `json:"onDisk"`
	Dedup        bool   `json:"dedup"`
	PageCount    int    `json:"pageCount"`
	Written      int    `json:"written"`
	Duplicates   int    `json:"duplicates"`
	SkippedCount int    `json:"skippedCount"`
	FailedPages  int    `json:"failedPages"`
	ProcessingMs int64  `json:"processingMs"`
}

// ReportConverter flattens an extraction report.
type ReportConverter struct{}

func NewReportConverter() *ReportConverter {
	return &ReportConverter{}
}

func (c *ReportConverter) Convert(taskID string, report *extract.Report) (*ExtractionResult, error) {
	if report == nil {
		return nil, fmt.Errorf("no report to convert")
	}

	result := &ExtractionResult{
		TaskID:      taskID,
		Status:      "completed",
		Archive:     report.Archive,
		Entries:     make([]EntryInfo, 0, report.Written),
		ProcessedAt: time.Now(),
		Metadata: ResultMetadata{
			FileName:     report.Filename,
			Format:       string(report.Format),
			Mode:         string(report.Mode),
			OnDisk:       report.OnDisk,
			Dedup:        report.Dedup,
			PageCount:    report.PageCount,
			Written:      report.Written,
			Duplicates:   report.Duplicates,
			SkippedCount: report.Skipped,
			FailedPages:  report.FailedPages,
			ProcessingMs: report.Duration.Milliseconds(),
		},
	}

	for _, page := range report.Pages {
		if page.Failed {
			result.Skipped = append(result.Skipped, SkippedImage{
				Page:   page.Page,
				Reason: string(page.Reason),
				Error:  page.Error,
			})
		}
		for _, img := range page.Images {
			if img.Status == extract.ImageWritten {
				result.Entries = append(result.Entries, EntryInfo{
					Name:   img.Entry,
					Page:   page.Page,
					Source: img.Name,
					Bytes:  img.Bytes,
				})
				continue
			}
			result.Skipped = append(result.Skipped, SkippedImage{
				Page:   page.Page,
				Source: img.Name,
				Reason: string(img.Reason),
				Error:  img.Error,
			})
		}
	}
	return result, nil
}

// Marshal converts and encodes the report as indented JSON.
func (c *ReportConverter) Marshal(taskID string, report *extract.Report) ([]byte, error) {
	result, err := c.Convert(taskID, report)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

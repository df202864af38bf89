package models

import (
	"time"
)

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ExtractionTask 图片提取任务
type ExtractionTask struct {
	ID              string           `json:"id"`
	Status          ProcessingStatus `json:"status"`
	Filename        string           `json:"filename"`
	Size            int64            `json:"size"`
	Format          string           `json:"format"`
	AllowDuplicates bool             `json:"allowDuplicates"`
	Mode            string           `json:"mode,omitempty"`
	Progress        float64          `json:"progress"`
	Error           string           `json:"error,omitempty"`

	SourceKey  string `json:"sourceKey,omitempty"`
	ArchiveKey string `json:"archiveKey,omitempty"`
	ReportKey  string `json:"reportKey,omitempty"`

	Written    int `json:"written"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

const (
	workspacePattern = "image-processing-*"
	spillPattern     = "uploaded_*.pdf"
)

// MemoryProbe reports how much memory is currently available.
type MemoryProbe interface {
	Available(ctx context.Context) (uint64, error)
}

// VirtualMemoryProbe reads available memory from the operating system.
type VirtualMemoryProbe struct{}

func (VirtualMemoryProbe) Available(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read virtual memory stats: %w", err)
	}
	return vm.Available, nil
}

// StorageDecision says where a payload should be staged.
type StorageDecision struct {
	UseDisk   bool
	Reason    string
	Available uint64
}

// StorageSelector picks in-memory or temp-file loading for a payload.
type StorageSelector struct {
	maxInMemory int64
	fraction    float64
	probe       MemoryProbe
	logger      logger.Logger
}

func NewStorageSelector(maxInMemory int64, fraction float64, probe MemoryProbe, log logger.Logger) *StorageSelector {
	if probe == nil {
		probe = VirtualMemoryProbe{}
	}
	return &StorageSelector{maxInMemory: maxInMemory, fraction: fraction, probe: probe, logger: log}
}

func (s *StorageSelector) Decide(ctx context.Context, size int64) StorageDecision {
	if s.maxInMemory > 0 && size > s.maxInMemory {
		return StorageDecision{UseDisk: true, Reason: "payload exceeds in-memory ceiling"}
	}

	available, err := s.probe.Available(ctx)
	if err != nil {
		s.logger.Warn("Memory probe failed, using the in-memory ceiling only", logger.Error(err))
		return StorageDecision{Reason: "memory probe unavailable"}
	}
	if s.fraction > 0 && float64(size) > s.fraction*float64(available) {
		return StorageDecision{UseDisk: true, Reason: "payload exceeds available memory share", Available: available}
	}
	return StorageDecision{Reason: "payload fits in memory", Available: available}
}

// source is a loaded payload ready for random access.
type source struct {
	reader io.ReaderAt
	size   int64
	file   *os.File
	dir    string
}

func loadInMemory(body io.Reader) (*source, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read payload: %w", ErrOpenDocument, err)
	}
	return &source{reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

// loadOnDisk spills body into a fresh workspace under root. The workspace is
// gone again if this fails.
func loadOnDisk(root string, body io.Reader) (src *source, err error) {
	dir, err := os.MkdirTemp(root, workspacePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create workspace: %w", ErrTempStorage, err)
	}
	src = &source{dir: dir}
	defer func() {
		if err != nil {
			err = multierr.Append(err, src.release())
			src = nil
		}
	}()

	src.file, err = os.CreateTemp(dir, spillPattern)
	if err != nil {
		return src, fmt.Errorf("%w: failed to create temp file: %w", ErrTempStorage, err)
	}
	n, err := io.Copy(src.file, body)
	if err != nil {
		return src, fmt.Errorf("%w: failed to spill payload: %w", ErrTempStorage, err)
	}
	src.reader, src.size = src.file, n
	return src, nil
}

func (s *source) onDisk() bool { return s.dir != "" }

// release closes and deletes any temp file and its workspace.
func (s *source) release() error {
	var err error
	if s.file != nil {
		err = multierr.Append(err, s.file.Close())
		s.file = nil
	}
	if s.dir != "" {
		if rmErr := os.RemoveAll(s.dir); rmErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to remove workspace %s: %w", s.dir, rmErr))
		}
		s.dir = ""
	}
	return err
}

package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
)

// ArchiveWriter serializes entries into one ZIP stream. Compression happens
// outside the lock; only the raw entry write is serialized.
type ArchiveWriter struct {
	level    int
	modified time.Time
	deflater sync.Pool

	mu     sync.Mutex
	zw     *zip.Writer
	names  map[string]struct{}
	err    error
	closed bool
}

// NewArchiveWriter writes a ZIP archive to w using the given flate level.
func NewArchiveWriter(w io.Writer, level int) (*ArchiveWriter, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", level)
	}
	a := &ArchiveWriter{
		level:    level,
		modified: time.Now(),
		zw:       zip.NewWriter(w),
		names:    make(map[string]struct{}),
	}
	a.deflater.New = func() any {
		fw, _ := flate.NewWriter(io.Discard, level)
		return fw
	}
	return a, nil
}

// Append adds one entry. A duplicate name is a caller bug and panics.
// Once the underlying stream fails every later call returns that failure.
func (a *ArchiveWriter) Append(name string, payload []byte) error {
	body, method, err := a.compress(payload)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	fh := &zip.FileHeader{
		Name:               name,
		Method:             method,
		Modified:           a.modified,
		CRC32:              crc32.ChecksumIEEE(payload),
		CompressedSize64:   uint64(len(body)),
		UncompressedSize64: uint64(len(payload)),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrArchiveClosed
	}
	if a.err != nil {
		return a.err
	}
	if _, dup := a.names[name]; dup {
		panic(fmt.Sprintf("archive: duplicate entry name %q", name))
	}

	w, err := a.zw.CreateRaw(fh)
	if err != nil {
		a.err = fmt.Errorf("%w: create entry %s: %w", ErrArchive, name, err)
		return a.err
	}
	if _, err := w.Write(body); err != nil {
		a.err = fmt.Errorf("%w: write entry %s: %w", ErrArchive, name, err)
		return a.err
	}
	a.names[name] = struct{}{}
	return nil
}

// compress deflates payload, falling back to Store when that does not shrink it.
func (a *ArchiveWriter) compress(payload []byte) ([]byte, uint16, error) {
	var buf bytes.Buffer
	fw := a.deflater.Get().(*flate.Writer)
	defer a.deflater.Put(fw)

	fw.Reset(&buf)
	if _, err := fw.Write(payload); err != nil {
		return nil, 0, err
	}
	if err := fw.Close(); err != nil {
		return nil, 0, err
	}
	if buf.Len() >= len(payload) {
		return payload, zip.Store, nil
	}
	return buf.Bytes(), zip.Deflate, nil
}

// Close writes the central directory. It reports a sticky write failure
// instead of finalizing a corrupt stream.
func (a *ArchiveWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrArchiveClosed
	}
	a.closed = true
	if a.err != nil {
		return a.err
	}
	if err := a.zw.Close(); err != nil {
		a.err = fmt.Errorf("%w: %w", ErrArchive, err)
		return a.err
	}
	return nil
}

// Abort stops accepting entries without finalizing the stream.
func (a *ArchiveWriter) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Names returns the written entry names, sorted.
func (a *ArchiveWriter) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len reports how many entries were written.
func (a *ArchiveWriter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.names)
}

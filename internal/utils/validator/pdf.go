package validator

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

const (
	pdfMime   = "application/pdf"
	sniffSize = 3072
)

var pdfMagic = []byte("%PDF-")

// ErrInvalidUpload is wrapped by every rejection so callers can map it to a
// client error.
var ErrInvalidUpload = errors.New("invalid upload")

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize int64 // 最大文件大小（字节），0 表示不限制
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidUpload
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
}

// PDFValidator checks uploads before they are stored or extracted.
type PDFValidator struct {
	logger logger.Logger
	config ValidatorConfig
}

func NewPDFValidator(log logger.Logger, config ValidatorConfig) *PDFValidator {
	if log == nil {
		log = logger.NewNop()
	}
	return &PDFValidator{logger: log, config: config}
}

// Validate sniffs the head of body and returns a reader that replays it, so
// non-seekable bodies can still be consumed afterwards.
func (v *PDFValidator) Validate(filename string, size int64, body io.Reader) (*FileInfo, io.Reader, error) {
	info := &FileInfo{
		Filename:  filename,
		Size:      size,
		Extension: strings.ToLower(filepath.Ext(filename)),
	}

	if err := v.checkBasics(info); err != nil {
		v.logger.Warn("upload rejected",
			logger.String("filename", filename),
			logger.Error(err))
		return info, nil, err
	}

	br := bufio.NewReaderSize(body, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return info, nil, fmt.Errorf("failed to read upload: %w", err)
	}

	mtype := mimetype.Detect(head)
	info.MimeType = mtype.String()
	if !mtype.Is(pdfMime) || !bytes.HasPrefix(head, pdfMagic) {
		err := ValidationError{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("content type %s is not a PDF", mtype.String()),
			Field:   "mimeType",
		}
		v.logger.Warn("upload rejected",
			logger.String("filename", filename),
			logger.String("mimeType", info.MimeType))
		return info, nil, err
	}

	return info, br, nil
}

func (v *PDFValidator) checkBasics(info *FileInfo) error {
	if info.Size <= 0 {
		return ValidationError{Code: "EMPTY_FILE", Message: "file is empty", Field: "size"}
	}
	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		return ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("file size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		}
	}
	if info.Extension != ".pdf" {
		return ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
			Field:   "extension",
		}
	}
	return nil
}

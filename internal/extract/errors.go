package extract

import (
	"errors"

	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc"
)

// Fatal errors. Extract wraps every failure it returns in exactly one of these.
var (
	ErrInvalidRequest = errors.New("invalid extraction request")
	ErrOpenDocument   = errors.New("failed to open document")
	ErrTempStorage    = errors.New("failed to prepare temporary storage")
	ErrArchive        = errors.New("failed to write archive")
	ErrInterrupted    = errors.New("extraction interrupted")
)

var (
	// ErrArchiveClosed is returned by Append after Close or Abort.
	ErrArchiveClosed = errors.New("archive is closed")

	// ErrUnsupportedImage marks images whose encoding the document
	// collaborator cannot decode. They are skipped, never fatal.
	ErrUnsupportedImage = pdfdoc.ErrUnsupported

	// ErrImageTooLarge marks images over the pixel ceiling, or whose stream
	// inflates past their dimensions. They are skipped, never fatal.
	ErrImageTooLarge = pdfdoc.ErrTooLarge

	// ErrUnsupportedFormat is returned for unknown target formats.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	errPagePanic = errors.New("page task panicked")
	errDropped   = errors.New("page task dropped before start")
)

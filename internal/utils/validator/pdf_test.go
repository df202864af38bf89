package validator

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/internal/pdfdoc/pdftest"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

func TestValidateAcceptsPDF(t *testing.T) {
	data := pdftest.Build(pdftest.Page{})
	v := NewPDFValidator(logger.NewNop(), ValidatorConfig{MaxFileSize: 1 << 20})

	info, body, err := v.Validate("Report.PDF", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, ".pdf", info.Extension)
	assert.Equal(t, "application/pdf", info.MimeType)

	replayed, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, data, replayed)
}

func TestValidateRejects(t *testing.T) {
	pdf := pdftest.Build(pdftest.Page{})
	tests := []struct {
		name     string
		filename string
		size     int64
		data     []byte
		code     string
	}{
		{"empty", "a.pdf", 0, nil, "EMPTY_FILE"},
		{"too large", "a.pdf", 2 << 20, pdf, "FILE_TOO_LARGE"},
		{"extension", "a.png", int64(len(pdf)), pdf, "INVALID_FILE_TYPE"},
		{"content", "a.pdf", 11, []byte("hello world"), "INVALID_MIME_TYPE"},
	}

	log := logger.NewTestLogger()
	v := NewPDFValidator(log, ValidatorConfig{MaxFileSize: 1 << 20})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body, err := v.Validate(tt.filename, tt.size, bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.Nil(t, body)
			assert.ErrorIs(t, err, ErrInvalidUpload)

			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
		})
	}
	assert.Equal(t, len(tests), log.Count("WARN"))
}

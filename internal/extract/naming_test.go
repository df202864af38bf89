package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"doc.pdf", "doc"},
		{"/tmp/uploads/report.final.pdf", "report.final"},
		{`C:\Users\me\scan.PDF`, "scan"},
		{"noext", "noext"},
		{".hidden", ".hidden"},
		{"", "document"},
		{"dir/", "document"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseName(tt.in), tt.in)
	}
}

func TestEntryAndArchiveNames(t *testing.T) {
	assert.Equal(t, "doc_page3_image1.png", EntryName("doc", 3, 1, FormatPNG))
	assert.Equal(t, "doc_page1_image12.jpeg", EntryName("doc", 1, 12, FormatJPEG))
	assert.Equal(t, "doc.pdf_extracted-images.zip", ArchiveName("uploads/doc.pdf"))
	assert.Equal(t, "document_extracted-images.zip", ArchiveName(""))
}

package extract

import (
	"fmt"
	"path"
	"strings"
)

const (
	archiveSuffix   = "_extracted-images.zip"
	defaultBaseName = "document"
)

// BaseName strips directories and the last extension from an uploaded filename.
// Both slash styles are treated as separators since uploads come from any client.
func BaseName(filename string) string {
	name := simpleName(filename)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." {
		return defaultBaseName
	}
	return name
}

// EntryName builds the archive entry name for the ordinal-th retained image of a
// 1-based page.
func EntryName(base string, page, ordinal int, format Format) string {
	return fmt.Sprintf("%s_page%d_image%d.%s", base, page, ordinal, format)
}

// ArchiveName is the suggested download name for the archive of filename.
func ArchiveName(filename string) string {
	name := simpleName(filename)
	if name == "" || name == "." {
		name = defaultBaseName
	}
	return name + archiveSuffix
}

func simpleName(filename string) string {
	filename = strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	return filename
}

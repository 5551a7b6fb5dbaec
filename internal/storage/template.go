package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// ArchivePathData holds the values an archive path template can use.
type ArchivePathData struct {
	Series   string
	Chapter  string
	Provider string
}

// BuildPath executes the template and returns the relative path (without extension)
func BuildPath(templateStr string, data *ArchivePathData) (string, error) {
	tmpl, err := template.New("archive").Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// NewArchivePathData sanitizes every value so each one is a single path segment.
func NewArchivePathData(series, chapter, provider string) *ArchivePathData {
	s := Sanitize(series)
	if s == "" {
		s = "untitled"
	}
	return &ArchivePathData{
		Series:   s,
		Chapter:  SanitizeFilename(chapter),
		Provider: SanitizeFilename(provider),
	}
}

// BuildFullPath joins the rendered template onto root and appends ext. The
// result never escapes root.
func BuildFullPath(root, templateStr string, data *ArchivePathData, ext string) (string, error) {
	relPath, err := BuildPath(templateStr, data)
	if err != nil {
		return "", err
	}
	relPath = strings.Trim(filepath.Clean("/"+relPath), "/")
	if relPath == "" || relPath == "." {
		return "", fmt.Errorf("template %q rendered an empty path", templateStr)
	}

	return filepath.Join(root, relPath+ParseExtension(ext)), nil
}

// ParseExtension parses an extension string, ensuring it starts with a dot
func ParseExtension(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

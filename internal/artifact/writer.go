// Package artifact persists rewritten documents under a title-derived name.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"papersnap/internal/capture"
	fileutil "papersnap/internal/file"
)

const (
	Extension    = ".html"
	fallbackName = "snapshot"
	maxNameRunes = 200
)

var ErrWrite = errors.New("write artifact")

// Writer writes snapshots into one output directory.
type Writer struct {
	OutputDir string
}

func New(outputDir string) *Writer {
	return &Writer{OutputDir: outputDir}
}

// Filename derives "<cleaned title>.html" from a page title.
func Filename(title string) string {
	name := sanitize(capture.CleanTitle(title))
	if name == "" {
		name = fallbackName
	}
	return name + Extension
}

// Write serializes doc as UTF-8 to OutputDir/Filename(title). The file is
// only visible once it is complete.
func (w *Writer) Write(doc *capture.Document, title string) (string, error) {
	if err := fileutil.EnsureDir(w.OutputDir); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	rendered, err := doc.HTML()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	path := filepath.Join(w.OutputDir, Filename(title))
	err = fileutil.WriteAtomic(path, func(out io.Writer) error {
		_, err := io.WriteString(out, rendered)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrWrite, path, err)
	}
	return path, nil
}

// sanitize keeps titles readable but strips characters that cannot appear
// in a file name on common filesystems.
func sanitize(s string) string {
	var b strings.Builder
	n := 0
	for _, ch := range s {
		if n >= maxNameRunes {
			break
		}
		switch {
		case ch < 0x20:
			continue
		case strings.ContainsRune(`/\:*?"<>|`, ch):
			b.WriteRune('_')
		default:
			b.WriteRune(ch)
		}
		n++
	}
	return strings.Trim(strings.TrimSpace(b.String()), ".")
}

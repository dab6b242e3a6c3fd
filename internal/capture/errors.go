package capture

import (
	"errors"
	"fmt"
)

var (
	ErrMissingDirectory   = errors.New("missing directory")
	ErrCapture            = errors.New("capture failed")
	ErrNavigationFailed   = fmt.Errorf("%w: navigation failed", ErrCapture)
	ErrTranslationTimeout = fmt.Errorf("%w: timed out waiting for translation to finish", ErrCapture)
)

// MissingDirectoryError names the required directory that was not found.
type MissingDirectoryError struct {
	Kind string
	Path string
}

func (e *MissingDirectoryError) Error() string {
	return fmt.Sprintf("%s directory not found: %s", e.Kind, e.Path)
}

func (e *MissingDirectoryError) Unwrap() error { return ErrMissingDirectory }

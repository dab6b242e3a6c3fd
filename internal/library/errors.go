package library

import (
	"errors"
	"fmt"
)

var (
	ErrRegistration             = errors.New("library registration failed")
	ErrItemCreationFailed       = fmt.Errorf("%w: item creation failed", ErrRegistration)
	ErrAttachmentCreationFailed = fmt.Errorf("%w: attachment creation failed", ErrRegistration)
)

// RegistrationError carries the step that failed and the item it concerned.
type RegistrationError struct {
	Kind    error
	ItemKey string
	Err     error
}

func (e *RegistrationError) Error() string {
	msg := e.Kind.Error()
	if e.ItemKey != "" {
		msg += " (item " + e.ItemKey + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RegistrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

package campaign

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrValidation         = errors.New("validation failed")
	ErrRunning            = errors.New("campaign is sending; pause it first")
	ErrNoRecipients       = errors.New("campaign has no pending recipients")
	ErrMissingVariables   = errors.New("contact file is missing template variables")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
)

// MissingVariablesError lists template variables with no contact column.
type MissingVariablesError struct {
	Missing []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingVariables, strings.Join(e.Missing, ", "))
}

func (e *MissingVariablesError) Unwrap() error { return ErrMissingVariables }

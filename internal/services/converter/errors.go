package converter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a conversion failure.
type ErrorKind string

const (
	KindInvalidRequest          ErrorKind = "invalid_request"
	KindInvalidFileType         ErrorKind = "invalid_file_type"
	KindFileTooLarge            ErrorKind = "file_too_large"
	KindCorruptArchive          ErrorKind = "corrupt_archive"
	KindTooManyEntries          ErrorKind = "too_many_entries"
	KindNoValidImages           ErrorKind = "no_valid_images"
	KindVerificationNotFound    ErrorKind = "verification_not_found"
	KindVerificationFailed      ErrorKind = "verification_failed"
	KindVerificationUnreachable ErrorKind = "verification_unreachable"
	KindUnexpectedInternal      ErrorKind = "unexpected_internal"
)

// ConversionError is a failure the caller can show to the user. Message is
// safe to display; Err holds the internal cause for logs only.
type ConversionError struct {
	Kind    ErrorKind
	Archive string
	Message string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Archive != "" {
		return fmt.Sprintf("%s: %s", e.Archive, e.Message)
	}
	return e.Message
}

func (e *ConversionError) Unwrap() error { return e.Err }

// IsVerification reports whether the error came from the order check.
func (e *ConversionError) IsVerification() bool {
	switch e.Kind {
	case KindVerificationNotFound, KindVerificationFailed, KindVerificationUnreachable:
		return true
	}
	return false
}

func newArchiveError(kind ErrorKind, archive string, err error, format string, args ...any) *ConversionError {
	return &ConversionError{
		Kind:    kind,
		Archive: archive,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of the first ConversionError in err's chain, or
// KindUnexpectedInternal.
func KindOf(err error) ErrorKind {
	var cerr *ConversionError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUnexpectedInternal
}

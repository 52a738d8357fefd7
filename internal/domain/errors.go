package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateContent signals that a file with the same fingerprint is already registered.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrHeaderNotIdentifier signals a header row that cannot be mapped to canonical fields.
	ErrHeaderNotIdentifier = errors.New("header not identifier")
	// ErrDateFormatNotIdentifier signals a timestamp column no known format parses completely.
	ErrDateFormatNotIdentifier = errors.New("date format not identifier")
	// ErrIntegrity signals a storage constraint violation during bulk load.
	ErrIntegrity = errors.New("integrity error")
	// ErrIO signals an unreadable input or a failed transfer.
	ErrIO = errors.New("io error")
	// ErrAlreadyLoaded signals a load of a file another run has finished.
	ErrAlreadyLoaded = errors.New("file already loaded")
	// ErrNotFound is returned by lookups with no match.
	ErrNotFound = errors.New("not found")
)

// HeaderError carries the attempted mapping of a file whose headers could not be identified.
type HeaderError struct {
	Mapping    HeaderMapping
	Missing    []string
	Duplicates []string
}

func (e *HeaderError) Error() string {
	var parts []string
	if unresolved := e.Mapping.Unresolved(); len(unresolved) > 0 {
		parts = append(parts, fmt.Sprintf("unresolved headers: %s", strings.Join(unresolved, ", ")))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("fields claimed twice: %s", strings.Join(e.Duplicates, ", ")))
	}
	if len(parts) == 0 {
		return ErrHeaderNotIdentifier.Error()
	}
	return fmt.Sprintf("%s: %s", ErrHeaderNotIdentifier, strings.Join(parts, "; "))
}

func (e *HeaderError) Unwrap() error { return ErrHeaderNotIdentifier }

// DateFormatError names the first value no configured format could parse.
type DateFormatError struct {
	Column string
	Value  string
	Row    int
	// Line is the 1-based source line of Row, when known.
	Line int
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("%s: column %s row %d value %q matches no known format", ErrDateFormatNotIdentifier, e.Column, e.Row, e.Value)
}

func (e *DateFormatError) Unwrap() error { return ErrDateFormatNotIdentifier }

// IntegrityError wraps a rejected row or a storage constraint violation.
type IntegrityError struct {
	Detail string
	Line   int
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrIntegrity, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrIntegrity, e.Detail)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrIntegrity, e.Err}
	}
	return []error{ErrIntegrity}
}

// ReasonFor maps a pipeline error to its persisted failure reason.
func ReasonFor(err error) (FailureReason, bool) {
	switch {
	case errors.Is(err, ErrHeaderNotIdentifier):
		return FailureHeaderNotIdentifier, true
	case errors.Is(err, ErrDateFormatNotIdentifier):
		return FailureDateFormatNotIdentifier, true
	case errors.Is(err, ErrIntegrity):
		return FailureIntegrityError, true
	case errors.Is(err, ErrIO):
		return FailureIOError, true
	default:
		return "", false
	}
}

// FailedLine returns the source line a failure points at, if any.
func FailedLine(err error) *int {
	var dateErr *DateFormatError
	if errors.As(err, &dateErr) && dateErr.Line > 0 {
		line := dateErr.Line
		return &line
	}
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) && integrityErr.Line > 0 {
		line := integrityErr.Line
		return &line
	}
	return nil
}

package services

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSource         = errors.New("invalid source")
	ErrInvalidEncoding       = errors.New("invalid encoding")
	ErrNoMatchingCounterpart = errors.New("no matching counterpart")
	ErrTransfer              = errors.New("transfer failure")
	ErrMerge                 = errors.New("merge failure")
	ErrNotFound              = errors.New("not found")
	ErrNotReady              = errors.New("not ready")
	ErrAlreadyFailed         = errors.New("already failed")
	ErrEmptyList             = errors.New("empty list")
	ErrNoCompletedItems      = errors.New("no completed items")
	ErrArtifactMissing       = errors.New("artifact missing")
	ErrConfiguration         = errors.New("configuration error")
)

// ErrorKind is the stable, user-facing classification of a failure.
type ErrorKind string

const (
	KindInvalidSource         ErrorKind = "InvalidSource"
	KindInvalidEncoding       ErrorKind = "InvalidEncoding"
	KindNoMatchingCounterpart ErrorKind = "NoMatchingCounterpart"
	KindTransferFailure       ErrorKind = "TransferFailure"
	KindMergeFailure          ErrorKind = "MergeFailure"
	KindNotFound              ErrorKind = "NotFound"
	KindNotReady              ErrorKind = "NotReady"
	KindAlreadyFailed         ErrorKind = "AlreadyFailed"
	KindEmptyList             ErrorKind = "EmptyList"
	KindNoCompletedItems      ErrorKind = "NoCompletedItems"
	KindArtifactMissing       ErrorKind = "ArtifactMissing"
	KindConfiguration         ErrorKind = "Configuration"
	KindCanceled              ErrorKind = "Canceled"
	KindUnknown               ErrorKind = "Unknown"
)

var kindMarkers = []struct {
	marker error
	kind   ErrorKind
}{
	{ErrInvalidSource, KindInvalidSource},
	{ErrInvalidEncoding, KindInvalidEncoding},
	{ErrNoMatchingCounterpart, KindNoMatchingCounterpart},
	{ErrTransfer, KindTransferFailure},
	{ErrMerge, KindMergeFailure},
	{ErrNotFound, KindNotFound},
	{ErrNotReady, KindNotReady},
	{ErrAlreadyFailed, KindAlreadyFailed},
	{ErrEmptyList, KindEmptyList},
	{ErrNoCompletedItems, KindNoCompletedItems},
	{ErrArtifactMissing, KindArtifactMissing},
	{ErrConfiguration, KindConfiguration},
}

// Error carries a classification marker together with the component and
// operation that failed.
type Error struct {
	Marker    error
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Component, e.Operation, e.Message)
	text := detail
	if e.Marker != nil {
		text = e.Marker.Error() + ": " + detail
	}
	if e.Cause != nil {
		text += ": " + e.Cause.Error()
	}
	return text
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Marker != nil {
		errs = append(errs, e.Marker)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransfer
	}
	return &Error{
		Marker:    marker,
		Component: strings.TrimSpace(component),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the structured view of a failure used for logging and for
// the error detail recorded on work items.
type ErrorDetails struct {
	Kind      ErrorKind
	Component string
	Operation string
	Message   string
	Cause     error
}

// Details extracts classification and context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var wrapped *Error
	if errors.As(err, &wrapped) {
		details.Component = wrapped.Component
		details.Operation = wrapped.Operation
		details.Message = wrapped.Message
		details.Cause = wrapped.Cause
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// KindOf classifies err using the sentinel markers.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, km := range kindMarkers {
		if errors.Is(err, km.marker) {
			return km.kind
		}
	}
	if isCanceled(err) {
		return KindCanceled
	}
	return KindUnknown
}

// MarkerFor returns the sentinel for kind, or nil for kinds without one.
func MarkerFor(kind ErrorKind) error {
	for _, km := range kindMarkers {
		if km.kind == kind {
			return km.marker
		}
	}
	return nil
}

// Summary renders the short human-readable cause recorded on failed items,
// e.g. "MergeFailure: ffmpeg exited with status 1".
func Summary(err error) string {
	if err == nil {
		return ""
	}
	details := Details(err)
	message := details.Message
	if details.Cause != nil {
		if cause := strings.TrimSpace(details.Cause.Error()); cause != "" {
			message = message + ": " + cause
		}
	}
	if message == "" {
		message = "failed without error detail"
	}
	return string(details.Kind) + ": " + message
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

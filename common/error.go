package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an APIError so callers can branch on the failure class
// without string matching.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindDuplicateJob        Kind = "duplicate_job"
	KindInvalidState        Kind = "invalid_state"
	KindBrokerUnavailable   Kind = "broker_unavailable"
	KindQueueConfigMismatch Kind = "queue_config_mismatch"
	KindProcessing          Kind = "processing"
	KindInternal            Kind = "internal"
)

type APIError struct {
	Status  int            `json:"-"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, kind, message, and optional fields
func NewAPIError(status int, kind Kind, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Kind:    kind,
		Message: message,
		Fields:  fields,
	}
}

func ValidationErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusBadRequest, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusNotFound, Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func DuplicateJobErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusConflict, Kind: KindDuplicateJob, Message: fmt.Sprintf(format, args...)}
}

func InvalidStateErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusConflict, Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func BrokerUnavailableErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusServiceUnavailable, Kind: KindBrokerUnavailable, Message: fmt.Sprintf(format, args...)}
}

func QueueConfigMismatchErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusConflict, Kind: KindQueueConfigMismatch, Message: fmt.Sprintf(format, args...)}
}

func ProcessingErrf(format string, args ...any) APIError {
	return APIError{Status: http.StatusInternalServerError, Kind: KindProcessing, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind carried by err, or KindInternal if err is not an
// APIError.
func KindOf(err error) Kind {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

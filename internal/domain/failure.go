package domain

import (
	"fmt"
	"net/http"
)

// ErrorKind groups failures by who has to act on them
type ErrorKind string

const (
	KindUserError   ErrorKind = "user_error"
	KindAuthError   ErrorKind = "auth_error"
	KindServerError ErrorKind = "server_error"
)

// Failure is the recorded outcome of a failed job
type Failure struct {
	Kind    ErrorKind
	Code    int
	Message string
}

// FailureReason identifies a known conversion failure
type FailureReason string

const (
	ReasonInvalidPassword     FailureReason = "invalid_password"
	ReasonEmptyInput          FailureReason = "empty_input"
	ReasonMalformedPath       FailureReason = "malformed_path"
	ReasonMissingValue        FailureReason = "missing_value"
	ReasonUnsupportedFileType FailureReason = "unsupported_file_type"
	ReasonCorruptArchive      FailureReason = "corrupt_archive"
)

var reasonFailures = map[FailureReason]Failure{
	ReasonInvalidPassword:     {Kind: KindAuthError, Code: http.StatusUnauthorized, Message: "You have passed an incorrect password"},
	ReasonEmptyInput:          {Kind: KindUserError, Code: http.StatusBadRequest, Message: "Please provide a PDF file as input"},
	ReasonMalformedPath:       {Kind: KindUserError, Code: http.StatusBadRequest, Message: "Please provide a valid file path"},
	ReasonMissingValue:        {Kind: KindUserError, Code: http.StatusBadRequest, Message: "Please provide a proper input value"},
	ReasonUnsupportedFileType: {Kind: KindUserError, Code: http.StatusBadRequest, Message: "Please provide a proper input value"},
	ReasonCorruptArchive:      {Kind: KindUserError, Code: http.StatusBadRequest, Message: "Please provide a proper input value"},
}

// FailureFor returns the recorded failure for a known reason
func FailureFor(reason FailureReason) (Failure, bool) {
	f, ok := reasonFailures[reason]
	return f, ok
}

// ServerFailure builds the default failure, keeping the original message
func ServerFailure(code int, message string) Failure {
	return Failure{Kind: KindServerError, Code: code, Message: message}
}

// ConversionError is returned by a converter when the conversion itself fails
type ConversionError struct {
	Reason  FailureReason
	Message string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("conversion failed: %s", e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

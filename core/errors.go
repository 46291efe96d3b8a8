package core

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	// State store errors
	ErrRunAlreadyExists = errors.New("run already exists")
	ErrJobLockedByOther = errors.New("job locked by another worker")

	// Retry engine errors
	ErrRetryExhausted   = errors.New("retry attempts exhausted")
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// Configuration errors
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Message errors
	ErrInvalidMessage = errors.New("invalid tile job message")
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string // Operation that failed (e.g., "store.ClaimJob")
	Kind    string // Error kind (e.g., "store", "imagery", "vision")
	ID      string // Optional ID of the entity involved (run_id or tile_id)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, kind string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// ErrorCode is the closed set of failure codes recorded in
// TileJobs.error_code. Codes are stable identifiers used for CloudWatch
// and DynamoDB debugging queries.
type ErrorCode string

const (
	// Mapbox errors
	CodeMapbox429        ErrorCode = "MAPBOX_429"
	CodeMapbox5XX        ErrorCode = "MAPBOX_5XX"
	CodeMapbox4XX        ErrorCode = "MAPBOX_4XX"
	CodeMapboxBadRequest ErrorCode = "MAPBOX_BAD_REQUEST"
	CodeMapboxTimeout    ErrorCode = "MAPBOX_TIMEOUT"

	// Google errors
	CodeGoogle429        ErrorCode = "GOOGLE_429"
	CodeGoogle5XX        ErrorCode = "GOOGLE_5XX"
	CodeGoogle4XX        ErrorCode = "GOOGLE_4XX"
	CodeGoogleBadRequest ErrorCode = "GOOGLE_BAD_REQUEST"
	CodeGoogleTimeout    ErrorCode = "GOOGLE_TIMEOUT"

	// OpenAI errors
	CodeOpenAI429         ErrorCode = "OPENAI_429"
	CodeOpenAI5XX         ErrorCode = "OPENAI_5XX"
	CodeOpenAI4XX         ErrorCode = "OPENAI_4XX"
	CodeOpenAIBadResponse ErrorCode = "OPENAI_BAD_RESPONSE"
	CodeOpenAITimeout     ErrorCode = "OPENAI_TIMEOUT"

	// S3 errors
	CodeS3PutFailed ErrorCode = "S3_PUT_FAILED"
	CodeS3GetFailed ErrorCode = "S3_GET_FAILED"

	// Schema/validation errors
	CodeSchemaInvalid     ErrorCode = "SCHEMA_INVALID"
	CodeMessageParseError ErrorCode = "MESSAGE_PARSE_ERROR"

	// Processing errors
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	CodeClaimFailed      ErrorCode = "CLAIM_FAILED"
	CodeUnknownError     ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCodeFromHTTPStatus maps an HTTP status code to an ErrorCode for a
// given upstream source ("mapbox", "google", or "openai").
func ErrorCodeFromHTTPStatus(source string, statusCode int) ErrorCode {
	var suffix string
	switch {
	case statusCode == 429:
		suffix = "_429"
	case statusCode >= 500 && statusCode < 600:
		suffix = "_5XX"
	case statusCode == 400:
		suffix = "_BAD_REQUEST"
	case statusCode > 400 && statusCode < 500:
		suffix = "_4XX"
	default:
		return CodeUnknownError
	}

	switch source {
	case "mapbox", "google", "openai":
		return ErrorCode(strings.ToUpper(source) + suffix)
	default:
		return CodeUnknownError
	}
}

package pipeline

import (
	"errors"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/imagery"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/storage"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/vision"
)

// ClassifyError maps a processing failure to the closed error-code set
// recorded on the job row. Typed errors from the stage packages carry
// enough context to pick a precise code; anything else is UNKNOWN_ERROR.
func ClassifyError(err error) core.ErrorCode {
	var fetchErr *imagery.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.StatusCode == 0 {
			if fetchErr.Source == schema.SourceGoogle {
				return core.CodeGoogleTimeout
			}
			return core.CodeMapboxTimeout
		}
		return core.ErrorCodeFromHTTPStatus(string(fetchErr.Source), fetchErr.StatusCode)
	}

	var apiErr *vision.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 0 {
			return core.CodeOpenAITimeout
		}
		return core.ErrorCodeFromHTTPStatus("openai", apiErr.StatusCode)
	}

	var analysisErr *vision.AnalysisError
	if errors.As(err, &analysisErr) {
		return core.CodeOpenAIBadResponse
	}

	var opErr *storage.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "get" {
			return core.CodeS3GetFailed
		}
		return core.CodeS3PutFailed
	}

	switch {
	case errors.Is(err, core.ErrDeadlineExceeded):
		return core.CodeDeadlineExceeded
	case errors.Is(err, core.ErrRetryExhausted):
		return core.CodeRetryExhausted
	case errors.Is(err, core.ErrInvalidMessage):
		return core.CodeSchemaInvalid
	}

	return core.CodeUnknownError
}

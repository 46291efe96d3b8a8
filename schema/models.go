// Package schema defines the message and item models for the tile
// pipeline, including the canonical tile identity every other component
// keys on.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
)

// DefaultGoogleZoom is the effective zoom for Google coordinate messages
// that omit one.
const DefaultGoogleZoom = 18

// coordPrecision is the number of fractional digits in coordinate-based
// tile ids and S3 keys.
const coordPrecision = 6

// ImagerySource identifies the upstream provider for a tile job.
type ImagerySource string

const (
	SourceMapbox ImagerySource = "mapbox"
	SourceGoogle ImagerySource = "google"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunCreated   RunStatus = "CREATED"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// JobStatus is the lifecycle status of a tile job. PENDING is implicit:
// a job with no stored item is pending.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// SourceRef records the manifest a message originated from.
type SourceRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// TileJobMessage is the SQS message body for one tile job.
//
// For Mapbox: z, x, y are required. For Google: lat, lon are required and
// zoom defaults to DefaultGoogleZoom. The tile id is always computed from
// the numeric fields; any tile_id carried by a producer is ignored so
// mismatched keys cannot split a job's identity.
type TileJobMessage struct {
	RunID         string        `json:"run_id"`
	ImagerySource ImagerySource `json:"imagery_source"`
	Source        SourceRef     `json:"source"`

	// Mapbox tile fields
	Z      *int   `json:"z,omitempty"`
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
	Region string `json:"region,omitempty"`

	// Google coordinate fields
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	Zoom *int     `json:"zoom,omitempty"`
}

// ParseTileJobMessage decodes and validates a raw SQS message body.
// Unknown fields are ignored; validation failures make the message poison.
func ParseTileJobMessage(body []byte) (*TileJobMessage, error) {
	var msg TileJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the shape constraints for the message's imagery source.
func (m *TileJobMessage) Validate() error {
	if m.RunID == "" {
		return fmt.Errorf("%w: run_id is required", core.ErrInvalidMessage)
	}

	switch m.ImagerySource {
	case SourceMapbox:
		if m.Z == nil || m.X == nil || m.Y == nil {
			return fmt.Errorf("%w: mapbox messages require z, x, and y", core.ErrInvalidMessage)
		}
		if *m.Z < 0 || *m.Z > 22 {
			return fmt.Errorf("%w: z must be in [0,22], got %d", core.ErrInvalidMessage, *m.Z)
		}
		if *m.X < 0 || *m.Y < 0 {
			return fmt.Errorf("%w: x and y must be non-negative", core.ErrInvalidMessage)
		}
	case SourceGoogle:
		if m.Lat == nil || m.Lon == nil {
			return fmt.Errorf("%w: google messages require lat and lon", core.ErrInvalidMessage)
		}
		if *m.Lat < -90 || *m.Lat > 90 {
			return fmt.Errorf("%w: lat must be in [-90,90], got %v", core.ErrInvalidMessage, *m.Lat)
		}
		if *m.Lon < -180 || *m.Lon > 180 {
			return fmt.Errorf("%w: lon must be in [-180,180], got %v", core.ErrInvalidMessage, *m.Lon)
		}
		if m.Zoom != nil && (*m.Zoom < 0 || *m.Zoom > 22) {
			return fmt.Errorf("%w: zoom must be in [0,22], got %d", core.ErrInvalidMessage, *m.Zoom)
		}
	default:
		return fmt.Errorf("%w: unknown imagery_source %q", core.ErrInvalidMessage, m.ImagerySource)
	}

	return nil
}

// TileID computes the canonical tile id for this message. Identity is
// always derived from the numeric fields so duplicate deliveries converge
// on a single job row.
func (m *TileJobMessage) TileID() string {
	if m.ImagerySource == SourceMapbox {
		return fmt.Sprintf("%d/%d/%d", *m.Z, *m.X, *m.Y)
	}
	return TileIDForCoords(*m.Lat, *m.Lon, m.EffectiveZoom())
}

// EffectiveZoom returns the zoom level, applying the Google default when
// the message omits one.
func (m *TileJobMessage) EffectiveZoom() int {
	if m.Zoom != nil {
		return *m.Zoom
	}
	return DefaultGoogleZoom
}

// TileIDForCoords builds the canonical id for a coordinate job. Latitude
// and longitude are formatted to exactly six fractional digits with
// correctly-rounded (ties-to-even) conversion, so two messages whose
// coordinates round to the same decimal string share one identity.
func TileIDForCoords(lat, lon float64, zoom int) string {
	return fmt.Sprintf("coord:%s,%s,%d", FormatCoord(lat), FormatCoord(lon), zoom)
}

// FormatCoord formats a coordinate to the canonical six-decimal form.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', coordPrecision, 64)
}

// S3Checkpoint is the durable location of already-uploaded imagery.
type S3Checkpoint struct {
	Bucket string
	Key    string
}

// ClaimResult is the outcome kind of a claim attempt.
type ClaimResult string

const (
	Claimed          ClaimResult = "claimed"
	AlreadyCompleted ClaimResult = "already_completed"
	LockedByOther    ClaimResult = "locked_by_other"
)

// ClaimOutcome is the result of attempting to claim a job.
//
// Attempt and ClaimedAtEpoch are populated only when Result is Claimed.
// Checkpoint is populated when a previous attempt already uploaded the
// imagery, letting the processor skip the upstream fetch.
type ClaimOutcome struct {
	Result         ClaimResult
	TileID         string
	Attempt        int
	ClaimedAtEpoch int64
	Checkpoint     *S3Checkpoint
}

// ProcessResult is the result of processing a single tile message.
type ProcessResult struct {
	Status   string // "completed" or "skipped"
	TileID   string
	StatusAI string
	S3Key    string
	Reason   string
}

// RunItem represents a row in the Runs table.
type RunItem struct {
	RunID           string    `dynamodbav:"run_id"`
	Status          RunStatus `dynamodbav:"status"`
	TotalTiles      int64     `dynamodbav:"total_tiles"`
	CompletedTiles  int64     `dynamodbav:"completed_tiles"`
	FailedTiles     int64     `dynamodbav:"failed_tiles"`
	SourceBucket    string    `dynamodbav:"source_bucket"`
	SourceKey       string    `dynamodbav:"source_key"`
	CreatedAtEpoch  int64     `dynamodbav:"created_at_epoch"`
	FinishedAtEpoch int64     `dynamodbav:"finished_at_epoch,omitempty"`
}

// Terminal reports whether every tile of the run has reached a terminal
// state. The ingest driver sets total_tiles after the last batch is sent,
// so completed+failed can briefly exceed a zero total; callers must use
// this predicate rather than comparing counters directly.
func (r *RunItem) Terminal() bool {
	return r.TotalTiles > 0 && r.CompletedTiles+r.FailedTiles >= r.TotalTiles
}

// TileJobItem represents a row in the TileJobs table as read back from
// the store. Unlike TileJobMessage, tile_id and the coordinate fields are
// already persisted.
type TileJobItem struct {
	RunID              string        `dynamodbav:"run_id"`
	TileID             string        `dynamodbav:"tile_id"`
	Status             JobStatus     `dynamodbav:"status"`
	Attempts           int           `dynamodbav:"attempts"`
	LockUntilEpoch     int64         `dynamodbav:"lock_until_epoch,omitempty"`
	StartedAtEpoch     int64         `dynamodbav:"started_at_epoch,omitempty"`
	LastClaimedAtEpoch int64         `dynamodbav:"last_claimed_at_epoch,omitempty"`
	FinishedAtEpoch    int64         `dynamodbav:"finished_at_epoch,omitempty"`
	ErrorCode          string        `dynamodbav:"error_code,omitempty"`
	ErrorMessage       string        `dynamodbav:"error_message,omitempty"`
	ImagerySource      ImagerySource `dynamodbav:"imagery_source"`

	Z      *int     `dynamodbav:"z,omitempty"`
	X      *int     `dynamodbav:"x,omitempty"`
	Y      *int     `dynamodbav:"y,omitempty"`
	Region string   `dynamodbav:"region,omitempty"`
	Lat    *float64 `dynamodbav:"lat,omitempty"`
	Lon    *float64 `dynamodbav:"lon,omitempty"`
	Zoom   *int     `dynamodbav:"zoom,omitempty"`

	S3Bucket    string                 `dynamodbav:"s3_bucket,omitempty"`
	S3Key       string                 `dynamodbav:"s3_key,omitempty"`
	StatusAI    string                 `dynamodbav:"status_ai,omitempty"`
	Reasoning   string                 `dynamodbav:"reasoning,omitempty"`
	OpenAIUsage map[string]interface{} `dynamodbav:"openai_usage,omitempty"`
	DurationMS  int64                  `dynamodbav:"duration_ms,omitempty"`
}

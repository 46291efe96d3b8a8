// Package pipeline orchestrates the processing of one tile job: claim,
// fetch or restore imagery, upload, classify, and record the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/storage"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/store"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/vision"
)

// MinRemainingMSForOpenAI is the minimum time budget required to start
// the vision call. With a 120s model timeout a 20s floor keeps the
// worker from starting a call it cannot finish.
const MinRemainingMSForOpenAI = 20_000

// JobStore is the tile-job persistence surface used by the processor.
// Implemented by store.Store.
type JobStore interface {
	ClaimJob(ctx context.Context, message *schema.TileJobMessage, lockSeconds int64) (*schema.ClaimOutcome, error)
	CheckpointS3(ctx context.Context, runID, tileID, bucket, key string) error
	CompleteJob(ctx context.Context, runID, tileID string, p store.CompleteParams) error
	FailJob(ctx context.Context, runID, tileID string, errorCode core.ErrorCode, errorMessage string) error
	UpdateRunCounters(ctx context.Context, runID string, completedDelta, failedDelta int64) (*store.RunCounters, error)
}

// ObjectStore is the imagery object-store surface used by the processor.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// ImageFetcher fetches imagery from the upstream provider.
type ImageFetcher interface {
	Fetch(ctx context.Context, m *schema.TileJobMessage, deadlineEpoch float64) ([]byte, error)
}

// Analyzer classifies imagery.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageBytes []byte, contentType string, deadlineEpoch float64) (*vision.AgentOutput, map[string]interface{}, error)
}

// Processor runs the tile state machine.
type Processor struct {
	jobs      JobStore
	objects   ObjectStore
	fetcher   ImageFetcher
	analyzer  Analyzer
	bucket    string
	lockSecs  int64
	logger    core.Logger
	telemetry core.Telemetry

	now func() time.Time
}

// Config wires a Processor.
type Config struct {
	Jobs        JobStore
	Objects     ObjectStore
	Fetcher     ImageFetcher
	Analyzer    Analyzer
	S3Bucket    string
	LockSeconds int64
	Logger      core.Logger
	Telemetry   core.Telemetry
}

// New creates a Processor. Logger and Telemetry may be nil.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Processor{
		jobs:      cfg.Jobs,
		objects:   cfg.Objects,
		fetcher:   cfg.Fetcher,
		analyzer:  cfg.Analyzer,
		bucket:    cfg.S3Bucket,
		lockSecs:  cfg.LockSeconds,
		logger:    logger,
		telemetry: telemetry,
		now:       time.Now,
	}
}

// ProcessTile processes a single claimed-or-claimable tile job.
//
// deadlineEpoch is the absolute Unix-seconds deadline for this message;
// zero disables time budgeting. On failure the terminal FAILED state is
// written and the original error is returned so the caller leaves the
// message for redelivery.
func (p *Processor) ProcessTile(ctx context.Context, m *schema.TileJobMessage, deadlineEpoch float64) (*schema.ProcessResult, error) {
	runID := m.RunID
	tileID := m.TileID()

	ctx, span := p.telemetry.StartSpan(ctx, "pipeline.process_tile")
	defer span.End()
	span.SetAttribute("run_id", runID)
	span.SetAttribute("tile_id", tileID)

	p.logger.Info("Processing tile", map[string]interface{}{
		"operation": "process_tile",
		"run_id":    runID,
		"tile_id":   tileID,
	})

	var claim *schema.ClaimOutcome
	err := p.stage(ctx, "claim", runID, tileID, 0, func(ctx context.Context) error {
		var err error
		claim, err = p.jobs.ClaimJob(ctx, m, p.lockSecs)
		return err
	})
	if err != nil {
		// The claim write never happened; nothing durable to record.
		span.RecordError(err)
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	switch claim.Result {
	case schema.AlreadyCompleted:
		p.logger.Info("Job already completed, skipping", map[string]interface{}{
			"operation": "process_tile",
			"run_id":    runID,
			"tile_id":   tileID,
		})
		return &schema.ProcessResult{
			Status: "skipped",
			TileID: tileID,
			Reason: "already_completed",
		}, nil
	case schema.LockedByOther:
		p.logger.Info("Job locked by another worker, letting the queue retry", map[string]interface{}{
			"operation": "process_tile",
			"run_id":    runID,
			"tile_id":   tileID,
		})
		return nil, fmt.Errorf("%w: %s", core.ErrJobLockedByOther, tileID)
	}

	attempt := claim.Attempt
	if attempt < 1 {
		attempt = 1
	}
	span.SetAttribute("attempt", attempt)

	result, err := p.processClaimed(ctx, m, claim, attempt, deadlineEpoch)
	if err != nil {
		span.RecordError(err)
		p.recordFailure(ctx, runID, tileID, attempt, err)
		return nil, err
	}
	return result, nil
}

func (p *Processor) processClaimed(ctx context.Context, m *schema.TileJobMessage, claim *schema.ClaimOutcome, attempt int, deadlineEpoch float64) (*schema.ProcessResult, error) {
	runID := m.RunID
	tileID := claim.TileID
	_, contentType := storage.KeyForMessage(m)

	var imageBytes []byte
	var s3Bucket, s3Key string

	if claim.Checkpoint != nil {
		s3Bucket, s3Key = claim.Checkpoint.Bucket, claim.Checkpoint.Key
		p.logger.Info("Checkpoint found, downloading instead of fetching", map[string]interface{}{
			"operation": "process_tile",
			"run_id":    runID,
			"tile_id":   tileID,
			"attempt":   attempt,
			"s3_key":    s3Key,
		})
		err := p.stage(ctx, "download_s3", runID, tileID, attempt, func(ctx context.Context) error {
			var err error
			imageBytes, err = p.objects.Download(ctx, s3Bucket, s3Key)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		err := p.stage(ctx, "fetch_imagery", runID, tileID, attempt, func(ctx context.Context) error {
			var err error
			imageBytes, err = p.fetcher.Fetch(ctx, m, deadlineEpoch)
			return err
		})
		if err != nil {
			return nil, err
		}

		s3Bucket = p.bucket
		s3Key, _ = storage.KeyForMessage(m)
		err = p.stage(ctx, "upload_s3", runID, tileID, attempt, func(ctx context.Context) error {
			return p.objects.Upload(ctx, s3Bucket, s3Key, imageBytes, contentType)
		})
		if err != nil {
			return nil, err
		}

		// Record the checkpoint before the vision call so a retry can
		// resume from the uploaded imagery.
		err = p.stage(ctx, "checkpoint_s3", runID, tileID, attempt, func(ctx context.Context) error {
			return p.jobs.CheckpointS3(ctx, runID, tileID, s3Bucket, s3Key)
		})
		if err != nil {
			return nil, err
		}
	}

	if deadlineEpoch > 0 {
		remainingMS := (deadlineEpoch - float64(p.now().UnixNano())/float64(time.Second)) * 1000
		if remainingMS < MinRemainingMSForOpenAI {
			return nil, fmt.Errorf("%w: only %.0fms remaining, aborting before vision call",
				core.ErrDeadlineExceeded, remainingMS)
		}
	}

	var output *vision.AgentOutput
	var usage map[string]interface{}
	err := p.stage(ctx, "openai", runID, tileID, attempt, func(ctx context.Context) error {
		var err error
		output, usage, err = p.analyzer.AnalyzeImage(ctx, imageBytes, contentType, deadlineEpoch)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, "complete_job", runID, tileID, attempt, func(ctx context.Context) error {
		return p.jobs.CompleteJob(ctx, runID, tileID, store.CompleteParams{
			S3Bucket:       s3Bucket,
			S3Key:          s3Key,
			StatusAI:       string(output.Status),
			Reasoning:      output.Reasoning,
			Usage:          usage,
			ClaimedAtEpoch: claim.ClaimedAtEpoch,
		})
	})
	if err != nil {
		return nil, err
	}

	// Counters move only after the terminal write so a crash between the
	// two under-counts rather than double-counts.
	err = p.stage(ctx, "update_counters", runID, tileID, attempt, func(ctx context.Context) error {
		_, err := p.jobs.UpdateRunCounters(ctx, runID, 1, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Tile processed successfully", map[string]interface{}{
		"operation": "process_tile",
		"run_id":    runID,
		"tile_id":   tileID,
		"attempt":   attempt,
		"status_ai": string(output.Status),
	})

	return &schema.ProcessResult{
		Status:   "completed",
		TileID:   tileID,
		StatusAI: string(output.Status),
		S3Key:    s3Key,
	}, nil
}

// recordFailure writes the terminal FAILED state and bumps the failed
// counter. Store errors here are logged and suppressed; the original
// processing error still propagates to the caller.
func (p *Processor) recordFailure(ctx context.Context, runID, tileID string, attempt int, procErr error) {
	errorCode := ClassifyError(procErr)

	p.logger.Error("Tile processing failed", map[string]interface{}{
		"operation":  "process_tile",
		"run_id":     runID,
		"tile_id":    tileID,
		"attempt":    attempt,
		"error_code": string(errorCode),
		"error":      procErr.Error(),
	})

	if err := p.jobs.FailJob(ctx, runID, tileID, errorCode, procErr.Error()); err != nil {
		p.logger.Error("Failed to record job failure", map[string]interface{}{
			"operation": "fail_job",
			"run_id":    runID,
			"tile_id":   tileID,
			"error":     err.Error(),
		})
		return
	}
	if _, err := p.jobs.UpdateRunCounters(ctx, runID, 0, 1); err != nil {
		p.logger.Error("Failed to bump failed counter", map[string]interface{}{
			"operation": "update_counters",
			"run_id":    runID,
			"tile_id":   tileID,
			"error":     err.Error(),
		})
	}
}
